package dumper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voicelink/internal/protocol/wav"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/flux"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mono16k = codec.Format{SampleRate: 16000, Channels: 1}

var (
	_ flux.Sink = (*WAVDumper)(nil)
	_ flux.Sink = (*PCMDumper)(nil)
	_ flux.Sink = (*OggDumper)(nil)
)

func TestWAVDumper_WritesReadableFile(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "out", "reply.wav")
	d, err := NewWAVDumper(fileName, mono16k)
	require.NoError(t, err)

	samples := []int16{1, -1, 2, -2, 3, -3}
	require.NoError(t, d.Write(context.Background(), codec.NewAudioChunkFromSamples(samples, 0, time.Now(), mono16k)))
	require.NoError(t, d.Release())
	require.NoError(t, d.Release())

	assert.ErrorIs(t, d.Write(context.Background(), codec.NewAudioChunkFromSamples(samples, 1, time.Now(), mono16k)), flux.ErrReleased)

	f, err := os.Open(fileName)
	require.NoError(t, err)
	defer f.Close()
	r, err := wav.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, mono16k, r.Format())

	got := make([]int16, 16)
	n, _ := r.ReadSamples(got)
	assert.Equal(t, samples, got[:n])
}

func TestPCMDumper_ConvertsChannels(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "reply.pcm")
	d, err := NewPCMDumper(fileName, mono16k)
	require.NoError(t, err)

	stereo := codec.Format{SampleRate: 16000, Channels: 2}
	require.NoError(t, d.Write(context.Background(), codec.NewAudioChunkFromSamples([]int16{10, 30, -10, -30}, 0, time.Now(), stereo)))
	require.NoError(t, d.Write(context.Background(), codec.NewAudioChunkFromSamples([]int16{7}, 1, time.Now(), mono16k)))
	require.NoError(t, d.Release())

	data, err := os.ReadFile(fileName)
	require.NoError(t, err)
	assert.Equal(t, []int16{20, -20, 7}, codec.BytesToSamples(data))
}

func TestOggDumper_WritesPages(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "reply.ogg")
	d, err := NewOggDumper(fileName, 1)
	require.NoError(t, err)

	// 100ms 的 48kHz 单声道静音，正好 5 帧
	chunk := codec.NewAudioChunkFromSamples(make([]int16, 4800), 0, time.Now(), codec.Format{SampleRate: 48000, Channels: 1})
	require.NoError(t, d.Write(context.Background(), chunk))
	require.NoError(t, d.Release())

	stat, err := os.Stat(fileName)
	require.NoError(t, err)
	assert.Greater(t, stat.Size(), int64(0))
}

func TestDumper_CancelledContext(t *testing.T) {
	d, err := NewPCMDumper(filepath.Join(t.TempDir(), "x.pcm"), mono16k)
	require.NoError(t, err)
	defer d.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Write(ctx, codec.NewAudioChunk([]byte{0, 0}, 0, time.Now(), mono16k)), context.Canceled)
}
