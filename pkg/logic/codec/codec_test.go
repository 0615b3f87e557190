package codec

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioChunk_IsImmutableCopy(t *testing.T) {
	payload := []byte{1, 0, 2, 0}
	format := Format{SampleRate: 16000, Channels: 1}
	now := time.Now()

	chunk := NewAudioChunk(payload, 7, now, format)
	payload[0] = 99

	assert.Equal(t, []byte{1, 0, 2, 0}, chunk.Payload())
	assert.Equal(t, []int16{1, 2}, chunk.Samples())
	assert.Equal(t, uint64(7), chunk.Seq())
	assert.Equal(t, now, chunk.CapturedAt())
	assert.Equal(t, format, chunk.Format())
}

func TestFormat_FrameMath(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2}
	assert.Equal(t, 1920, f.SamplesPerFrame(20*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, f.Duration(1920))

	mono := Format{SampleRate: 16000, Channels: 1}
	chunk := NewAudioChunkFromSamples(make([]int16, 320), 0, time.Now(), mono)
	assert.Equal(t, 20*time.Millisecond, chunk.Duration())
	assert.Equal(t, 640, chunk.Len())
}

func TestSamplesBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, math.MaxInt16, math.MinInt16}
	assert.Equal(t, samples, BytesToSamples(SamplesToBytes(samples)))
	assert.Len(t, BytesToSamples([]byte{1, 2, 3}), 1)
}

func sine(n, channels int) []int16 {
	out := make([]int16, n*channels)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/48000))
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}

func TestOpusEncoder_FramesAndDecode(t *testing.T) {
	enc, err := NewOpusEncoder(48000, 2)
	require.NoError(t, err)
	dec, err := NewOpusDecoder(48000, 2)
	require.NoError(t, err)

	// 2.5 帧：编码出 2 帧，剩余半帧留在缓冲区
	frames, err := enc.Encode(sine(2400, 2))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, uint32(0), frames[0].Timestamp())
	assert.Equal(t, uint32(960), frames[1].Timestamp())
	assert.Equal(t, OpusFrameDuration, frames[0].Duration())

	flushed, err := enc.Flush()
	require.NoError(t, err)
	require.Len(t, flushed, 1)
	assert.Equal(t, uint32(1920), flushed[0].Timestamp())

	pcm, err := dec.Decode(frames[0].Payload())
	require.NoError(t, err)
	assert.Len(t, pcm, 1920)

	empty, err := dec.Decode(nil)
	assert.NoError(t, err)
	assert.Nil(t, empty)
}

func TestOpusEncoder_Reset(t *testing.T) {
	enc, err := NewOpusEncoder(48000, 1)
	require.NoError(t, err)

	frames, err := enc.Encode(sine(500, 1))
	require.NoError(t, err)
	assert.Empty(t, frames)

	enc.Reset()
	flushed, err := enc.Flush()
	assert.NoError(t, err)
	assert.Empty(t, flushed)
}
