package dumper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"voicelink/internal/protocol/wav"
	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/flux"
	"voicelink/pkg/logic/resampler"
)

// WAVDumper 把合成的语音写入 WAV 文件，实现 flux.Sink
// ffplay test.wav
type WAVDumper struct {
	name      string
	fileName  string
	format    codec.Format
	mu        sync.Mutex
	writer    *wav.Writer
	converter *resampler.Converter
}

// NewWAVDumper 创建新的 WAV 转储器，写入的音频统一转换为 format
func NewWAVDumper(fileName string, format codec.Format) (*WAVDumper, error) {
	// 确保目录存在
	if err := ensureDir(fileName); err != nil {
		return nil, err
	}

	writer, err := wav.Create(fileName, format)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV writer: %w", err)
	}

	logger.Info("Start component: WAVDumper (%s)", fileName)
	return &WAVDumper{
		name:      "WAVDumper",
		fileName:  fileName,
		format:    format,
		writer:    writer,
		converter: resampler.NewConverter(format),
	}, nil
}

func (d *WAVDumper) Name() string {
	return d.name
}

func (d *WAVDumper) Format() codec.Format {
	return d.format
}

func (d *WAVDumper) Write(ctx context.Context, chunk *codec.AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writer == nil {
		return flux.ErrReleased
	}
	samples, err := d.converter.Convert(chunk)
	if err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	if err := d.writer.Write(codec.NewAudioChunkFromSamples(samples, chunk.Seq(), chunk.CapturedAt(), d.format)); err != nil {
		logger.Error("**%s** Failed to write chunk: %v", d.name, err)
		return err
	}
	return nil
}

func (d *WAVDumper) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.converter.Reset()
	return nil
}

// Release 回写文件头并关闭文件
func (d *WAVDumper) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writer == nil {
		return nil
	}
	err := d.writer.Close()
	logger.Info("**%s** closed %s, %v of audio", d.name, d.fileName, d.writer.Duration())
	d.writer = nil
	d.converter.Close()
	return err
}

func ensureDir(fileName string) error {
	dir := filepath.Dir(fileName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
