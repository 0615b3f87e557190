package dumper

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/flux"
	"voicelink/pkg/logic/resampler"
)

// PCMDumper 把音频写成裸 PCM16 小端文件
// ffplay -f s16le -ar 16000 -ac 1 test.pcm
type PCMDumper struct {
	name      string
	fileName  string
	format    codec.Format
	mu        sync.Mutex
	file      *os.File
	w         *bufio.Writer
	written   int64
	converter *resampler.Converter
}

func NewPCMDumper(fileName string, format codec.Format) (*PCMDumper, error) {
	if err := ensureDir(fileName); err != nil {
		return nil, err
	}

	file, err := os.Create(fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create PCM file: %w", err)
	}

	logger.Info("Start component: PCMDumper (%s)", fileName)
	return &PCMDumper{
		name:      "PCMDumper",
		fileName:  fileName,
		format:    format,
		file:      file,
		w:         bufio.NewWriter(file),
		converter: resampler.NewConverter(format),
	}, nil
}

func (d *PCMDumper) Name() string {
	return d.name
}

func (d *PCMDumper) Format() codec.Format {
	return d.format
}

func (d *PCMDumper) Write(ctx context.Context, chunk *codec.AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return flux.ErrReleased
	}

	payload := chunk.Payload()
	if chunk.Format() != d.format {
		samples, err := d.converter.Convert(chunk)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		payload = codec.SamplesToBytes(samples)
	}

	n, err := d.w.Write(payload)
	d.written += int64(n)
	if err != nil {
		logger.Error("**%s** Failed to write PCM data: %v", d.name, err)
		return err
	}
	return nil
}

func (d *PCMDumper) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.converter.Reset()
	return nil
}

func (d *PCMDumper) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}
	flushErr := d.w.Flush()
	closeErr := d.file.Close()
	d.file = nil
	d.converter.Close()
	logger.Info("**%s** closed %s, %d bytes of audio", d.name, d.fileName, d.written)
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
