package dumper

import (
	"context"
	"fmt"
	"sync"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/flux"
	"voicelink/pkg/logic/resampler"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// OggDumper 把音频编码为 opus 写入 OGG 文件
type OggDumper struct {
	name      string
	fileName  string
	mu        sync.Mutex
	oggFile   *oggwriter.OggWriter
	encoder   *codec.OpusEncoder
	converter *resampler.Converter
	seq       uint16
}

// NewOggDumper opus 固定 48kHz，写入的音频先重采样
func NewOggDumper(fileName string, channels int) (*OggDumper, error) {
	if err := ensureDir(fileName); err != nil {
		return nil, err
	}

	encoder, err := codec.NewOpusEncoder(48000, channels)
	if err != nil {
		return nil, err
	}

	oggFile, err := oggwriter.New(fileName, 48000, uint16(channels))
	if err != nil {
		return nil, fmt.Errorf("failed to create OGG file: %w", err)
	}

	logger.Info("Start component: OggDumper (%s)", fileName)
	return &OggDumper{
		name:      "OggDumper",
		fileName:  fileName,
		oggFile:   oggFile,
		encoder:   encoder,
		converter: resampler.NewConverter(encoder.Format()),
	}, nil
}

func (d *OggDumper) Name() string {
	return d.name
}

func (d *OggDumper) Format() codec.Format {
	return d.encoder.Format()
}

func (d *OggDumper) Write(ctx context.Context, chunk *codec.AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.oggFile == nil {
		return flux.ErrReleased
	}

	samples, err := d.converter.Convert(chunk)
	if err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	frames, err := d.encoder.Encode(samples)
	if err != nil {
		return fmt.Errorf("%s: %w", d.name, err)
	}
	return d.writeFrames(frames)
}

func (d *OggDumper) writeFrames(frames []*codec.EncodedFrame) error {
	for _, frame := range frames {
		rtpPacket := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    111, // Opus 的默认 payload type
				SequenceNumber: d.seq,
				Timestamp:      frame.Timestamp(),
			},
			Payload: frame.Payload(),
		}
		d.seq++

		if err := d.oggFile.WriteRTP(rtpPacket); err != nil {
			logger.Error("**%s** Failed to write RTP to OGG: %v", d.name, err)
			return err
		}
	}
	return nil
}

func (d *OggDumper) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.converter.Reset()
	return nil
}

// Release 补齐最后一帧并关闭文件
func (d *OggDumper) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.oggFile == nil {
		return nil
	}
	if frames, err := d.encoder.Flush(); err == nil {
		d.writeFrames(frames)
	}
	err := d.oggFile.Close()
	d.oggFile = nil
	d.converter.Close()
	logger.Info("**%s** closed %s", d.name, d.fileName)
	return err
}
