package codec

import (
	"fmt"
	"strings"

	"github.com/hraban/opus"
)

// maxOpusFrameSamples 120ms@48kHz，单声道 Opus 帧最大采样数
const maxOpusFrameSamples = 5760

type OpusDecoder struct {
	opusDecoder *opus.Decoder
	format      Format
	pcm         []int16
}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	opusDecoder, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus decoder: %w", err)
	}

	return &OpusDecoder{
		opusDecoder: opusDecoder,
		format:      Format{SampleRate: sampleRate, Channels: channels},
		pcm:         make([]int16, maxOpusFrameSamples*channels),
	}, nil
}

// Decode 解码一个 Opus 包，空包返回 nil
func (d *OpusDecoder) Decode(payload []byte) ([]int16, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	n, err := d.opusDecoder.Decode(payload, d.pcm)
	if err != nil {
		if strings.Contains(err.Error(), "no data supplied") {
			return nil, nil
		}
		return nil, fmt.Errorf("opus decoding failed: %w", err)
	}

	out := make([]int16, n*d.format.Channels)
	copy(out, d.pcm[:n*d.format.Channels])
	return out, nil
}

func (d *OpusDecoder) Format() Format {
	return d.format
}
