package codec

import (
	"fmt"
	"time"

	"github.com/hraban/opus"
)

// OpusFrameDuration 每个 Opus 帧的时长
const OpusFrameDuration = 20 * time.Millisecond

// OpusEncoder 把任意长度的 PCM 切成 20ms 的帧编码，不足一帧的部分留到下次
type OpusEncoder struct {
	opusEncoder *opus.Encoder
	format      Format
	frameSize   int // 每帧的采样点数（含所有声道）
	pending     []int16
	timestamp   uint32
}

func NewOpusEncoder(sampleRate, channels int) (*OpusEncoder, error) {
	opusEncoder, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus encoder: %w", err)
	}

	format := Format{SampleRate: sampleRate, Channels: channels}
	return &OpusEncoder{
		opusEncoder: opusEncoder,
		format:      format,
		frameSize:   format.SamplesPerFrame(OpusFrameDuration), // 48kHz 双声道为 1920
		pending:     make([]int16, 0),
	}, nil
}

// Encode 编码所有完整的帧
func (e *OpusEncoder) Encode(samples []int16) ([]*EncodedFrame, error) {
	e.pending = append(e.pending, samples...)

	var frames []*EncodedFrame
	for len(e.pending) >= e.frameSize {
		frame, err := e.encodeFrame(e.pending[:e.frameSize])
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
		e.pending = e.pending[e.frameSize:]
	}

	// 避免底层数组无限增长
	if len(e.pending) == 0 {
		e.pending = e.pending[:0:0]
	}
	return frames, nil
}

// Flush 用静音补齐剩余数据并编码
func (e *OpusEncoder) Flush() ([]*EncodedFrame, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	padded := make([]int16, e.frameSize)
	copy(padded, e.pending)
	e.pending = e.pending[:0:0]

	frame, err := e.encodeFrame(padded)
	if err != nil {
		return nil, err
	}
	return []*EncodedFrame{frame}, nil
}

// Reset 丢弃尚未编码的数据
func (e *OpusEncoder) Reset() {
	e.pending = e.pending[:0:0]
}

func (e *OpusEncoder) Format() Format {
	return e.format
}

func (e *OpusEncoder) encodeFrame(pcm []int16) (*EncodedFrame, error) {
	opusFrame := make([]byte, 2048)
	n, err := e.opusEncoder.Encode(pcm, opusFrame)
	if err != nil {
		return nil, fmt.Errorf("opus encoding failed: %w", err)
	}
	frame := NewEncodedFrame(opusFrame[:n], e.timestamp, OpusFrameDuration)
	e.timestamp += uint32(e.frameSize / e.format.Channels)
	return frame, nil
}
