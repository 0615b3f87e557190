// Package wav 读写 16 位 PCM 的 WAV 文件，音频以 codec.AudioChunk 的形式进出
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"voicelink/pkg/logic/codec"
)

var (
	// ErrFormatMismatch 写入的音频块与文件的采样率或声道数不一致
	ErrFormatMismatch = errors.New("wav: chunk format does not match file")
	// ErrTooLarge data 块超过了 32 位长度字段能表示的大小
	ErrTooLarge = errors.New("wav: data chunk exceeds 4GiB")
)

const (
	headerSize    = 44
	fmtChunkSize  = 16
	formatPCM     = 1
	bitsPerSample = 16
	maxDataSize   = math.MaxUint32 - (headerSize - 8)
)

// fmtChunk 是 fmt 块中 PCM 用到的 16 个字节
type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * BlockAlign
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16
}

func newFmtChunk(f codec.Format) fmtChunk {
	blockAlign := uint16(f.Channels * bitsPerSample / 8)
	return fmtChunk{
		AudioFormat:   formatPCM,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: bitsPerSample,
	}
}

func (c fmtChunk) validate() error {
	if c.NumChannels == 0 || c.SampleRate == 0 {
		return fmt.Errorf("empty format: channels=%d sample_rate=%d", c.NumChannels, c.SampleRate)
	}
	if c.AudioFormat != formatPCM {
		return fmt.Errorf("unsupported audio format: %d (expected 1 for PCM)", c.AudioFormat)
	}
	if c.BitsPerSample != bitsPerSample {
		return fmt.Errorf("unsupported bits per sample: %d (expected 16)", c.BitsPerSample)
	}
	if c.BlockAlign != c.NumChannels*2 || c.ByteRate != c.SampleRate*uint32(c.BlockAlign) {
		return fmt.Errorf("inconsistent block align %d / byte rate %d", c.BlockAlign, c.ByteRate)
	}
	return nil
}

func (c fmtChunk) format() codec.Format {
	return codec.Format{SampleRate: int(c.SampleRate), Channels: int(c.NumChannels)}
}

// encodeHeader 生成 RIFF/fmt/data 三段组成的标准文件头
func encodeHeader(f codec.Format, dataSize uint32) []byte {
	h := make([]byte, headerSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], headerSize-8+dataSize)
	copy(h[8:12], "WAVE")

	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], fmtChunkSize)
	c := newFmtChunk(f)
	binary.LittleEndian.PutUint16(h[20:22], c.AudioFormat)
	binary.LittleEndian.PutUint16(h[22:24], c.NumChannels)
	binary.LittleEndian.PutUint32(h[24:28], c.SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], c.ByteRate)
	binary.LittleEndian.PutUint16(h[32:34], c.BlockAlign)
	binary.LittleEndian.PutUint16(h[34:36], c.BitsPerSample)

	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}
