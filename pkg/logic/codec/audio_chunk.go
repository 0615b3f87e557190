package codec

import (
	"encoding/binary"
	"time"
)

// Format 描述 PCM16 小端音频的采样率和声道数
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// SamplesPerFrame 返回一帧（所有声道）包含的采样点数
func (f Format) SamplesPerFrame(d time.Duration) int {
	return int(int64(f.SampleRate)*int64(d)/int64(time.Second)) * f.Channels
}

// Duration 返回 n 个采样点（所有声道）对应的时长
func (f Format) Duration(samples int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return time.Duration(samples/f.Channels) * time.Second / time.Duration(f.SampleRate)
}

// AudioChunk 是一段采集到的 PCM16 音频，创建后不可修改
type AudioChunk struct {
	payload    []byte
	seq        uint64
	capturedAt time.Time
	format     Format
}

// NewAudioChunk 复制 payload 创建音频块
func NewAudioChunk(payload []byte, seq uint64, capturedAt time.Time, format Format) *AudioChunk {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &AudioChunk{
		payload:    p,
		seq:        seq,
		capturedAt: capturedAt,
		format:     format,
	}
}

// NewAudioChunkFromSamples 由采样点创建音频块
func NewAudioChunkFromSamples(samples []int16, seq uint64, capturedAt time.Time, format Format) *AudioChunk {
	return &AudioChunk{
		payload:    SamplesToBytes(samples),
		seq:        seq,
		capturedAt: capturedAt,
		format:     format,
	}
}

// Payload 返回原始字节，调用方不得修改
func (c *AudioChunk) Payload() []byte {
	return c.payload
}

// Samples 返回解码后的采样点副本
func (c *AudioChunk) Samples() []int16 {
	return BytesToSamples(c.payload)
}

// Seq 返回采集序号，同一个音频源内单调递增
func (c *AudioChunk) Seq() uint64 {
	return c.seq
}

func (c *AudioChunk) CapturedAt() time.Time {
	return c.capturedAt
}

func (c *AudioChunk) Format() Format {
	return c.format
}

func (c *AudioChunk) Len() int {
	return len(c.payload)
}

func (c *AudioChunk) Duration() time.Duration {
	return c.format.Duration(len(c.payload) / 2)
}

// SamplesToBytes 把采样点编码为 PCM16 小端字节
func SamplesToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// BytesToSamples 把 PCM16 小端字节解码为采样点，末尾不足两字节的部分被忽略
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}
