package resampler

import (
	"voicelink/pkg/logic/codec"
)

// Converter 把不同格式的音频块统一转换为目标格式。
// 输入格式变化时重建内部的 Resampler。非并发安全。
type Converter struct {
	target    codec.Format
	source    codec.Format
	resampler *Resampler
}

func NewConverter(target codec.Format) *Converter {
	return &Converter{target: target}
}

func (c *Converter) Target() codec.Format {
	return c.target
}

// Convert 返回目标格式的采样点，可能因为重采样缓冲而为空
func (c *Converter) Convert(chunk *codec.AudioChunk) ([]int16, error) {
	return c.ConvertSamples(chunk.Samples(), chunk.Format())
}

func (c *Converter) ConvertSamples(samples []int16, from codec.Format) ([]int16, error) {
	if from == c.target {
		return samples, nil
	}

	if c.resampler == nil || from != c.source {
		if c.resampler != nil {
			c.resampler.Close()
		}
		rs, err := NewResampler(from.SampleRate, c.target.SampleRate, from.Channels, c.target.Channels)
		if err != nil {
			return nil, err
		}
		c.resampler = rs
		c.source = from
	}
	return c.resampler.Process(samples)
}

// Reset 丢弃缓冲中的数据，用于打断后清空
func (c *Converter) Reset() {
	if c.resampler != nil {
		c.resampler.Reset()
	}
}

func (c *Converter) Close() error {
	if c.resampler == nil {
		return nil
	}
	err := c.resampler.Close()
	c.resampler = nil
	return err
}
