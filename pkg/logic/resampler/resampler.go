package resampler

import (
	"bytes"
	"fmt"
	"io"

	"voicelink/pkg/logic/codec"

	"github.com/zaf/resample"
)

// Resampler 做声道转换和采样率转换，输入按 20ms 累积后再送入 soxr
type Resampler struct {
	resampler     *resample.Resampler
	buffer        *bytes.Buffer
	inputBuffer   []int16 // 累积的输入样本
	channelsIn    int
	channelsOut   int
	sampleRateIn  int
	sampleRateOut int
	minSamples    int // 每次重采样的最小样本数
	name          string
}

func NewResampler(sampleRateIn, sampleRateOut, channelsIn, channelsOut int) (*Resampler, error) {
	if sampleRateIn <= 0 || sampleRateOut <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d -> %d", sampleRateIn, sampleRateOut)
	}
	if channelsIn < 1 || channelsIn > 2 || channelsOut < 1 || channelsOut > 2 {
		return nil, fmt.Errorf("unsupported channel conversion %d -> %d", channelsIn, channelsOut)
	}

	r := &Resampler{
		buffer:        new(bytes.Buffer),
		inputBuffer:   make([]int16, 0),
		channelsIn:    channelsIn,
		channelsOut:   channelsOut,
		sampleRateIn:  sampleRateIn,
		sampleRateOut: sampleRateOut,
		minSamples:    (sampleRateIn * channelsIn * 20) / 1000,
		name:          fmt.Sprintf("Resampler_%dHz_%dCh->%dHz_%dCh", sampleRateIn, channelsIn, sampleRateOut, channelsOut),
	}

	// 采样率相同时只做声道转换
	if sampleRateIn != sampleRateOut {
		resampler, err := resample.New(
			r.buffer,
			float64(sampleRateIn),
			float64(sampleRateOut),
			channelsOut,
			resample.I16,
			resample.HighQ,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.name, err)
		}
		r.resampler = resampler
	}

	return r, nil
}

func (r *Resampler) Name() string {
	return r.name
}

// Process 转换一段交织的 PCM 样本。采样率转换时不足 20ms 的部分留到下次调用。
func (r *Resampler) Process(samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	if r.resampler == nil {
		return r.mixChannels(samples), nil
	}

	r.inputBuffer = append(r.inputBuffer, samples...)
	if len(r.inputBuffer) < r.minSamples {
		return nil, nil
	}

	// 只处理 minSamples 整数倍的样本
	processable := (len(r.inputBuffer) / r.minSamples) * r.minSamples
	mixed := r.mixChannels(r.inputBuffer[:processable])

	remaining := make([]int16, len(r.inputBuffer)-processable)
	copy(remaining, r.inputBuffer[processable:])
	r.inputBuffer = remaining

	r.buffer.Reset()
	if _, err := r.resampler.Write(codec.SamplesToBytes(mixed)); err != nil {
		return nil, fmt.Errorf("%s: resampling failed: %w", r.name, err)
	}

	resampled, err := io.ReadAll(r.buffer)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read resampled data: %w", r.name, err)
	}
	return codec.BytesToSamples(resampled), nil
}

// Reset 丢弃累积的输入
func (r *Resampler) Reset() {
	r.inputBuffer = r.inputBuffer[:0]
	r.buffer.Reset()
}

// Close 释放 soxr 资源
func (r *Resampler) Close() error {
	if r.resampler == nil {
		return nil
	}
	err := r.resampler.Close()
	r.resampler = nil
	return err
}

func (r *Resampler) mixChannels(in []int16) []int16 {
	switch {
	case r.channelsIn > r.channelsOut:
		// 立体声转单声道，取左右平均
		out := make([]int16, len(in)/2)
		for i := 0; i+1 < len(in); i += 2 {
			mixed := (int32(in[i]) + int32(in[i+1])) / 2
			out[i/2] = int16(mixed)
		}
		return out
	case r.channelsIn < r.channelsOut:
		out := make([]int16, len(in)*2)
		for i, s := range in {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out
	default:
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
}
