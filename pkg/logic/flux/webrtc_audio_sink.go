package flux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/resampler"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// WebRTCSink 把 PCM 音频编码为 opus，按实时节拍写入本地音轨
type WebRTCSink struct {
	name       string
	format     codec.Format
	mu         sync.Mutex
	track      *webrtc.TrackLocalStaticSample
	encoder    *codec.OpusEncoder
	converter  *resampler.Converter
	nextAt     time.Time
	generation atomic.Uint64
	released   atomic.Bool
}

func NewWebRTCSink() (*WebRTCSink, error) {
	encoder, err := codec.NewOpusEncoder(48000, 1)
	if err != nil {
		return nil, err
	}
	return &WebRTCSink{
		name:      "WebRTCSink",
		format:    encoder.Format(),
		encoder:   encoder,
		converter: resampler.NewConverter(encoder.Format()),
	}, nil
}

// SetTrack 设置本地音轨，之前写入的音频会被丢弃
func (s *WebRTCSink) SetTrack(track *webrtc.TrackLocalStaticSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	logger.Info("Started sink component **%s** track=%s", s.name, track.ID())
}

func (s *WebRTCSink) Name() string {
	return s.name
}

func (s *WebRTCSink) Format() codec.Format {
	return s.format
}

func (s *WebRTCSink) Write(ctx context.Context, chunk *codec.AudioChunk) error {
	if s.released.Load() {
		return ErrReleased
	}
	gen := s.generation.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.track == nil {
		logger.Debug("**%s** no track yet, dropping chunk seq=%d", s.name, chunk.Seq())
		return nil
	}

	samples, err := s.converter.Convert(chunk)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	frames, err := s.encoder.Encode(samples)
	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}

	for _, frame := range frames {
		if s.generation.Load() != gen {
			return nil
		}
		if err := s.pace(ctx); err != nil {
			return err
		}
		if err := s.track.WriteSample(media.Sample{
			Data:     frame.Payload(),
			Duration: frame.Duration(),
		}); err != nil {
			logger.Warn("**%s** Failed to write sample: %v", s.name, err)
		}
		s.nextAt = s.nextAt.Add(frame.Duration())
	}
	return nil
}

// pace 等到下一帧的发送时间，落后太多时重新对齐
func (s *WebRTCSink) pace(ctx context.Context) error {
	now := time.Now()
	if s.nextAt.Before(now.Add(-100 * time.Millisecond)) {
		s.nextAt = now
	}
	wait := s.nextAt.Sub(now)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Clear 丢弃编码器和重采样器中尚未发送的音频
func (s *WebRTCSink) Clear() error {
	s.generation.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoder.Reset()
	s.converter.Reset()
	s.nextAt = time.Time{}
	return nil
}

func (s *WebRTCSink) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	s.generation.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = nil
	logger.Info("Released component: %s", s.name)
	return s.converter.Close()
}
