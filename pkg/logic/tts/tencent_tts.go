package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/flux"

	"github.com/tencentcloud/tencentcloud-speech-sdk-go/common"
	"github.com/tencentcloud/tencentcloud-speech-sdk-go/tts"
)

var ErrNotStarted = errors.New("synthesizer not started")

// TencentTTSConfig 腾讯云语音合成配置，codec 固定为 pcm
type TencentTTSConfig struct {
	AppID         int64
	SecretID      string
	SecretKey     string
	VoiceType     int64
	Codec         string
	SampleRate    int
	FrameDuration time.Duration // 写入输出设备的音频块时长
}

// synthesisSession 一次合成会话，对应 tts.SpeechWsSynthesizer
type synthesisSession interface {
	Synthesis() error
	Wait()
	CloseConn()
}

type sdkSession struct {
	s *tts.SpeechWsSynthesizer
}

func (a sdkSession) Synthesis() error { return a.s.Synthesis() }
func (a sdkSession) Wait()            { a.s.Wait() }
func (a sdkSession) CloseConn()       { a.s.CloseConn() }

// TencentTTS 把文本合成为 PCM 音频并按帧写入输出设备
type TencentTTS struct {
	name       string
	cfg        TencentTTSConfig
	format     codec.Format
	sink       flux.Sink
	newSession func(sessionID, text string, listener tts.SpeechWsSynthesisListener) synthesisSession

	mu      sync.Mutex
	started bool
	active  synthesisSession
	seq     atomic.Uint64
}

// NewTencentTTS 创建一个新的语音合成组件，合成结果写入 sink
func NewTencentTTS(cfg TencentTTSConfig, sink flux.Sink) *TencentTTS {
	if cfg.Codec == "" {
		cfg.Codec = "pcm"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}

	t := &TencentTTS{
		name:   "TencentTTS",
		cfg:    cfg,
		format: codec.Format{SampleRate: cfg.SampleRate, Channels: 1},
		sink:   sink,
	}
	t.newSession = func(sessionID, text string, listener tts.SpeechWsSynthesisListener) synthesisSession {
		credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
		s := tts.NewSpeechWsSynthesizer(cfg.AppID, credential, listener)
		s.SessionId = sessionID
		s.VoiceType = cfg.VoiceType
		s.Codec = cfg.Codec
		s.Text = text
		return sdkSession{s: s}
	}
	return t
}

func (t *TencentTTS) Name() string {
	return t.name
}

func (t *TencentTTS) Format() codec.Format {
	return t.format
}

func (t *TencentTTS) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	logger.Info("Start component: %s (voice=%d, %dHz)", t.name, t.cfg.VoiceType, t.cfg.SampleRate)
	return nil
}

// Speak 合成一段文本并写入输出设备，阻塞到合成结束或 ctx 取消
func (t *TencentTTS) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	seq := t.seq.Add(1)
	listener := &ttsSynthesisListener{
		sessionID: fmt.Sprintf("%s_%d", t.name, seq),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	session := t.newSession(listener.sessionID, text, listener)

	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return ErrNotStarted
	}
	t.active = session
	t.mu.Unlock()

	defer func() {
		close(listener.done)
		session.CloseConn()
		t.mu.Lock()
		if t.active == session {
			t.active = nil
		}
		t.mu.Unlock()
	}()

	logger.Info("**%s** Processing session=%s, text: %s", t.name, listener.sessionID, text)

	// 开始合成，Wait 返回后不会再有音频回调
	synthDone := make(chan error, 1)
	go func() {
		if err := session.Synthesis(); err != nil {
			synthDone <- err
			return
		}
		session.Wait()
		synthDone <- nil
	}()

	frameBytes := t.format.SamplesPerFrame(t.cfg.FrameDuration) * 2
	var (
		pending  []byte
		chunkSeq uint64
	)
	write := func(payload []byte) error {
		chunk := codec.NewAudioChunk(payload, chunkSeq, time.Now(), t.format)
		chunkSeq++
		return t.sink.Write(ctx, chunk)
	}
	consume := func(data []byte) error {
		pending = append(pending, data...)
		for len(pending) >= frameBytes {
			if err := write(pending[:frameBytes]); err != nil {
				return err
			}
			pending = pending[frameBytes:]
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-listener.audio:
			if err := consume(data); err != nil {
				return err
			}
		case err := <-synthDone:
			if err == nil {
				err = listener.failure()
			}
			if err != nil {
				return fmt.Errorf("synthesis failed: %w", err)
			}
			for drained := false; !drained; {
				select {
				case data := <-listener.audio:
					if err := consume(data); err != nil {
						return err
					}
				default:
					drained = true
				}
			}
			if len(pending) > 0 {
				return write(pending)
			}
			return nil
		}
	}
}

// Stop 中止正在进行的合成
func (t *TencentTTS) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != nil {
		t.active.CloseConn()
		t.active = nil
	}
	t.started = false
	logger.Info("Stopped component: %s", t.name)
	return nil
}

// ttsSynthesisListener 实现语音合成监听器
type ttsSynthesisListener struct {
	sessionID string
	audio     chan []byte
	done      chan struct{}
	mu        sync.Mutex
	err       error
}

func (l *ttsSynthesisListener) failure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// OnSynthesisStart 合成开始回调
func (l *ttsSynthesisListener) OnSynthesisStart(r *tts.SpeechWsSynthesisResponse) {
	logger.Debug("Synthesis started: sessionId=%s", l.sessionID)
}

// OnSynthesisEnd 合成结束回调
func (l *ttsSynthesisListener) OnSynthesisEnd(r *tts.SpeechWsSynthesisResponse) {
	logger.Debug("Synthesis ended: sessionId=%s", l.sessionID)
}

// OnAudioResult 音频数据回调，Speak 已返回时丢弃
func (l *ttsSynthesisListener) OnAudioResult(data []byte) {
	b := make([]byte, len(data))
	copy(b, data)
	select {
	case l.audio <- b:
	case <-l.done:
	}
}

// OnTextResult 文本处理结果回调
func (l *ttsSynthesisListener) OnTextResult(r *tts.SpeechWsSynthesisResponse) {
	logger.Debug("Text result received: sessionId=%s", l.sessionID)
}

// OnSynthesisFail 合成失败回调
func (l *ttsSynthesisListener) OnSynthesisFail(r *tts.SpeechWsSynthesisResponse, err error) {
	logger.Error("Synthesis failed: sessionId=%s, error=%v", l.sessionID, err)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		l.err = err
	}
}
