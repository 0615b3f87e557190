package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/resampler"

	"github.com/tencentcloud/tencentcloud-speech-sdk-go/asr"
	"github.com/tencentcloud/tencentcloud-speech-sdk-go/common"
)

// TencentAsrConfig 腾讯云实时语音识别配置
type TencentAsrConfig struct {
	AppID           string
	SecretID        string
	SecretKey       string
	EngineModelType string
	SliceSize       int // 每次发送的字节数
}

// recognizer 是 asr.SpeechRecognizer 用到的方法
type recognizer interface {
	Start() error
	Write(data []byte) error
	Stop() error
}

type sdkRecognizer struct {
	r *asr.SpeechRecognizer
}

func (a sdkRecognizer) Start() error            { return a.r.Start() }
func (a sdkRecognizer) Write(data []byte) error { return a.r.Write(data) }

func (a sdkRecognizer) Stop() error {
	a.r.Stop()
	return nil
}

// TencentAsr 腾讯云流式语音识别，实现对话的 Transcriber
type TencentAsr struct {
	name          string
	cfg           TencentAsrConfig
	format        codec.Format
	newRecognizer func(listener asr.SpeechRecognitionListener) recognizer

	mu         sync.Mutex
	recognizer recognizer
	converter  *resampler.Converter
	pending    []byte
	stream     *transcriptStream
	stopping   bool
}

// NewTencentAsr 创建一个新的语音识别组件
func NewTencentAsr(cfg TencentAsrConfig) *TencentAsr {
	if cfg.EngineModelType == "" {
		cfg.EngineModelType = "16k_zh"
	}
	if cfg.SliceSize <= 0 {
		cfg.SliceSize = 6400
	}

	sampleRate := 16000
	if strings.HasPrefix(cfg.EngineModelType, "8k") {
		sampleRate = 8000
	}

	t := &TencentAsr{
		name:   "TencentASR",
		cfg:    cfg,
		format: codec.Format{SampleRate: sampleRate, Channels: 1},
		stream: newTranscriptStream(256),
	}
	t.newRecognizer = func(listener asr.SpeechRecognitionListener) recognizer {
		credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
		r := asr.NewSpeechRecognizer(cfg.AppID, credential, cfg.EngineModelType, listener)
		r.VoiceFormat = asr.AudioFormatPCM
		return sdkRecognizer{r: r}
	}
	return t
}

func (t *TencentAsr) Name() string {
	return t.name
}

// Start 建立识别会话，阻塞到会话建立或 ctx 结束
func (t *TencentAsr) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.recognizer != nil {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	r := t.newRecognizer(&asrListener{asr: t})
	t.recognizer = r
	t.converter = resampler.NewConverter(t.format)
	t.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			t.reset()
			return fmt.Errorf("start recognizer failed: %w", err)
		}
	case <-ctx.Done():
		// 会话可能稍后才建立，建立后立即停止
		go func() {
			if err := <-errCh; err == nil {
				r.Stop()
			}
		}()
		t.reset()
		return ctx.Err()
	}

	logger.Info("Start component: %s (engine=%s)", t.name, t.cfg.EngineModelType)
	return nil
}

func (t *TencentAsr) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recognizer = nil
	if t.converter != nil {
		t.converter.Close()
		t.converter = nil
	}
	t.pending = nil
}

// Consume 把音频转换为识别引擎的格式，攒够一片后发送
func (t *TencentAsr) Consume(chunk *codec.AudioChunk) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.recognizer == nil {
		return ErrNotStarted
	}

	samples, err := t.converter.Convert(chunk)
	if err != nil {
		return fmt.Errorf("%s: %w", t.name, err)
	}
	t.pending = append(t.pending, codec.SamplesToBytes(samples)...)

	for len(t.pending) >= t.cfg.SliceSize {
		if err := t.recognizer.Write(t.pending[:t.cfg.SliceSize]); err != nil {
			logger.Error("**%s** Failed to write audio data: %v", t.name, err)
			return fmt.Errorf("%s: write audio: %w", t.name, err)
		}
		t.pending = t.pending[t.cfg.SliceSize:]
	}
	return nil
}

func (t *TencentAsr) Transcripts() <-chan Transcript {
	return t.stream.C()
}

// Stop 发送剩余音频并结束识别会话，之后结果通道被关闭
func (t *TencentAsr) Stop() error {
	t.mu.Lock()
	r := t.recognizer
	if r == nil {
		t.mu.Unlock()
		t.stream.close()
		return nil
	}
	t.stopping = true
	if len(t.pending) > 0 {
		if err := r.Write(t.pending); err != nil {
			logger.Warn("**%s** Failed to flush audio data: %v", t.name, err)
		}
	}
	t.mu.Unlock()

	err := r.Stop()
	t.reset()
	t.stream.close()
	logger.Info("Stopped component: %s", t.name)
	return err
}

// asrListener 实现语音识别监听器
type asrListener struct {
	asr *TencentAsr
}

func (l *asrListener) OnRecognitionStart(response *asr.SpeechRecognitionResponse) {
	logger.Info("**%s** Recognition started: voice_id=%s", l.asr.name, response.VoiceID)
}

func (l *asrListener) OnSentenceBegin(response *asr.SpeechRecognitionResponse) {
	logger.Debug("**%s** Sentence begin: voice_id=%s", l.asr.name, response.VoiceID)
}

func (l *asrListener) OnRecognitionResultChange(response *asr.SpeechRecognitionResponse) {
	l.asr.stream.emit(Transcript{Text: response.Result.VoiceTextStr, At: time.Now()})
}

func (l *asrListener) OnSentenceEnd(response *asr.SpeechRecognitionResponse) {
	text := response.Result.VoiceTextStr
	logger.Info("**%s** Sentence end: voice_id=%s, text=%s", l.asr.name, response.VoiceID, text)
	if l.asr.stream.emit(Transcript{Text: text, Final: true, At: time.Now()}) {
		logger.Warn("**%s** transcript queue full, dropped oldest result", l.asr.name)
	}
}

func (l *asrListener) OnRecognitionComplete(response *asr.SpeechRecognitionResponse) {
	logger.Info("**%s** Recognition complete: voice_id=%s", l.asr.name, response.VoiceID)
}

// OnFail 会话失败后关闭结果通道，对话据此结束
func (l *asrListener) OnFail(response *asr.SpeechRecognitionResponse, err error) {
	voiceID := ""
	if response != nil {
		voiceID = response.VoiceID
	}
	l.asr.mu.Lock()
	stopping := l.asr.stopping
	l.asr.mu.Unlock()
	if stopping {
		logger.Debug("**%s** Recognition ended while stopping: voice_id=%s, error=%v", l.asr.name, voiceID, err)
		return
	}
	logger.Error("**%s** Recognition failed: voice_id=%s, error=%v", l.asr.name, voiceID, err)
	l.asr.stream.close()
}
