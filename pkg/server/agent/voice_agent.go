package agent

import (
	"context"
	"fmt"

	"voicelink/internal/config"
	"voicelink/pkg/logger"
	"voicelink/pkg/logic/llm"
	"voicelink/pkg/logic/pipeline"
	"voicelink/pkg/logic/stt"
	"voicelink/pkg/logic/tts"
	"voicelink/pkg/server/orchestrator"
)

// NewTranscriber 按 asr.type 创建识别服务
func NewTranscriber(cfg *config.Config) (pipeline.Transcriber, error) {
	switch cfg.ASR.Type {
	case config.ASRTencent:
		c := cfg.ASR.TencentASR
		return stt.NewTencentAsr(stt.TencentAsrConfig{
			AppID:           c.AppID,
			SecretID:        c.SecretID,
			SecretKey:       c.SecretKey,
			EngineModelType: c.EngineModelType,
			SliceSize:       c.SliceSize,
		}), nil
	case config.ASRDeepgram:
		c := cfg.ASR.Deepgram
		return stt.NewDeepgram(stt.DeepgramConfig{
			APIKey:      c.APIKey,
			URL:         c.URL,
			Model:       c.Model,
			Language:    c.Language,
			Endpointing: c.Endpointing,
			SampleRate:  c.SampleRate,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transcriber %q", cfg.ASR.Type)
	}
}

// NewAgent 按 llm.type 创建对话代理
func NewAgent(cfg *config.Config) (pipeline.Agent, error) {
	switch cfg.LLM.Type {
	case config.LLMOpenAI:
		c := cfg.LLM.OpenAI
		return llm.NewChatGPT(llm.ChatGPTConfig{
			APIKey:         c.APIKey,
			BaseURL:        c.BaseURL,
			Model:          c.Model,
			Temperature:    c.Temperature,
			MaxTokens:      c.MaxTokens,
			MaxMessages:    c.MaxMessages,
			Streaming:      c.Streaming,
			InitialMessage: cfg.Conversation.InitialMessage,
			PromptPreamble: cfg.Conversation.PromptPreamble,
		}), nil
	default:
		return nil, fmt.Errorf("unknown agent %q", cfg.LLM.Type)
	}
}

// NewSynthesizer 按 tts.type 创建合成服务，合成的音频写入 devices 的输出设备
func NewSynthesizer(cfg *config.Config, devices *Devices) (pipeline.Synthesizer, error) {
	switch cfg.TTS.Type {
	case config.TTSTencent:
		c := cfg.TTS.TencentTTS
		return tts.NewTencentTTS(tts.TencentTTSConfig{
			AppID:         cfg.TencentTTSAppID(),
			SecretID:      c.SecretID,
			SecretKey:     c.SecretKey,
			VoiceType:     c.VoiceType,
			Codec:         c.Codec,
			SampleRate:    c.SampleRate,
			FrameDuration: cfg.Audio.FrameDuration,
		}, devices.Sink), nil
	default:
		return nil, fmt.Errorf("unknown synthesizer %q", cfg.TTS.Type)
	}
}

// VoiceAgent 把设备、对话和轮询循环组装在一起
type VoiceAgent struct {
	config       *config.Config
	devices      *Devices
	conversation *pipeline.Conversation
	orchestrator *orchestrator.Orchestrator
}

// NewVoiceAgent 按配置创建识别、对话代理和合成服务
func NewVoiceAgent(cfg *config.Config, devices *Devices) (*VoiceAgent, error) {
	transcriber, err := NewTranscriber(cfg)
	if err != nil {
		return nil, err
	}
	agent, err := NewAgent(cfg)
	if err != nil {
		return nil, err
	}
	synthesizer, err := NewSynthesizer(cfg, devices)
	if err != nil {
		return nil, err
	}
	return NewVoiceAgentWith(cfg, devices, transcriber, agent, synthesizer), nil
}

// NewVoiceAgentWith 使用给定的协作者
func NewVoiceAgentWith(cfg *config.Config, devices *Devices, transcriber pipeline.Transcriber, agent pipeline.Agent, synthesizer pipeline.Synthesizer) *VoiceAgent {
	opts := pipeline.Options{
		TurnManager: pipeline.TurnManagerConfig{
			SilenceTimeout:   cfg.Conversation.SilenceTimeout,
			MaxTurnDuration:  cfg.Conversation.MaxTurnDuration,
			PunctuationMarks: cfg.Conversation.PunctuationMarks,
		},
		Interrupt:     cfg.Server.Interrupt,
		StatsInterval: cfg.Conversation.StatsInterval,
	}
	conv := pipeline.NewConversation(opts, transcriber, agent, synthesizer, devices.Source, devices.Sink)

	return &VoiceAgent{
		config:       cfg,
		devices:      devices,
		conversation: conv,
		orchestrator: orchestrator.New(conv, devices.Source, devices.Sink, cfg.Audio.PollQuantum),
	}
}

// Start 启动对话
func (v *VoiceAgent) Start(ctx context.Context) error {
	logger.Info("Starting voice agent %s: input=%s output=%s asr=%s llm=%s tts=%s",
		v.conversation.ID(), v.config.Audio.Input.Backend, v.config.Audio.Output.Backend,
		v.config.ASR.Type, v.config.LLM.Type, v.config.TTS.Type)
	return v.orchestrator.Start(ctx)
}

// Run 运行轮询循环直到对话结束
func (v *VoiceAgent) Run(ctx context.Context) error {
	return v.orchestrator.Run(ctx)
}

// Orchestrator 返回轮询循环，用于注册信号处理
func (v *VoiceAgent) Orchestrator() *orchestrator.Orchestrator {
	return v.orchestrator
}

// Conversation 返回底层对话
func (v *VoiceAgent) Conversation() *pipeline.Conversation {
	return v.conversation
}

func (v *VoiceAgent) ID() string {
	return v.conversation.ID()
}

func (v *VoiceAgent) Stats() pipeline.Stats {
	return v.conversation.Stats()
}

// RequestTermination 请求结束对话，不阻塞
func (v *VoiceAgent) RequestTermination() {
	v.orchestrator.RequestTermination()
}

// Stop 直接结束对话并释放设备
func (v *VoiceAgent) Stop() {
	v.conversation.Terminate()
	if err := v.devices.Release(); err != nil {
		logger.Warn("Failed to release devices: %v", err)
	}
}
