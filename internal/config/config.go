package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 音频设备后端
const (
	BackendPortAudio = "portaudio"
	BackendFile      = "file"
	BackendWebRTC    = "webrtc"
	BackendNull      = "null"
	BackendWAV       = "wav"
	BackendPCM       = "pcm"
	BackendOgg       = "ogg"
)

// 识别、对话、合成服务类型
const (
	ASRTencent  = "tencent"
	ASRDeepgram = "deepgram"
	LLMOpenAI   = "openai"
	TTSTencent  = "tencent"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`    // MB
	MaxBackups int    `yaml:"max_backups"` // 保留的旧文件个数
	MaxAge     int    `yaml:"max_age"`     // 天
	Compress   bool   `yaml:"compress"`
}

// AudioDeviceConfig 描述一个输入或输出设备
type AudioDeviceConfig struct {
	Backend    string `yaml:"backend"`
	Device     string `yaml:"device"` // portaudio 设备名，为空时使用系统默认设备
	Path       string `yaml:"path"`   // file/wav/pcm/ogg 后端的文件路径
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type Config struct {
	Server struct {
		HTTPPort  int      `yaml:"http_port"`
		UDPPort   int      `yaml:"udp_port"`
		PublicIP  []string `yaml:"public_ip"`
		Interrupt bool     `yaml:"interrupt"`
	} `yaml:"server"`
	Conversation struct {
		InitialMessage   string        `yaml:"initial_message"`
		PromptPreamble   string        `yaml:"prompt_preamble"`
		SilenceTimeout   time.Duration `yaml:"silence_timeout"`
		MaxTurnDuration  time.Duration `yaml:"max_turn_duration"`
		PunctuationMarks []string      `yaml:"punctuation_marks"`
		StatsInterval    time.Duration `yaml:"stats_interval"`
	} `yaml:"conversation"`
	Audio struct {
		Input         AudioDeviceConfig `yaml:"input"`
		Output        AudioDeviceConfig `yaml:"output"`
		FrameDuration time.Duration     `yaml:"frame_duration"`
		PollQuantum   time.Duration     `yaml:"poll_quantum"`
	} `yaml:"audio"`
	ASR struct {
		Type       string `yaml:"type"`
		TencentASR struct {
			AppID           string `yaml:"app_id"`
			SecretID        string `yaml:"secret_id"`
			SecretKey       string `yaml:"secret_key"`
			EngineModelType string `yaml:"engine_model_type"`
			SliceSize       int    `yaml:"slice_size"`
		} `yaml:"tencent_asr"`
		Deepgram struct {
			APIKey      string `yaml:"api_key"`
			URL         string `yaml:"url"`
			Model       string `yaml:"model"`
			Language    string `yaml:"language"`
			Endpointing int    `yaml:"endpointing"` // ms
			SampleRate  int    `yaml:"sample_rate"`
		} `yaml:"deepgram"`
	} `yaml:"asr"`
	LLM struct {
		Type   string `yaml:"type"`
		OpenAI struct {
			APIKey      string  `yaml:"api_key"`
			BaseURL     string  `yaml:"base_url"`
			Model       string  `yaml:"model"`
			Temperature float64 `yaml:"temperature"`
			MaxTokens   int     `yaml:"max_tokens"`
			MaxMessages int     `yaml:"max_messages"`
			Streaming   bool    `yaml:"streaming"`
		} `yaml:"openai"`
	} `yaml:"llm"`
	TTS struct {
		Type       string `yaml:"type"`
		TencentTTS struct {
			AppID      string `yaml:"app_id"`
			SecretID   string `yaml:"secret_id"`
			SecretKey  string `yaml:"secret_key"`
			VoiceType  int64  `yaml:"voice_type"`
			Codec      string `yaml:"codec"`
			SampleRate int    `yaml:"sample_rate"`
		} `yaml:"tencent_tts"`
	} `yaml:"tts"`
	Log LogConfig `yaml:"log"`
}

// Load 读取 env 文件和 yaml 配置，解析 $ENV 引用、填充默认值并校验。
// env 文件不存在时忽略。
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error loading env file %s: %w", f, err)
		}
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.ResolveEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig 只解析 yaml 文件，不做其他处理
func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Field: "config", Reason: fmt.Sprintf("error reading config file: %v", err)}
	}

	if err := yaml.Unmarshal(file, config); err != nil {
		return nil, &ConfigurationError{Field: "config", Reason: fmt.Sprintf("error parsing config file: %v", err)}
	}

	return config, nil
}

// ResolveEnv 把所有形如 "$NAME" 的字符串替换为环境变量 NAME 的值
func (c *Config) ResolveEnv() {
	resolveEnv(reflect.ValueOf(c).Elem())
}

func resolveEnv(v reflect.Value) {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			resolveEnv(v.Field(i))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			resolveEnv(v.Index(i))
		}
	case reflect.String:
		if s := v.String(); strings.HasPrefix(s, "$") && v.CanSet() {
			v.SetString(os.Getenv(s[1:]))
		}
	}
}

// ApplyDefaults 为未设置的字段填充默认值
func (c *Config) ApplyDefaults() {
	if c.Conversation.SilenceTimeout == 0 {
		c.Conversation.SilenceTimeout = 2 * time.Second
	}
	if c.Conversation.MaxTurnDuration == 0 {
		c.Conversation.MaxTurnDuration = 30 * time.Second
	}
	if len(c.Conversation.PunctuationMarks) == 0 {
		c.Conversation.PunctuationMarks = []string{"。", "？", "！", ".", "?", "!"}
	}
	if c.Conversation.StatsInterval == 0 {
		c.Conversation.StatsInterval = 30 * time.Second
	}

	if c.Audio.FrameDuration == 0 {
		c.Audio.FrameDuration = 20 * time.Millisecond
	}
	if c.Audio.PollQuantum == 0 {
		c.Audio.PollQuantum = 2 * time.Millisecond
	}
	applyDeviceDefaults(&c.Audio.Input, BackendPortAudio)
	applyDeviceDefaults(&c.Audio.Output, BackendPortAudio)

	if c.ASR.Type == "" {
		c.ASR.Type = ASRTencent
	}
	if c.ASR.TencentASR.EngineModelType == "" {
		c.ASR.TencentASR.EngineModelType = "16k_zh"
	}
	if c.ASR.TencentASR.SliceSize == 0 {
		c.ASR.TencentASR.SliceSize = 6400
	}
	if c.ASR.Deepgram.URL == "" {
		c.ASR.Deepgram.URL = "wss://api.deepgram.com/v1/listen"
	}
	if c.ASR.Deepgram.Model == "" {
		c.ASR.Deepgram.Model = "nova-2"
	}
	if c.ASR.Deepgram.Language == "" {
		c.ASR.Deepgram.Language = "en-US"
	}
	if c.ASR.Deepgram.Endpointing == 0 {
		c.ASR.Deepgram.Endpointing = 300
	}
	if c.ASR.Deepgram.SampleRate == 0 {
		c.ASR.Deepgram.SampleRate = 16000
	}

	if c.LLM.Type == "" {
		c.LLM.Type = LLMOpenAI
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.MaxMessages == 0 {
		c.LLM.OpenAI.MaxMessages = 10
	}

	if c.TTS.Type == "" {
		c.TTS.Type = TTSTencent
	}
	if c.TTS.TencentTTS.Codec == "" {
		c.TTS.TencentTTS.Codec = "pcm"
	}
	if c.TTS.TencentTTS.SampleRate == 0 {
		c.TTS.TencentTTS.SampleRate = 16000
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func applyDeviceDefaults(d *AudioDeviceConfig, backend string) {
	if d.Backend == "" {
		d.Backend = backend
	}
	if d.SampleRate == 0 {
		d.SampleRate = 16000
	}
	if d.Channels == 0 {
		d.Channels = 1
	}
}
