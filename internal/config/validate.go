package config

import (
	"errors"
	"fmt"
	"strconv"
)

// ConfigurationError 表示缺失或非法的配置项，启动前返回，属于致命错误
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func required(field string) error {
	return &ConfigurationError{Field: field, Reason: "required value is missing"}
}

func invalid(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate 校验当前选中的后端所需的配置项，所有问题一并返回
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, validateDevice("audio.input", c.Audio.Input,
		BackendPortAudio, BackendFile, BackendWebRTC, BackendNull)...)
	errs = append(errs, validateDevice("audio.output", c.Audio.Output,
		BackendPortAudio, BackendWAV, BackendPCM, BackendOgg, BackendWebRTC, BackendNull)...)

	webrtcIn := c.Audio.Input.Backend == BackendWebRTC
	webrtcOut := c.Audio.Output.Backend == BackendWebRTC
	if webrtcIn != webrtcOut {
		errs = append(errs, invalid("audio", "webrtc backend must be used for both input and output"))
	}
	if webrtcIn && c.Server.HTTPPort <= 0 {
		errs = append(errs, invalid("server.http_port", "webrtc backend needs the http server for WHIP"))
	}
	if webrtcIn && c.Server.UDPPort <= 0 {
		errs = append(errs, invalid("server.udp_port", "webrtc backend needs a udp port for media"))
	}
	if c.Audio.FrameDuration <= 0 {
		errs = append(errs, invalid("audio.frame_duration", "must be positive"))
	}
	if c.Audio.PollQuantum < 0 {
		errs = append(errs, invalid("audio.poll_quantum", "must not be negative"))
	}

	switch c.ASR.Type {
	case ASRTencent:
		asr := c.ASR.TencentASR
		if asr.AppID == "" {
			errs = append(errs, required("asr.tencent_asr.app_id"))
		}
		if asr.SecretID == "" {
			errs = append(errs, required("asr.tencent_asr.secret_id"))
		}
		if asr.SecretKey == "" {
			errs = append(errs, required("asr.tencent_asr.secret_key"))
		}
	case ASRDeepgram:
		if c.ASR.Deepgram.APIKey == "" {
			errs = append(errs, required("asr.deepgram.api_key"))
		}
	default:
		errs = append(errs, invalid("asr.type", "unknown transcriber %q", c.ASR.Type))
	}

	switch c.LLM.Type {
	case LLMOpenAI:
		if c.LLM.OpenAI.APIKey == "" {
			errs = append(errs, required("llm.openai.api_key"))
		}
		if c.LLM.OpenAI.MaxMessages < 2 {
			errs = append(errs, invalid("llm.openai.max_messages", "must be at least 2"))
		}
	default:
		errs = append(errs, invalid("llm.type", "unknown agent %q", c.LLM.Type))
	}

	switch c.TTS.Type {
	case TTSTencent:
		tts := c.TTS.TencentTTS
		if tts.AppID == "" {
			errs = append(errs, required("tts.tencent_tts.app_id"))
		} else if _, err := strconv.ParseInt(tts.AppID, 10, 64); err != nil {
			errs = append(errs, invalid("tts.tencent_tts.app_id", "must be numeric: %v", err))
		}
		if tts.SecretID == "" {
			errs = append(errs, required("tts.tencent_tts.secret_id"))
		}
		if tts.SecretKey == "" {
			errs = append(errs, required("tts.tencent_tts.secret_key"))
		}
		if tts.Codec != "pcm" {
			errs = append(errs, invalid("tts.tencent_tts.codec", "only pcm output can be played, got %q", tts.Codec))
		}
	default:
		errs = append(errs, invalid("tts.type", "unknown synthesizer %q", c.TTS.Type))
	}

	return errors.Join(errs...)
}

func validateDevice(field string, d AudioDeviceConfig, backends ...string) []error {
	var errs []error
	known := false
	for _, b := range backends {
		if d.Backend == b {
			known = true
			break
		}
	}
	if !known {
		errs = append(errs, invalid(field+".backend", "unknown backend %q", d.Backend))
	}
	switch d.Backend {
	case BackendFile, BackendWAV, BackendPCM, BackendOgg:
		if d.Path == "" {
			errs = append(errs, required(field+".path"))
		}
	}
	if d.SampleRate <= 0 {
		errs = append(errs, invalid(field+".sample_rate", "must be positive"))
	}
	if d.Channels != 1 && d.Channels != 2 {
		errs = append(errs, invalid(field+".channels", "must be 1 or 2"))
	}
	return errs
}

// TencentTTSAppID 返回数值形式的 TTS AppID，Validate 通过后不会失败
func (c *Config) TencentTTSAppID() int64 {
	id, _ := strconv.ParseInt(c.TTS.TencentTTS.AppID, 10, 64)
	return id
}
