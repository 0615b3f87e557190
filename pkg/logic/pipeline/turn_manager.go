package pipeline

import (
	"strings"
	"time"

	"voicelink/pkg/logic/stt"
)

// TurnManagerConfig 断句配置
type TurnManagerConfig struct {
	SilenceTimeout   time.Duration // 静音超时时间，超过这个时间认为句子结束
	MaxTurnDuration  time.Duration // 最大轮次持续时间
	PunctuationMarks []string      // 表示句子结束的标点符号
}

// DefaultTurnManagerConfig 返回默认配置
func DefaultTurnManagerConfig() TurnManagerConfig {
	return TurnManagerConfig{
		SilenceTimeout:   2 * time.Second,
		MaxTurnDuration:  30 * time.Second,
		PunctuationMarks: []string{"。", "？", "！", ".", "?", "!"},
	}
}

// TurnManager 把识别结果拼成用户的一句完整的话。
// 最终结果以结束标点收尾、静音超时或轮次过长时，这句话结束。非并发安全。
type TurnManager struct {
	config         TurnManagerConfig
	sentenceBuffer string
	interim        string
	turnStart      time.Time
	lastUpdateTime time.Time
	turnSeq        int
}

// NewTurnManager 创建新的 TurnManager
func NewTurnManager(config TurnManagerConfig) *TurnManager {
	def := DefaultTurnManagerConfig()
	if config.SilenceTimeout <= 0 {
		config.SilenceTimeout = def.SilenceTimeout
	}
	if config.MaxTurnDuration <= 0 {
		config.MaxTurnDuration = def.MaxTurnDuration
	}
	if len(config.PunctuationMarks) == 0 {
		config.PunctuationMarks = def.PunctuationMarks
	}
	return &TurnManager{config: config}
}

// Push 处理一条识别结果，返回结束的一句话
func (tm *TurnManager) Push(t stt.Transcript) (string, bool) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return "", false
	}

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	if tm.turnStart.IsZero() {
		tm.turnStart = at
	}
	tm.lastUpdateTime = at

	if !t.Final {
		tm.interim = text
		return "", false
	}

	tm.interim = ""
	if tm.sentenceBuffer != "" && needsSpace(tm.sentenceBuffer, text) {
		tm.sentenceBuffer += " "
	}
	tm.sentenceBuffer += text

	if tm.endsWithPunctuation() {
		return tm.complete(), true
	}
	return "", false
}

// Expire 检查静音和轮次时长，超时时返回已经确定的文本
func (tm *TurnManager) Expire(now time.Time) (string, bool) {
	if tm.sentenceBuffer == "" {
		return "", false
	}
	if now.Sub(tm.lastUpdateTime) > tm.config.SilenceTimeout {
		return tm.complete(), true
	}
	if now.Sub(tm.turnStart) > tm.config.MaxTurnDuration {
		return tm.complete(), true
	}
	return "", false
}

// Pending 用户是否有尚未结束的话
func (tm *TurnManager) Pending() bool {
	return tm.sentenceBuffer != "" || tm.interim != ""
}

// TurnSeq 已结束的轮次数
func (tm *TurnManager) TurnSeq() int {
	return tm.turnSeq
}

func (tm *TurnManager) endsWithPunctuation() bool {
	for _, mark := range tm.config.PunctuationMarks {
		if strings.HasSuffix(tm.sentenceBuffer, mark) {
			return true
		}
	}
	return false
}

func (tm *TurnManager) complete() string {
	text := tm.sentenceBuffer
	tm.sentenceBuffer = ""
	tm.interim = ""
	tm.turnStart = time.Time{}
	tm.turnSeq++
	return text
}

// needsSpace 拉丁文字之间补空格，中文直接拼接
func needsSpace(prev, next string) bool {
	last := prev[len(prev)-1]
	first := next[0]
	return last < 0x80 && first < 0x80
}
