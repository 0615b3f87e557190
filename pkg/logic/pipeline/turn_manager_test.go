package pipeline

import (
	"testing"
	"time"

	"voicelink/pkg/logic/stt"

	"github.com/stretchr/testify/assert"
)

func TestTurnManager_PunctuationEndsTurn(t *testing.T) {
	tm := NewTurnManager(TurnManagerConfig{})
	now := time.Now()

	_, ok := tm.Push(stt.Transcript{Text: "今天", At: now})
	assert.False(t, ok)
	assert.True(t, tm.Pending())

	_, ok = tm.Push(stt.Transcript{Text: "今天天气", Final: true, At: now})
	assert.False(t, ok)

	text, ok := tm.Push(stt.Transcript{Text: "怎么样？", Final: true, At: now})
	assert.True(t, ok)
	assert.Equal(t, "今天天气怎么样？", text)
	assert.False(t, tm.Pending())
	assert.Equal(t, 1, tm.TurnSeq())
}

func TestTurnManager_JoinsLatinWithSpace(t *testing.T) {
	tm := NewTurnManager(TurnManagerConfig{})
	tm.Push(stt.Transcript{Text: "hello", Final: true})
	text, ok := tm.Push(stt.Transcript{Text: "world.", Final: true})
	assert.True(t, ok)
	assert.Equal(t, "hello world.", text)
}

func TestTurnManager_SilenceTimeout(t *testing.T) {
	tm := NewTurnManager(TurnManagerConfig{SilenceTimeout: time.Second})
	start := time.Now()

	tm.Push(stt.Transcript{Text: "wait for it", Final: true, At: start})

	_, ok := tm.Expire(start.Add(500 * time.Millisecond))
	assert.False(t, ok)

	text, ok := tm.Expire(start.Add(1500 * time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, "wait for it", text)

	_, ok = tm.Expire(start.Add(3 * time.Second))
	assert.False(t, ok)
}

func TestTurnManager_InterimOnlyNeverExpires(t *testing.T) {
	tm := NewTurnManager(TurnManagerConfig{SilenceTimeout: time.Second})
	start := time.Now()

	tm.Push(stt.Transcript{Text: "嗯", At: start})
	_, ok := tm.Expire(start.Add(time.Minute))
	assert.False(t, ok)
	assert.True(t, tm.Pending())
}

func TestTurnManager_MaxTurnDuration(t *testing.T) {
	tm := NewTurnManager(TurnManagerConfig{SilenceTimeout: time.Minute, MaxTurnDuration: 5 * time.Second})
	start := time.Now()

	tm.Push(stt.Transcript{Text: "one", Final: true, At: start})
	tm.Push(stt.Transcript{Text: "two", At: start.Add(4 * time.Second)})

	text, ok := tm.Expire(start.Add(6 * time.Second))
	assert.True(t, ok)
	assert.Equal(t, "one", text)
}

func TestTurnManager_IgnoresBlankText(t *testing.T) {
	tm := NewTurnManager(TurnManagerConfig{})
	_, ok := tm.Push(stt.Transcript{Text: "   ", Final: true})
	assert.False(t, ok)
	assert.False(t, tm.Pending())
}

func TestTurnManager_CustomPunctuation(t *testing.T) {
	tm := NewTurnManager(TurnManagerConfig{PunctuationMarks: []string{";"}})
	_, ok := tm.Push(stt.Transcript{Text: "stop.", Final: true})
	assert.False(t, ok)
	text, ok := tm.Push(stt.Transcript{Text: "now;", Final: true})
	assert.True(t, ok)
	assert.Equal(t, "stop. now;", text)
}
