package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voicelink/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBracketEncoder(t *testing.T) {
	enc := NewBracketEncoder(zap.NewProductionEncoderConfig())
	entry := zapcore.Entry{
		Level:      zapcore.WarnLevel,
		Time:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		LoggerName: "orchestrator",
		Message:    "source empty",
		Caller:     zapcore.NewEntryCaller(0, "/src/voicelink/pkg/x/y.go", 12, true),
	}

	buf, err := enc.EncodeEntry(entry, []zapcore.Field{zap.Int("chunks", 3), zap.String("id", "abc")})
	require.NoError(t, err)
	line := buf.String()

	assert.True(t, strings.HasPrefix(line, "[2024-01-02T03:04:05.000+0000][WARN][x/y.go:12][orchestrator] source empty"))
	assert.Contains(t, line, "chunks=3")
	assert.Contains(t, line, "id=abc")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestInitLogger_WritesRotatingFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "voicelink.log")
	cfg := config.LogConfig{Level: "debug", File: logFile, MaxSize: 1, MaxBackups: 1, MaxAge: 1}

	InitLogger(&cfg)
	Info("conversation %s started", "c-1")
	Debug("poll quantum %v", time.Millisecond)
	_ = Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO]")
	assert.Contains(t, string(data), "conversation c-1 started")
	assert.Contains(t, string(data), "poll quantum 1ms")
}
