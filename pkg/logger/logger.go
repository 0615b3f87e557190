package logger

import (
	"fmt"
	"os"
	"sync"

	"voicelink/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	Log   *zap.Logger
	Sugar *zap.SugaredLogger
	once  sync.Once
)

func init() {
	// InitLogger 之前的日志全部丢弃，库代码和测试可以直接调用
	Log = zap.NewNop()
	Sugar = Log.Sugar()
}

// BracketEncoder 输出 [时间][级别][调用位置] 消息 格式的单行日志
type BracketEncoder struct {
	zapcore.Encoder
	pool buffer.Pool
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() config.LogConfig {
	return config.LogConfig{
		Level:      "info",
		File:       "logs/voicelink.log",
		MaxSize:    100, // 100 MB
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

func NewBracketEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &BracketEncoder{
		Encoder: zapcore.NewJSONEncoder(cfg),
		pool:    buffer.NewPool(),
	}
}

func (e *BracketEncoder) Clone() zapcore.Encoder {
	return &BracketEncoder{
		Encoder: e.Encoder.Clone(),
		pool:    e.pool,
	}
}

func (e *BracketEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := e.pool.Get()

	buf.AppendString("[")
	buf.AppendString(entry.Time.Format("2006-01-02T15:04:05.000-0700"))
	buf.AppendString("][")
	buf.AppendString(entry.Level.CapitalString())
	buf.AppendString("][")
	buf.AppendString(entry.Caller.TrimmedPath())
	buf.AppendString("]")

	if entry.LoggerName != "" {
		buf.AppendString("[")
		buf.AppendString(entry.LoggerName)
		buf.AppendString("]")
	}

	buf.AppendString(" ")
	buf.AppendString(entry.Message)

	// 结构化字段追加在消息之后，key=value 形式
	if len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range fields {
			f.AddTo(enc)
		}
		for _, f := range fields {
			buf.AppendString(" ")
			buf.AppendString(f.Key)
			buf.AppendString("=")
			appendValue(buf, enc.Fields[f.Key])
		}
	}

	buf.AppendString("\n")
	return buf, nil
}

func appendValue(buf *buffer.Buffer, v interface{}) {
	switch val := v.(type) {
	case string:
		buf.AppendString(val)
	case error:
		buf.AppendString(val.Error())
	case bool:
		buf.AppendBool(val)
	case int64:
		buf.AppendInt(val)
	case int:
		buf.AppendInt(int64(val))
	case float64:
		buf.AppendFloat(val, 64)
	default:
		buf.AppendString(fmt.Sprint(val))
	}
}

// InitLogger 初始化全局 logger，只生效一次。
// cfg 为 nil 时使用 DefaultLogConfig；cfg.File 为空时只输出到 stdout。
func InitLogger(cfg *config.LogConfig) {
	once.Do(func() {
		if cfg == nil {
			defaultConfig := DefaultLogConfig()
			cfg = &defaultConfig
		}

		level := zap.InfoLevel
		if err := level.Set(cfg.Level); err != nil {
			level = zap.InfoLevel
		}

		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "time"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

		core := zapcore.NewCore(
			NewBracketEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			zap.NewAtomicLevelAt(level),
		)

		if cfg.File != "" {
			rotator := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
			fileCore := zapcore.NewCore(
				NewBracketEncoder(encoderConfig),
				zapcore.AddSync(rotator),
				zap.NewAtomicLevelAt(level),
			)
			core = zapcore.NewTee(core, fileCore)
		}

		Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
		Sugar = Log.Sugar()
	})
}

func Debug(msg string, fields ...interface{}) {
	Sugar.Debugf(msg, fields...)
}

func Info(msg string, fields ...interface{}) {
	Sugar.Infof(msg, fields...)
}

func Warn(msg string, fields ...interface{}) {
	Sugar.Warnf(msg, fields...)
}

func Error(msg string, fields ...interface{}) {
	Sugar.Errorf(msg, fields...)
}

func Fatal(msg string, fields ...interface{}) {
	Sugar.Fatalf(msg, fields...)
}

// With 返回带固定字段的 logger
func With(fields ...zap.Field) *zap.Logger {
	return Log.WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

// Named 返回带名字的 logger，名字会出现在日志前缀中
func Named(name string) *zap.Logger {
	return Log.WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// Sync 刷新缓冲的日志
func Sync() error {
	return Log.Sync()
}
