package flux

import (
	"context"
	"errors"

	"voicelink/pkg/logic/codec"
)

// ErrReleased 设备已释放
var ErrReleased = errors.New("audio device released")

// Source 是类似麦克风的输入设备。
// TryRead 不阻塞，暂时没有数据时返回 false；读取错误由设备自己记录，对外表现为没有数据。
type Source interface {
	Name() string
	Format() codec.Format
	TryRead() (*codec.AudioChunk, bool)
	Release() error
}

// Sink 是类似扬声器的输出设备，由语音合成写入。
// Write 可以阻塞到音频被播放或发送；Clear 丢弃尚未播放的音频。
type Sink interface {
	Name() string
	Format() codec.Format
	Write(ctx context.Context, chunk *codec.AudioChunk) error
	Clear() error
	Release() error
}
