package flux

import (
	"context"
	"sync"
	"sync/atomic"

	"voicelink/pkg/logic/codec"
)

// GuardedSource 保证底层设备只被释放一次，释放后不再产出数据
type GuardedSource struct {
	Source
	once     sync.Once
	released atomic.Bool
	err      error
}

// GuardSource 包装 s；s 已经是 GuardedSource 时原样返回
func GuardSource(s Source) *GuardedSource {
	if g, ok := s.(*GuardedSource); ok {
		return g
	}
	return &GuardedSource{Source: s}
}

func (g *GuardedSource) TryRead() (*codec.AudioChunk, bool) {
	if g.released.Load() {
		return nil, false
	}
	return g.Source.TryRead()
}

// Release 只有第一次调用会释放底层设备，之后返回第一次的结果
func (g *GuardedSource) Release() error {
	g.once.Do(func() {
		g.released.Store(true)
		g.err = g.Source.Release()
	})
	return g.err
}

func (g *GuardedSource) Released() bool {
	return g.released.Load()
}

// GuardedSink 保证底层设备只被释放一次，释放后写入返回 ErrReleased
type GuardedSink struct {
	Sink
	once     sync.Once
	released atomic.Bool
	err      error
}

func GuardSink(s Sink) *GuardedSink {
	if g, ok := s.(*GuardedSink); ok {
		return g
	}
	return &GuardedSink{Sink: s}
}

func (g *GuardedSink) Write(ctx context.Context, chunk *codec.AudioChunk) error {
	if g.released.Load() {
		return ErrReleased
	}
	return g.Sink.Write(ctx, chunk)
}

func (g *GuardedSink) Clear() error {
	if g.released.Load() {
		return nil
	}
	return g.Sink.Clear()
}

func (g *GuardedSink) Release() error {
	g.once.Do(func() {
		g.released.Store(true)
		g.err = g.Sink.Release()
	})
	return g.err
}

func (g *GuardedSink) Released() bool {
	return g.released.Load()
}
