package flux

import (
	"context"

	"voicelink/pkg/logic/codec"
)

// NullSource 永远没有数据
type NullSource struct {
	format codec.Format
}

func NewNullSource(format codec.Format) *NullSource {
	return &NullSource{format: format}
}

func (s *NullSource) Name() string                       { return "NullSource" }
func (s *NullSource) Format() codec.Format               { return s.format }
func (s *NullSource) TryRead() (*codec.AudioChunk, bool) { return nil, false }
func (s *NullSource) Release() error                     { return nil }

// NullSink 丢弃所有写入
type NullSink struct {
	format codec.Format
}

func NewNullSink(format codec.Format) *NullSink {
	return &NullSink{format: format}
}

func (s *NullSink) Name() string         { return "NullSink" }
func (s *NullSink) Format() codec.Format { return s.format }
func (s *NullSink) Clear() error         { return nil }
func (s *NullSink) Release() error       { return nil }

func (s *NullSink) Write(ctx context.Context, chunk *codec.AudioChunk) error {
	return ctx.Err()
}
