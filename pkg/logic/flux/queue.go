package flux

import (
	"sync/atomic"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
)

// defaultQueueSize 20ms 一帧时约 10 秒音频
const defaultQueueSize = 500

// chunkQueue 连接设备采集协程和非阻塞的 TryRead
type chunkQueue struct {
	name    string
	ch      chan *codec.AudioChunk
	dropped atomic.Int64
}

func newChunkQueue(name string, size int) *chunkQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &chunkQueue{
		name: name,
		ch:   make(chan *codec.AudioChunk, size),
	}
}

// push 不阻塞，队列满时丢弃新数据
func (q *chunkQueue) push(chunk *codec.AudioChunk) bool {
	select {
	case q.ch <- chunk:
		return true
	default:
		if q.dropped.Add(1)%50 == 1 {
			logger.Warn("**%s** capture queue full, dropping chunk seq=%d (dropped=%d)", q.name, chunk.Seq(), q.dropped.Load())
		}
		return false
	}
}

func (q *chunkQueue) tryPop() (*codec.AudioChunk, bool) {
	select {
	case chunk := <-q.ch:
		return chunk, true
	default:
		return nil, false
	}
}

func (q *chunkQueue) Dropped() int64 {
	return q.dropped.Load()
}
