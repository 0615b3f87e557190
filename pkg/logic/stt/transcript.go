package stt

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNotStarted     = errors.New("recognizer not started")
	ErrAlreadyStarted = errors.New("recognizer already started")
)

// Transcript 一条识别结果。Final 为 false 时是中间结果，后续可能被修正。
type Transcript struct {
	Text  string
	Final bool
	At    time.Time
}

// transcriptStream 识别回调到对话之间的结果通道，可以安全地重复关闭
type transcriptStream struct {
	mu     sync.Mutex
	ch     chan Transcript
	closed bool
}

func newTranscriptStream(size int) *transcriptStream {
	return &transcriptStream{ch: make(chan Transcript, size)}
}

// emit 不阻塞。通道已满时丢弃最旧的一条，返回是否有结果被丢弃。
func (s *transcriptStream) emit(t Transcript) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	for {
		select {
		case s.ch <- t:
			return dropped
		default:
			select {
			case <-s.ch:
				dropped = true
			default:
			}
		}
	}
}

func (s *transcriptStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *transcriptStream) C() <-chan Transcript {
	return s.ch
}
