package orchestrator

import (
	"context"
	"runtime"
	"time"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/flux"
)

// DefaultQuantum 输入设备为空时每轮最多等待的时间
const DefaultQuantum = 2 * time.Millisecond

// Conversation 是轮询循环驱动的对话
type Conversation interface {
	Start(ctx context.Context) error
	ReceiveAudio(chunk *codec.AudioChunk)
	IsActive() bool
	Terminate()
}

// Orchestrator 从输入设备非阻塞地读取音频交给对话，直到对话结束或收到终止请求。
// 退出时释放输入输出设备。
type Orchestrator struct {
	conv    Conversation
	source  *flux.GuardedSource
	sink    *flux.GuardedSink
	quantum time.Duration
	control chan struct{}
	timer   *time.Timer
}

// New 创建 Orchestrator。quantum <= 0 时空闲轮次只让出调度，不等待。
// source 和 sink 应当是传给对话的同一个 flux.GuardSource / flux.GuardSink，这样两边的释放只生效一次。
func New(conv Conversation, source flux.Source, sink flux.Sink, quantum time.Duration) *Orchestrator {
	o := &Orchestrator{
		conv:    conv,
		quantum: quantum,
		control: make(chan struct{}, 1),
	}
	if source != nil {
		o.source = flux.GuardSource(source)
	}
	if sink != nil {
		o.sink = flux.GuardSink(sink)
	}
	return o
}

// Start 启动对话。启动期间收到的终止请求会中止启动，对话进入 TERMINATED 并释放设备，
// 此时 Start 返回 nil，随后的 Run 立即退出。
func (o *Orchestrator) Start(ctx context.Context) error {
	started := make(chan struct{})
	defer close(started)

	go func() {
		select {
		case <-o.control:
			logger.Info("Termination requested while starting")
			o.conv.Terminate()
		case <-started:
		}
	}()
	return o.conv.Start(ctx)
}

// RequestTermination 请求结束对话，不阻塞，可以在任何 goroutine 中重复调用
func (o *Orchestrator) RequestTermination() {
	select {
	case o.control <- struct{}{}:
	default:
	}
}

// Step 执行一轮：读取并转发一块音频，让出调度，处理终止请求。返回对话是否仍然活跃。
func (o *Orchestrator) Step() bool {
	forwarded := false
	if o.source != nil {
		if chunk, ok := o.source.TryRead(); ok {
			o.conv.ReceiveAudio(chunk)
			forwarded = true
		}
	}

	if o.yield(forwarded) {
		o.conv.Terminate()
		return false
	}

	select {
	case <-o.control:
		logger.Info("Termination requested")
		o.conv.Terminate()
		return false
	default:
	}
	return o.conv.IsActive()
}

// yield 让出调度。空闲时最多等待一个 quantum，期间收到终止请求立即返回 true。
func (o *Orchestrator) yield(forwarded bool) bool {
	if forwarded || o.quantum <= 0 {
		runtime.Gosched()
		return false
	}

	if o.timer == nil {
		o.timer = time.NewTimer(o.quantum)
	} else {
		o.timer.Reset(o.quantum)
	}
	select {
	case <-o.control:
		if !o.timer.Stop() {
			<-o.timer.C
		}
		logger.Info("Termination requested")
		return true
	case <-o.timer.C:
		return false
	}
}

// Run 循环执行 Step 直到对话结束。ctx 结束等同于一次终止请求。
// 返回前释放设备，即使对话已经释放过。
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.release()

	stop := context.AfterFunc(ctx, o.RequestTermination)
	defer stop()

	steps := 0
	for o.Step() {
		steps++
	}
	logger.Info("Poll loop exited after %d steps", steps)
	return nil
}

func (o *Orchestrator) release() {
	if o.source != nil {
		if err := o.source.Release(); err != nil {
			logger.Warn("Failed to release %s: %v", o.source.Name(), err)
		}
	}
	if o.sink != nil {
		if err := o.sink.Release(); err != nil {
			logger.Warn("Failed to release %s: %v", o.sink.Name(), err)
		}
	}
}
