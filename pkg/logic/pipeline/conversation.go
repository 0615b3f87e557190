package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"voicelink/pkg/logger"
	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/flux"
	"voicelink/pkg/logic/stt"

	"github.com/google/uuid"
)

const (
	turnCheckInterval = 100 * time.Millisecond
	replyQueueSize    = 8
)

// Options 对话配置
type Options struct {
	TurnManager   TurnManagerConfig
	Interrupt     bool          // 用户开口时打断正在播放的回复
	StatsInterval time.Duration // 0 表示不输出统计日志
}

// Stats 对话运行统计
type Stats struct {
	ID              string    `json:"id"`
	State           string    `json:"state"`
	StartedAt       time.Time `json:"started_at"`
	ChunksForwarded int64     `json:"chunks_forwarded"`
	ChunksDropped   int64     `json:"chunks_dropped"`
	ConsumeErrors   int64     `json:"consume_errors"`
	Turns           int64     `json:"turns"`
	Replies         int64     `json:"replies"`
	ReplyErrors     int64     `json:"reply_errors"`
	BargeIns        int64     `json:"barge_ins"`
}

type counters struct {
	forwarded     atomic.Int64
	dropped       atomic.Int64
	consumeErrors atomic.Int64
	turns         atomic.Int64
	replies       atomic.Int64
	replyErrors   atomic.Int64
	bargeIns      atomic.Int64
}

// Conversation 一次语音对话：识别 -> 对话代理 -> 合成。
// 状态机 CREATED -> STARTING -> ACTIVE -> TERMINATING -> TERMINATED，
// 进入 TERMINATED 后输入输出设备都已释放。
type Conversation struct {
	id          string
	opts        Options
	transcriber Transcriber
	agent       Agent
	synthesizer Synthesizer
	source      *flux.GuardedSource
	sink        *flux.GuardedSink

	// mu 保护状态。ReceiveAudio 转发时持有读锁，离开 ACTIVE 需要写锁。
	mu                 sync.RWMutex
	state              State
	startCancel        context.CancelFunc
	terminateRequested bool
	turnCancel         context.CancelFunc
	startedAt          time.Time
	done               chan struct{}

	turnWG      sync.WaitGroup
	releaseOnce sync.Once
	stats       counters

	turns   *TurnManager
	replies chan string

	replyMu     sync.Mutex
	replyCancel context.CancelFunc
	replyID     uint64
}

// NewConversation 创建对话。source 和 sink 在对话结束时释放，可以为 nil。
func NewConversation(opts Options, transcriber Transcriber, agent Agent, synthesizer Synthesizer, source flux.Source, sink flux.Sink) *Conversation {
	c := &Conversation{
		id:          uuid.NewString(),
		opts:        opts,
		transcriber: transcriber,
		agent:       agent,
		synthesizer: synthesizer,
		state:       StateCreated,
		done:        make(chan struct{}),
		turns:       NewTurnManager(opts.TurnManager),
		replies:     make(chan string, replyQueueSize),
	}
	if source != nil {
		c.source = flux.GuardSource(source)
	}
	if sink != nil {
		c.sink = flux.GuardSink(sink)
	}
	return c
}

func (c *Conversation) ID() string {
	return c.id
}

// State 当前状态
func (c *Conversation) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsActive 只有 ACTIVE 状态返回 true
func (c *Conversation) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateActive
}

// Done 对话进入 TERMINATED 后关闭
func (c *Conversation) Done() <-chan struct{} {
	return c.done
}

// Start 依次启动识别、对话代理和合成，成功后进入 ACTIVE。
// 任何一个启动失败时，已启动的协作者按逆序停止，设备被释放，返回 *InitializationError。
// 启动过程中被 Terminate 时返回 nil。
func (c *Conversation) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateCreated {
		state := c.state
		c.mu.Unlock()
		logger.Warn("Conversation %s: Start called in state %s", c.id, state)
		return ErrInvalidState
	}
	c.state = StateStarting
	startCtx, cancel := context.WithCancel(ctx)
	c.startCancel = cancel
	c.mu.Unlock()
	defer cancel()

	logger.Info("Conversation %s: starting", c.id)

	started := make([]collaborator, 0, 3)
	for _, col := range []collaborator{c.transcriber, c.agent, c.synthesizer} {
		if err := col.Start(startCtx); err != nil {
			stopInReverse(started)
			c.releaseDevices()

			c.mu.Lock()
			aborted := c.terminateRequested
			c.finishLocked()
			c.mu.Unlock()

			if aborted {
				logger.Info("Conversation %s: terminated while starting", c.id)
				return nil
			}
			logger.Error("Conversation %s: failed to start %s: %v", c.id, col.Name(), err)
			return &InitializationError{Collaborator: col.Name(), Err: err}
		}
		logger.Info("Conversation %s: started %s", c.id, col.Name())
		started = append(started, col)
	}

	c.mu.Lock()
	if c.terminateRequested {
		c.state = StateTerminating
		c.mu.Unlock()
		stopInReverse(started)
		c.releaseDevices()
		c.mu.Lock()
		c.finishLocked()
		c.mu.Unlock()
		logger.Info("Conversation %s: terminated while starting", c.id)
		return nil
	}

	turnCtx, turnCancel := context.WithCancel(context.Background())
	c.turnCancel = turnCancel
	c.startedAt = time.Now()
	c.state = StateActive

	c.turnWG.Add(2)
	go c.turnLoop(turnCtx)
	go c.replyLoop(turnCtx)
	if c.opts.StatsInterval > 0 {
		c.turnWG.Add(1)
		go c.statsLoop(turnCtx)
	}
	c.mu.Unlock()

	logger.Info("Conversation %s: active", c.id)
	return nil
}

// ReceiveAudio 只在 ACTIVE 状态把音频转发给识别，其他状态静默丢弃
func (c *Conversation) ReceiveAudio(chunk *codec.AudioChunk) {
	if chunk == nil {
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateActive {
		c.stats.dropped.Add(1)
		return
	}

	if err := c.transcriber.Consume(chunk); err != nil {
		if c.stats.consumeErrors.Add(1)%100 == 1 {
			logger.Warn("Conversation %s: %s rejected chunk seq=%d: %v", c.id, c.transcriber.Name(), chunk.Seq(), err)
		}
		return
	}
	c.stats.forwarded.Add(1)
}

// Terminate 结束对话，可以在任何状态、任意次数、并发调用。返回时对话已进入 TERMINATED。
func (c *Conversation) Terminate() {
	c.mu.Lock()
	switch c.state {
	case StateCreated:
		c.state = StateTerminating
		c.mu.Unlock()
		c.releaseDevices()
		c.mu.Lock()
		c.finishLocked()
		c.mu.Unlock()
		logger.Info("Conversation %s: terminated before start", c.id)
	case StateStarting:
		c.terminateRequested = true
		c.startCancel()
		c.mu.Unlock()
		<-c.done
	case StateActive:
		c.state = StateTerminating
		c.mu.Unlock()
		c.shutdown()
	default:
		c.mu.Unlock()
		<-c.done
	}
}

// shutdown 停止轮次循环和所有协作者，释放设备
func (c *Conversation) shutdown() {
	logger.Info("Conversation %s: terminating", c.id)

	c.turnCancel()
	c.cancelReply()
	stopInReverse([]collaborator{c.transcriber, c.agent, c.synthesizer})
	c.turnWG.Wait()
	c.releaseDevices()

	c.mu.Lock()
	c.finishLocked()
	c.mu.Unlock()

	c.logStats()
	logger.Info("Conversation %s: terminated", c.id)
}

// finishLocked 进入 TERMINATED，调用方持有写锁
func (c *Conversation) finishLocked() {
	if c.state == StateTerminated {
		return
	}
	c.state = StateTerminated
	close(c.done)
}

func (c *Conversation) releaseDevices() {
	c.releaseOnce.Do(func() {
		if c.source != nil {
			if err := c.source.Release(); err != nil {
				logger.Warn("Conversation %s: release %s: %v", c.id, c.source.Name(), err)
			}
		}
		if c.sink != nil {
			if err := c.sink.Release(); err != nil {
				logger.Warn("Conversation %s: release %s: %v", c.id, c.sink.Name(), err)
			}
		}
	})
}

func stopInReverse(cols []collaborator) {
	for i := len(cols) - 1; i >= 0; i-- {
		if err := cols[i].Stop(); err != nil {
			logger.Warn("Failed to stop component %s: %v", cols[i].Name(), err)
			continue
		}
		logger.Info("Stopped component: %s", cols[i].Name())
	}
}

// turnLoop 读取识别结果，断句后交给 replyLoop
func (c *Conversation) turnLoop(ctx context.Context) {
	defer c.turnWG.Done()

	ticker := time.NewTicker(turnCheckInterval)
	defer ticker.Stop()

	transcripts := c.transcriber.Transcripts()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-transcripts:
			if !ok {
				if c.IsActive() {
					logger.Error("Conversation %s: %s stopped delivering transcripts, terminating", c.id, c.transcriber.Name())
					go c.Terminate()
				}
				return
			}
			c.handleTranscript(t)
		case now := <-ticker.C:
			if text, ok := c.turns.Expire(now); ok {
				c.dispatch(text)
			}
		}
	}
}

func (c *Conversation) handleTranscript(t stt.Transcript) {
	if t.Text == "" {
		return
	}
	if c.opts.Interrupt && c.speaking() {
		c.bargeIn()
	}
	if text, ok := c.turns.Push(t); ok {
		c.dispatch(text)
	}
}

// dispatch 把一句话排队等待回复，队列满时丢弃最早的一句
func (c *Conversation) dispatch(text string) {
	c.stats.turns.Add(1)
	logger.Info("Conversation %s: turn %d: %s", c.id, c.turns.TurnSeq(), text)
	for {
		select {
		case c.replies <- text:
			return
		default:
			select {
			case old := <-c.replies:
				logger.Warn("Conversation %s: reply queue full, dropping turn: %s", c.id, old)
			default:
			}
		}
	}
}

// replyLoop 先说初始消息，然后逐句生成并播放回复
func (c *Conversation) replyLoop(ctx context.Context) {
	defer c.turnWG.Done()

	if msg := c.agent.InitialMessage(); msg != "" {
		replyCtx, id := c.beginReply(ctx)
		if err := c.synthesizer.Speak(replyCtx, msg); err != nil && replyCtx.Err() == nil {
			c.stats.replyErrors.Add(1)
			logger.Error("Conversation %s: failed to speak initial message: %v", c.id, err)
		}
		c.endReply(id)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.replies:
			c.reply(ctx, text)
		}
	}
}

func (c *Conversation) reply(ctx context.Context, text string) {
	replyCtx, id := c.beginReply(ctx)
	defer c.endReply(id)

	answer, err := c.agent.Respond(replyCtx, text)
	if err != nil {
		if replyCtx.Err() == nil {
			c.stats.replyErrors.Add(1)
			logger.Error("Conversation %s: %s failed: %v", c.id, c.agent.Name(), err)
		}
		return
	}
	c.stats.replies.Add(1)

	if err := c.synthesizer.Speak(replyCtx, answer); err != nil && replyCtx.Err() == nil {
		c.stats.replyErrors.Add(1)
		logger.Error("Conversation %s: %s failed: %v", c.id, c.synthesizer.Name(), err)
	}
}

func (c *Conversation) beginReply(ctx context.Context) (context.Context, uint64) {
	replyCtx, cancel := context.WithCancel(ctx)
	c.replyMu.Lock()
	defer c.replyMu.Unlock()
	c.replyID++
	c.replyCancel = cancel
	return replyCtx, c.replyID
}

func (c *Conversation) endReply(id uint64) {
	c.replyMu.Lock()
	defer c.replyMu.Unlock()
	if c.replyID == id && c.replyCancel != nil {
		c.replyCancel()
		c.replyCancel = nil
	}
}

func (c *Conversation) speaking() bool {
	c.replyMu.Lock()
	defer c.replyMu.Unlock()
	return c.replyCancel != nil
}

// cancelReply 取消正在进行的回复，返回是否有回复被取消
func (c *Conversation) cancelReply() bool {
	c.replyMu.Lock()
	defer c.replyMu.Unlock()
	if c.replyCancel == nil {
		return false
	}
	c.replyCancel()
	c.replyCancel = nil
	return true
}

// bargeIn 用户开口时停止播放，丢弃排队中的回复
func (c *Conversation) bargeIn() {
	if !c.cancelReply() {
		return
	}
	for drained := false; !drained; {
		select {
		case <-c.replies:
		default:
			drained = true
		}
	}
	if c.sink != nil {
		if err := c.sink.Clear(); err != nil {
			logger.Warn("Conversation %s: clear %s: %v", c.id, c.sink.Name(), err)
		}
	}
	c.stats.bargeIns.Add(1)
	logger.Info("Conversation %s: user interrupted the reply", c.id)
}

// Stats 返回当前统计
func (c *Conversation) Stats() Stats {
	c.mu.RLock()
	state, startedAt := c.state, c.startedAt
	c.mu.RUnlock()

	return Stats{
		ID:              c.id,
		State:           state.String(),
		StartedAt:       startedAt,
		ChunksForwarded: c.stats.forwarded.Load(),
		ChunksDropped:   c.stats.dropped.Load(),
		ConsumeErrors:   c.stats.consumeErrors.Load(),
		Turns:           c.stats.turns.Load(),
		Replies:         c.stats.replies.Load(),
		ReplyErrors:     c.stats.replyErrors.Load(),
		BargeIns:        c.stats.bargeIns.Load(),
	}
}

func (c *Conversation) statsLoop(ctx context.Context) {
	defer c.turnWG.Done()

	ticker := time.NewTicker(c.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.logStats()
		}
	}
}

func (c *Conversation) logStats() {
	s := c.Stats()
	logger.Info("Conversation Stats: id=%s state=%s forwarded=%d dropped=%d consume_err=%d turns=%d replies=%d reply_err=%d barge_in=%d",
		s.ID, s.State, s.ChunksForwarded, s.ChunksDropped, s.ConsumeErrors, s.Turns, s.Replies, s.ReplyErrors, s.BargeIns)
}
