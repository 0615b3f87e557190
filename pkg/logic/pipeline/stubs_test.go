package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"voicelink/pkg/logic/codec"
	"voicelink/pkg/logic/flux"
	"voicelink/pkg/logic/stt"
)

var testFormat = codec.Format{SampleRate: 16000, Channels: 1}

func testChunk(seq uint64) *codec.AudioChunk {
	return codec.NewAudioChunk(make([]byte, 640), seq, time.Now(), testFormat)
}

// events 记录协作者的启动和停止顺序
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type stubBase struct {
	name     string
	ev       *events
	startErr error
	// startBlock 非空时 Start 阻塞到 ctx 结束
	startBlock chan struct{}
	// ignoreCancel 为 true 时 ctx 结束后 Start 仍然成功返回
	ignoreCancel bool
	stops        atomic.Int32
}

func (s *stubBase) Name() string { return s.name }

func (s *stubBase) Start(ctx context.Context) error {
	if s.startBlock != nil {
		close(s.startBlock)
		<-ctx.Done()
		if !s.ignoreCancel {
			return ctx.Err()
		}
	}
	if s.startErr != nil {
		return s.startErr
	}
	s.ev.add("start:" + s.name)
	return nil
}

func (s *stubBase) Stop() error {
	s.stops.Add(1)
	s.ev.add("stop:" + s.name)
	return nil
}

type stubTranscriber struct {
	stubBase
	mu       sync.Mutex
	chunks   []*codec.AudioChunk
	out      chan stt.Transcript
	once     sync.Once
	consumed atomic.Int64
	// consumeErr 非空时 Consume 拒绝所有音频
	consumeErr error
	// closeOnStop 为 false 时 Stop 不关闭结果通道
	closeOnStop bool
}

func newStubTranscriber(ev *events) *stubTranscriber {
	return &stubTranscriber{
		stubBase:    stubBase{name: "transcriber", ev: ev},
		out:         make(chan stt.Transcript, 16),
		closeOnStop: true,
	}
}

func (t *stubTranscriber) Consume(chunk *codec.AudioChunk) error {
	if t.consumeErr != nil {
		return t.consumeErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, chunk)
	t.consumed.Add(1)
	return nil
}

func (t *stubTranscriber) Transcripts() <-chan stt.Transcript { return t.out }

func (t *stubTranscriber) Stop() error {
	if t.closeOnStop {
		t.closeOut()
	}
	return t.stubBase.Stop()
}

func (t *stubTranscriber) closeOut() {
	t.once.Do(func() { close(t.out) })
}

func (t *stubTranscriber) say(text string) {
	t.out <- stt.Transcript{Text: text, Final: true, At: time.Now()}
}

type stubAgent struct {
	stubBase
	initial string
	mu      sync.Mutex
	heard   []string
}

func newStubAgent(ev *events) *stubAgent {
	return &stubAgent{stubBase: stubBase{name: "agent", ev: ev}}
}

func (a *stubAgent) InitialMessage() string { return a.initial }

func (a *stubAgent) Respond(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	a.heard = append(a.heard, text)
	a.mu.Unlock()
	return "reply: " + text, ctx.Err()
}

func (a *stubAgent) Heard() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.heard...)
}

type stubSynthesizer struct {
	stubBase
	mu     sync.Mutex
	spoken []string
	// block 非空时 Speak 阻塞到 ctx 结束
	block    bool
	speaking chan struct{}
}

func newStubSynthesizer(ev *events) *stubSynthesizer {
	return &stubSynthesizer{
		stubBase: stubBase{name: "synthesizer", ev: ev},
		speaking: make(chan struct{}, 16),
	}
}

func (s *stubSynthesizer) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	s.speaking <- struct{}{}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *stubSynthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type countingSource struct {
	flux.NullSource
	releases atomic.Int32
}

func (s *countingSource) Release() error {
	s.releases.Add(1)
	return nil
}

type countingSink struct {
	flux.NullSink
	releases atomic.Int32
	clears   atomic.Int32
}

func (s *countingSink) Release() error {
	s.releases.Add(1)
	return nil
}

func (s *countingSink) Clear() error {
	s.clears.Add(1)
	return nil
}

type fixture struct {
	ev     *events
	tr     *stubTranscriber
	agent  *stubAgent
	synth  *stubSynthesizer
	source *countingSource
	sink   *countingSink
}

func newFixture() *fixture {
	ev := &events{}
	return &fixture{
		ev:     ev,
		tr:     newStubTranscriber(ev),
		agent:  newStubAgent(ev),
		synth:  newStubSynthesizer(ev),
		source: &countingSource{},
		sink:   &countingSink{},
	}
}

func (f *fixture) conversation(opts Options) *Conversation {
	return NewConversation(opts, f.tr, f.agent, f.synth, f.source, f.sink)
}

var errBoom = errors.New("boom")
