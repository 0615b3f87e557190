package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_StartReceiveTerminate(t *testing.T) {
	f := newFixture()
	conv := f.conversation(Options{})
	assert.Equal(t, StateCreated, conv.State())
	assert.NotEmpty(t, conv.ID())

	// 未启动时音频被丢弃
	conv.ReceiveAudio(testChunk(0))
	assert.Zero(t, f.tr.consumed.Load())

	require.NoError(t, conv.Start(context.Background()))
	assert.True(t, conv.IsActive())
	assert.Equal(t, []string{"start:transcriber", "start:agent", "start:synthesizer"}, f.ev.list())

	for i := uint64(1); i <= 3; i++ {
		conv.ReceiveAudio(testChunk(i))
	}
	assert.EqualValues(t, 3, f.tr.consumed.Load())

	conv.Terminate()
	assert.Equal(t, StateTerminated, conv.State())
	assert.False(t, conv.IsActive())
	assert.Equal(t, []string{
		"start:transcriber", "start:agent", "start:synthesizer",
		"stop:synthesizer", "stop:agent", "stop:transcriber",
	}, f.ev.list())

	conv.ReceiveAudio(testChunk(4))
	assert.EqualValues(t, 3, f.tr.consumed.Load())

	stats := conv.Stats()
	assert.EqualValues(t, 3, stats.ChunksForwarded)
	assert.EqualValues(t, 2, stats.ChunksDropped)
	assert.Equal(t, "TERMINATED", stats.State)

	select {
	case <-conv.Done():
	default:
		t.Fatal("Done not closed after Terminate")
	}
}

func TestConversation_TerminateIsIdempotent(t *testing.T) {
	f := newFixture()
	conv := f.conversation(Options{})
	require.NoError(t, conv.Start(context.Background()))

	conv.Terminate()
	conv.Terminate()

	assert.Equal(t, StateTerminated, conv.State())
	assert.EqualValues(t, 1, f.tr.stops.Load())
	assert.EqualValues(t, 1, f.agent.stops.Load())
	assert.EqualValues(t, 1, f.synth.stops.Load())
	assert.EqualValues(t, 1, f.source.releases.Load())
	assert.EqualValues(t, 1, f.sink.releases.Load())
}

func TestConversation_ConcurrentTerminate(t *testing.T) {
	f := newFixture()
	conv := f.conversation(Options{})
	require.NoError(t, conv.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv.Terminate()
			assert.Equal(t, StateTerminated, conv.State())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.synth.stops.Load())
	assert.EqualValues(t, 1, f.source.releases.Load())
	assert.EqualValues(t, 1, f.sink.releases.Load())
}

func TestConversation_TerminateBeforeStart(t *testing.T) {
	f := newFixture()
	conv := f.conversation(Options{})

	conv.Terminate()
	assert.Equal(t, StateTerminated, conv.State())
	assert.EqualValues(t, 1, f.source.releases.Load())
	assert.Empty(t, f.ev.list())

	assert.ErrorIs(t, conv.Start(context.Background()), ErrInvalidState)
}

func TestConversation_StartTwice(t *testing.T) {
	f := newFixture()
	conv := f.conversation(Options{})
	require.NoError(t, conv.Start(context.Background()))
	defer conv.Terminate()

	assert.ErrorIs(t, conv.Start(context.Background()), ErrInvalidState)
	assert.True(t, conv.IsActive())
}

func TestConversation_InitializationFailure(t *testing.T) {
	f := newFixture()
	f.synth.startErr = errBoom
	conv := f.conversation(Options{})

	err := conv.Start(context.Background())
	require.Error(t, err)

	var initErr *InitializationError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "synthesizer", initErr.Collaborator)
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, StateTerminated, conv.State())
	assert.Equal(t, []string{
		"start:transcriber", "start:agent",
		"stop:agent", "stop:transcriber",
	}, f.ev.list())
	assert.Zero(t, f.synth.stops.Load())
	assert.EqualValues(t, 1, f.source.releases.Load())
	assert.EqualValues(t, 1, f.sink.releases.Load())

	// 失败之后 Terminate 不会再次停止或释放
	conv.Terminate()
	assert.EqualValues(t, 1, f.agent.stops.Load())
	assert.EqualValues(t, 1, f.source.releases.Load())
}

func TestConversation_FirstCollaboratorFails(t *testing.T) {
	f := newFixture()
	f.tr.startErr = errBoom
	conv := f.conversation(Options{})

	err := conv.Start(context.Background())
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "transcriber", initErr.Collaborator)
	assert.Empty(t, f.ev.list())
	assert.EqualValues(t, 1, f.sink.releases.Load())
}

func TestConversation_TerminateWhileStarting(t *testing.T) {
	f := newFixture()
	f.agent.startBlock = make(chan struct{})
	conv := f.conversation(Options{})

	result := make(chan error, 1)
	go func() { result <- conv.Start(context.Background()) }()

	<-f.agent.startBlock
	assert.Equal(t, StateStarting, conv.State())

	conv.Terminate()
	assert.Equal(t, StateTerminated, conv.State())

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Terminate")
	}
	assert.Equal(t, []string{"start:transcriber", "stop:transcriber"}, f.ev.list())
	assert.EqualValues(t, 1, f.source.releases.Load())
}

func TestConversation_TerminateWhileStartingIgnoresContext(t *testing.T) {
	f := newFixture()
	f.agent.startBlock = make(chan struct{})
	f.agent.ignoreCancel = true
	conv := f.conversation(Options{})

	result := make(chan error, 1)
	go func() { result <- conv.Start(context.Background()) }()

	<-f.agent.startBlock
	conv.Terminate()
	assert.Equal(t, StateTerminated, conv.State())

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Terminate")
	}
	assert.Equal(t, []string{
		"start:transcriber", "start:agent", "start:synthesizer",
		"stop:synthesizer", "stop:agent", "stop:transcriber",
	}, f.ev.list())
	assert.EqualValues(t, 1, f.source.releases.Load())
	assert.EqualValues(t, 1, f.sink.releases.Load())
	assert.False(t, conv.IsActive())
}

func TestConversation_RejectedChunksAreNotForwarded(t *testing.T) {
	f := newFixture()
	f.tr.consumeErr = errBoom
	conv := f.conversation(Options{})
	require.NoError(t, conv.Start(context.Background()))
	defer conv.Terminate()

	conv.ReceiveAudio(testChunk(0))
	conv.ReceiveAudio(testChunk(1))

	stats := conv.Stats()
	assert.Zero(t, stats.ChunksForwarded)
	assert.EqualValues(t, 2, stats.ConsumeErrors)
	assert.True(t, conv.IsActive())
}

func TestConversation_NoDeliveryAfterTermination(t *testing.T) {
	f := newFixture()
	conv := f.conversation(Options{})
	require.NoError(t, conv.Start(context.Background()))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := uint64(0); ; seq++ {
				select {
				case <-stop:
					return
				default:
					conv.ReceiveAudio(testChunk(seq))
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	conv.Terminate()
	atDone := f.tr.consumed.Load()
	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, atDone, f.tr.consumed.Load())
	assert.Equal(t, atDone, conv.Stats().ChunksForwarded)
}

func TestConversation_InitialMessageAndReply(t *testing.T) {
	f := newFixture()
	f.agent.initial = "你好，有什么可以帮你？"
	conv := f.conversation(Options{})
	require.NoError(t, conv.Start(context.Background()))
	defer conv.Terminate()

	<-f.synth.speaking
	f.tr.say("今天天气怎么样？")

	select {
	case <-f.synth.speaking:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply spoken")
	}

	assert.Equal(t, []string{"今天天气怎么样？"}, f.agent.Heard())
	assert.Equal(t, []string{"你好，有什么可以帮你？", "reply: 今天天气怎么样？"}, f.synth.Spoken())
	assert.Eventually(t, func() bool { return conv.Stats().Replies == 1 }, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, conv.Stats().Turns)
}

func TestConversation_SilenceEndsTurn(t *testing.T) {
	f := newFixture()
	conv := f.conversation(Options{TurnManager: TurnManagerConfig{SilenceTimeout: 50 * time.Millisecond}})
	require.NoError(t, conv.Start(context.Background()))
	defer conv.Terminate()

	f.tr.say("no punctuation here")

	select {
	case <-f.synth.speaking:
	case <-time.After(2 * time.Second):
		t.Fatal("silence did not end the turn")
	}
	assert.Equal(t, []string{"no punctuation here"}, f.agent.Heard())
}

func TestConversation_BargeIn(t *testing.T) {
	f := newFixture()
	f.agent.initial = "a long greeting"
	f.synth.block = true
	conv := f.conversation(Options{Interrupt: true})
	require.NoError(t, conv.Start(context.Background()))
	defer conv.Terminate()

	<-f.synth.speaking
	f.tr.say("等一下。")

	select {
	case <-f.synth.speaking:
	case <-time.After(2 * time.Second):
		t.Fatal("reply after barge-in not spoken")
	}
	assert.EqualValues(t, 1, conv.Stats().BargeIns)
	assert.EqualValues(t, 1, f.sink.clears.Load())
	assert.Equal(t, []string{"a long greeting", "reply: 等一下。"}, f.synth.Spoken())
}

func TestConversation_NoBargeInWhenDisabled(t *testing.T) {
	f := newFixture()
	f.agent.initial = "a long greeting"
	f.synth.block = true
	conv := f.conversation(Options{})
	require.NoError(t, conv.Start(context.Background()))

	<-f.synth.speaking
	f.tr.say("hello.")
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, conv.Stats().BargeIns)
	assert.Zero(t, f.sink.clears.Load())
	assert.Equal(t, []string{"a long greeting"}, f.synth.Spoken())

	conv.Terminate()
	assert.Equal(t, StateTerminated, conv.State())
}

func TestConversation_TerminatesWhenTranscriptsClose(t *testing.T) {
	f := newFixture()
	conv := f.conversation(Options{})
	require.NoError(t, conv.Start(context.Background()))

	f.tr.closeOut()

	select {
	case <-conv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("conversation did not terminate itself")
	}
	assert.Equal(t, StateTerminated, conv.State())
	assert.EqualValues(t, 1, f.tr.stops.Load())
	assert.EqualValues(t, 1, f.source.releases.Load())
}

func TestConversation_NilDevices(t *testing.T) {
	f := newFixture()
	conv := NewConversation(Options{StatsInterval: 10 * time.Millisecond}, f.tr, f.agent, f.synth, nil, nil)
	require.NoError(t, conv.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	conv.ReceiveAudio(nil)
	conv.Terminate()
	assert.Equal(t, StateTerminated, conv.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CREATED", StateCreated.String())
	assert.Equal(t, "STARTING", StateStarting.String())
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "TERMINATING", StateTerminating.String())
	assert.Equal(t, "TERMINATED", StateTerminated.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestInitializationError(t *testing.T) {
	err := &InitializationError{Collaborator: "agent", Err: errBoom}
	assert.Equal(t, "failed to start agent: boom", err.Error())
	assert.ErrorIs(t, err, errBoom)
}
