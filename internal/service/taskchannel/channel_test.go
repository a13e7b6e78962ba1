package taskchannel

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/nova/internal/model/chat"
	"github.com/zhouzirui/nova/internal/model/task"
	"github.com/zhouzirui/nova/internal/service/transcript"
)

type fakeStream struct {
	frames chan task.Frame
	stop   chan struct{}
	once   sync.Once
	closes atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan task.Frame, 16), stop: make(chan struct{})}
}

func (s *fakeStream) Next() (task.Frame, error) {
	select {
	case frame, ok := <-s.frames:
		if !ok {
			return task.Frame{}, io.EOF
		}
		return frame, nil
	case <-s.stop:
		return task.Frame{}, errors.New("use of closed stream")
	}
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	s.once.Do(func() { close(s.stop) })
	return nil
}

type fakeTransport struct {
	stream *fakeStream
	err    error
}

func (t *fakeTransport) Subscribe(ctx context.Context, taskID string) (Stream, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.stream, nil
}

func setup(t *testing.T, transport Transport) (*transcript.Store, *Channel, chan Outcome) {
	t.Helper()
	store := transcript.NewStore(chat.NewPlaceholder("m42", time.Now()))
	outcomes := make(chan Outcome, 4)
	ch := Open(context.Background(), transport, "m42", store, OnTerminal(func(o Outcome) {
		outcomes <- o
	}))
	t.Cleanup(func() { ch.Close() })
	return store, ch, outcomes
}

func waitOutcome(t *testing.T, outcomes chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-outcomes:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal outcome")
		return Outcome{}
	}
}

func TestProgressThenEnd(t *testing.T) {
	stream := newFakeStream()
	store, ch, outcomes := setup(t, &fakeTransport{stream: stream})

	stream.frames <- task.ProgressFrame("Looking up account")
	require.Eventually(t, func() bool {
		msg, _ := store.Find("m42")
		return msg.StatusText == "Looking up account"
	}, time.Second, 5*time.Millisecond)

	msg, _ := store.Find("m42")
	assert.True(t, msg.Streaming)
	assert.Equal(t, chat.PlaceholderContent, msg.Content)
	assert.False(t, ch.Closed())

	stream.frames <- task.EndFrame("Your PIN was set by you at enrollment...")
	outcome := waitOutcome(t, outcomes)

	assert.Equal(t, task.StateCompleted, outcome.State)
	assert.NoError(t, outcome.Err)
	msg, _ = store.Find("m42")
	assert.False(t, msg.Streaming)
	assert.Equal(t, "Your PIN was set by you at enrollment...", msg.Content)
	assert.Empty(t, msg.StatusText)
	assert.True(t, ch.Closed())
	assert.Equal(t, int32(1), stream.closes.Load())
}

func TestEmptyProgressKeepsStatus(t *testing.T) {
	stream := newFakeStream()
	store, _, outcomes := setup(t, &fakeTransport{stream: stream})

	stream.frames <- task.Frame{Stage: "heartbeat"}
	stream.frames <- task.EndFrame("ok")
	waitOutcome(t, outcomes)

	msg, _ := store.Find("m42")
	assert.Equal(t, "ok", msg.Content)
}

func TestErrorFrameFinalizesWithFixedText(t *testing.T) {
	stream := newFakeStream()
	store, ch, outcomes := setup(t, &fakeTransport{stream: stream})

	stream.frames <- task.ErrorFrame("upstream timeout")
	outcome := waitOutcome(t, outcomes)

	var frameErr *FrameError
	require.ErrorAs(t, outcome.Err, &frameErr)
	assert.Equal(t, "upstream timeout", frameErr.Message)
	assert.Equal(t, task.StateFailed, outcome.State)

	msg, _ := store.Find("m42")
	assert.False(t, msg.Streaming)
	assert.Equal(t, chat.ServiceUnavailable, msg.Content)
	assert.True(t, ch.Closed())
}

func TestSecondTerminalFrameHasNoEffect(t *testing.T) {
	stream := newFakeStream()
	store, ch, outcomes := setup(t, &fakeTransport{stream: stream})

	stream.frames <- task.EndFrame("first")
	stream.frames <- task.ErrorFrame("late")
	stream.frames <- task.EndFrame("second")
	waitOutcome(t, outcomes)
	<-ch.Done()

	msg, _ := store.Find("m42")
	assert.Equal(t, "first", msg.Content)
	assert.Empty(t, outcomes)
	assert.False(t, ch.Close())
}

func TestSubscribeFailureUsesErrorPath(t *testing.T) {
	store, _, outcomes := setup(t, &fakeTransport{err: errors.New("connection refused")})

	outcome := waitOutcome(t, outcomes)
	assert.Equal(t, task.StateFailed, outcome.State)
	assert.ErrorContains(t, outcome.Err, "connection refused")

	msg, _ := store.Find("m42")
	assert.Equal(t, chat.ServiceUnavailable, msg.Content)
	assert.False(t, msg.Streaming)
}

func TestStreamEOFBeforeTerminal(t *testing.T) {
	stream := newFakeStream()
	_, _, outcomes := setup(t, &fakeTransport{stream: stream})

	close(stream.frames)
	outcome := waitOutcome(t, outcomes)
	assert.ErrorIs(t, outcome.Err, ErrStreamEnded)
}

func TestCloseIsIdempotentAndSilent(t *testing.T) {
	stream := newFakeStream()
	store, ch, outcomes := setup(t, &fakeTransport{stream: stream})

	stream.frames <- task.ProgressFrame("working")
	require.Eventually(t, func() bool {
		msg, _ := store.Find("m42")
		return msg.StatusText == "working"
	}, time.Second, 5*time.Millisecond)

	assert.True(t, ch.Close())
	assert.False(t, ch.Close())
	<-ch.Done()

	assert.Equal(t, int32(1), stream.closes.Load())
	assert.Empty(t, outcomes)

	msg, _ := store.Find("m42")
	assert.True(t, msg.Streaming, "teardown must not finalize")
	assert.Equal(t, "working", msg.StatusText)
}

func TestFrameForMissingMessageIsBenign(t *testing.T) {
	stream := newFakeStream()
	store := transcript.NewStore()
	outcomes := make(chan Outcome, 1)
	ch := Open(context.Background(), &fakeTransport{stream: stream}, "gone", store, OnTerminal(func(o Outcome) {
		outcomes <- o
	}))
	defer ch.Close()

	stream.frames <- task.ProgressFrame("x")
	stream.frames <- task.EndFrame("y")
	outcome := waitOutcome(t, outcomes)

	assert.Equal(t, task.StateCompleted, outcome.State)
	assert.Equal(t, 0, store.Len())
}
