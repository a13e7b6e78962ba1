package feedback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/nova/internal/model/chat"
	model "github.com/zhouzirui/nova/internal/model/feedback"
	"github.com/zhouzirui/nova/internal/service/transcript"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu       sync.Mutex
	requests []model.Request
	err      error
}

func (s *recordingSender) SendFeedback(ctx context.Context, req model.Request) (model.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return model.Response{}, s.err
	}
	return model.Response{Status: "success", Message: "Feedback received"}, nil
}

func (s *recordingSender) calls() []model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Request(nil), s.requests...)
}

func (s *recordingSender) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func answered(id, content string) chat.Message {
	msg := chat.NewPlaceholder(id, now)
	return chat.Finalize(content).Apply(msg)
}

func fastConfig() Config {
	return Config{Debounce: 20 * time.Millisecond, ConfirmFor: 50 * time.Millisecond, Timeout: time.Second}
}

func TestRepeatedLikesCollapseIntoOneCall(t *testing.T) {
	store := transcript.NewStore(answered("m1", "Reset it from settings."))
	var transitions int
	var mu sync.Mutex
	submitted := false
	store.Subscribe(func(messages []chat.Message) {
		mu.Lock()
		defer mu.Unlock()
		if messages[0].FeedbackSubmitted && !submitted {
			transitions++
		}
		submitted = messages[0].FeedbackSubmitted
	})

	sender := &recordingSender{}
	sub := New(sender, store, Config{Debounce: 100 * time.Millisecond, ConfirmFor: time.Second, Timeout: time.Second})
	t.Cleanup(sub.Close)

	require.NoError(t, sub.Like("m1"))
	require.NoError(t, sub.Like("m1"))
	require.NoError(t, sub.Like("m1"))

	require.Eventually(t, func() bool {
		msg, _ := store.Find("m1")
		return msg.FeedbackSubmitted
	}, time.Second, 5*time.Millisecond)

	calls := sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.Request{MessageID: "m1", Liked: true, Content: "Reset it from settings."}, calls[0])

	mu.Lock()
	assert.Equal(t, 1, transitions)
	mu.Unlock()

	assert.ErrorIs(t, sub.Like("m1"), ErrAlreadySubmitted)
}

func TestLatestValueWinsInsideWindow(t *testing.T) {
	store := transcript.NewStore(answered("m1", "answer"))
	sender := &recordingSender{}
	sub := New(sender, store, fastConfig())
	t.Cleanup(sub.Close)

	require.NoError(t, sub.Like("m1"))
	require.NoError(t, sub.Submit("m1", false, "too vague"))

	require.Eventually(t, func() bool { return len(sender.calls()) == 1 }, time.Second, 5*time.Millisecond)
	call := sender.calls()[0]
	assert.False(t, call.Liked)
	assert.Equal(t, "too vague", call.Reason)
}

func TestDislikeWaitsForConfirm(t *testing.T) {
	store := transcript.NewStore(answered("m1", "answer"))
	sender := &recordingSender{}
	sub := New(sender, store, fastConfig())
	t.Cleanup(sub.Close)

	require.NoError(t, sub.Dislike("m1"))
	sub.SetReason("m1", "wrong product")

	view := sub.View("m1")
	assert.True(t, view.ReasonOpen)
	require.NotNil(t, view.Liked)
	assert.False(t, *view.Liked)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, sender.calls())

	require.NoError(t, sub.Confirm("m1"))
	require.Eventually(t, func() bool { return sub.View("m1").Status == model.StatusSubmitted }, time.Second, 5*time.Millisecond)

	calls := sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "wrong product", calls[0].Reason)
	assert.False(t, calls[0].Liked)
	assert.False(t, sub.View("m1").ReasonOpen)
}

func TestCancelReasonSendsNothing(t *testing.T) {
	store := transcript.NewStore(answered("m1", "answer"))
	sender := &recordingSender{}
	sub := New(sender, store, fastConfig())
	t.Cleanup(sub.Close)

	require.NoError(t, sub.Dislike("m1"))
	sub.CancelReason("m1")

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, sender.calls())
	assert.False(t, sub.View("m1").ReasonOpen)
	assert.Equal(t, model.StatusIdle, sub.View("m1").Status)
}

func TestFailureKeepsReasonOpenAndAllowsRetry(t *testing.T) {
	store := transcript.NewStore(answered("m1", "answer"))
	sender := &recordingSender{err: errors.New("backend down")}
	sub := New(sender, store, fastConfig())
	t.Cleanup(sub.Close)

	require.NoError(t, sub.Dislike("m1"))
	sub.SetReason("m1", "outdated")
	require.NoError(t, sub.Confirm("m1"))

	require.Eventually(t, func() bool { return sub.View("m1").Status == model.StatusError }, time.Second, 5*time.Millisecond)
	view := sub.View("m1")
	assert.True(t, view.ReasonOpen)
	assert.Equal(t, FailedText, view.Err)
	msg, _ := store.Find("m1")
	assert.False(t, msg.FeedbackSubmitted)

	sender.setErr(nil)
	require.NoError(t, sub.Confirm("m1"))
	require.Eventually(t, func() bool {
		msg, _ := store.Find("m1")
		return msg.FeedbackSubmitted
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, sender.calls(), 2)
	assert.Empty(t, sub.View("m1").Err)
}

func TestConfirmationClearsAfterDelay(t *testing.T) {
	store := transcript.NewStore(answered("m1", "answer"))
	sub := New(&recordingSender{}, store, fastConfig())
	t.Cleanup(sub.Close)

	require.NoError(t, sub.Like("m1"))
	require.Eventually(t, func() bool { return sub.View("m1").Confirmation }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return !sub.View("m1").Confirmation }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StatusSubmitted, sub.View("m1").Status)
}

func TestIneligibleMessagesAreRejected(t *testing.T) {
	store := transcript.NewStore(
		chat.NewPlaceholder("streaming", now),
		chat.NewUserMessage("user", "hi", now),
		chat.NewAssistantMessage("welcome", chat.WelcomeContent, now),
	)
	sender := &recordingSender{}
	sub := New(sender, store, fastConfig())
	t.Cleanup(sub.Close)

	assert.ErrorIs(t, sub.Like("streaming"), ErrNotEligible)
	assert.ErrorIs(t, sub.Like("user"), ErrNotEligible)
	assert.ErrorIs(t, sub.Dislike("welcome"), ErrNotEligible)
	assert.ErrorIs(t, sub.Like("missing"), ErrUnknownMessage)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, sender.calls())
}

func TestNothingFiresAfterClose(t *testing.T) {
	store := transcript.NewStore(answered("m1", "answer"))
	sender := &recordingSender{}
	sub := New(sender, store, Config{Debounce: 30 * time.Millisecond, ConfirmFor: time.Second, Timeout: time.Second})

	require.NoError(t, sub.Like("m1"))
	sub.Close()
	sub.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, sender.calls())
	assert.ErrorIs(t, sub.Like("m1"), ErrClosed)
	msg, _ := store.Find("m1")
	assert.False(t, msg.FeedbackSubmitted)
}

func TestMessagesDebounceIndependently(t *testing.T) {
	store := transcript.NewStore(answered("m1", "first"), answered("m2", "second"))
	sender := &recordingSender{}
	sub := New(sender, store, fastConfig())
	t.Cleanup(sub.Close)

	require.NoError(t, sub.Like("m1"))
	require.NoError(t, sub.Submit("m2", false, "missing details"))

	require.Eventually(t, func() bool { return len(sender.calls()) == 2 }, time.Second, 5*time.Millisecond)
	ids := map[string]bool{}
	for _, call := range sender.calls() {
		ids[call.MessageID] = call.Liked
	}
	assert.Equal(t, map[string]bool{"m1": true, "m2": false}, ids)
}

func TestOnChangeReportsMessageID(t *testing.T) {
	store := transcript.NewStore(answered("m1", "answer"))
	changes := make(chan string, 16)
	sub := New(&recordingSender{}, store, fastConfig(), OnChange(func(id string) {
		select {
		case changes <- id:
		default:
		}
	}))
	t.Cleanup(sub.Close)

	require.NoError(t, sub.Dislike("m1"))
	select {
	case id := <-changes:
		assert.Equal(t, "m1", id)
	case <-time.After(time.Second):
		t.Fatal("expected change notification")
	}
}

// markHook runs fn when the submitter marks a message as submitted.
type markHook struct {
	*transcript.Store
	fn func(id string)
}

func (h markHook) Patch(id string, patch chat.Patch) error {
	if patch.FeedbackSubmitted != nil && *patch.FeedbackSubmitted {
		h.fn(id)
	}
	return h.Store.Patch(id, patch)
}

func TestLikeBeforeTranscriptIsMarkedIsRejected(t *testing.T) {
	store := transcript.NewStore(answered("m1", "answer"))
	sender := &recordingSender{}
	var sub *Submitter
	errs := make(chan error, 1)
	sub = New(sender, markHook{Store: store, fn: func(id string) { errs <- sub.Like(id) }}, fastConfig())
	t.Cleanup(sub.Close)

	require.NoError(t, sub.Like("m1"))

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
	case <-time.After(time.Second):
		t.Fatal("transcript was never marked")
	}
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, sender.calls(), 1)
}

type blockingSender struct {
	recordingSender
	started chan struct{}
	release chan struct{}
}

func (s *blockingSender) SendFeedback(ctx context.Context, req model.Request) (model.Response, error) {
	s.started <- struct{}{}
	<-s.release
	return s.recordingSender.SendFeedback(ctx, req)
}

func TestSubmitWhileInFlightIsReported(t *testing.T) {
	store := transcript.NewStore(answered("m1", "answer"))
	sender := &blockingSender{started: make(chan struct{}, 1), release: make(chan struct{})}
	sub := New(sender, store, fastConfig())
	t.Cleanup(sub.Close)

	require.NoError(t, sub.Like("m1"))
	select {
	case <-sender.started:
	case <-time.After(time.Second):
		t.Fatal("request never started")
	}

	assert.ErrorIs(t, sub.Submit("m1", false, "too vague"), ErrInFlight)
	assert.Equal(t, model.StatusPending, sub.View("m1").Status)

	close(sender.release)
	require.Eventually(t, func() bool {
		msg, _ := store.Find("m1")
		return msg.FeedbackSubmitted
	}, time.Second, 5*time.Millisecond)
	calls := sender.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Liked)
}
