package feedback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/nova/internal/model/chat"
	model "github.com/zhouzirui/nova/internal/model/feedback"
)

var (
	ErrClosed           = errors.New("feedback submitter closed")
	ErrUnknownMessage   = errors.New("message not found")
	ErrNotEligible      = errors.New("message does not accept feedback")
	ErrAlreadySubmitted = errors.New("feedback already submitted")
	ErrInFlight         = errors.New("feedback is still being sent")
)

// FailedText is shown inline when a submission fails.
const FailedText = "Failed to submit feedback. Please try again."

// Sender delivers a feedback request to the backend.
type Sender interface {
	SendFeedback(ctx context.Context, req model.Request) (model.Response, error)
}

// Messages is the transcript view the submitter reads and marks.
type Messages interface {
	Find(id string) (chat.Message, bool)
	Patch(id string, patch chat.Patch) error
}

// Config tunes the submitter timings.
type Config struct {
	Debounce   time.Duration
	ConfirmFor time.Duration
	Timeout    time.Duration
}

// DefaultConfig returns the timings used by the client.
func DefaultConfig() Config {
	return Config{
		Debounce:   400 * time.Millisecond,
		ConfirmFor: 3 * time.Second,
		Timeout:    15 * time.Second,
	}
}

type entry struct {
	view     model.View
	pending  *model.Request
	debounce *time.Timer
	clear    *time.Timer
	inflight bool
	// gen and clearGen identify the live timer; a timer whose generation was
	// superseded or canceled does nothing when it fires.
	gen      uint64
	clearGen uint64
}

// Submitter sends per-message feedback. Each message has its own debounce
// timer, so clicks on different messages never collapse into one call.
type Submitter struct {
	sender   Sender
	messages Messages
	cfg      Config
	log      zerolog.Logger
	onChange func(messageID string)
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithLogger sets the submitter logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Submitter) { s.log = log }
}

// OnChange registers fn to run after the feedback view of a message changes.
func OnChange(fn func(messageID string)) Option {
	return func(s *Submitter) { s.onChange = fn }
}

// New creates a Submitter.
func New(sender Sender, messages Messages, cfg Config, opts ...Option) *Submitter {
	defaults := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaults.Debounce
	}
	if cfg.ConfirmFor <= 0 {
		cfg.ConfirmFor = defaults.ConfirmFor
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Submitter{
		sender:   sender,
		messages: messages,
		cfg:      cfg,
		log:      zerolog.Nop(),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// View returns the feedback state of a message.
func (s *Submitter) View(messageID string) model.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[messageID]
	if !ok {
		return model.View{Status: model.StatusIdle}
	}
	return e.view
}

// Like submits positive feedback without a reason.
func (s *Submitter) Like(messageID string) error {
	return s.Submit(messageID, true, "")
}

// Dislike opens the reason input. Nothing is sent until Confirm.
func (s *Submitter) Dislike(messageID string) error {
	s.mu.Lock()
	e, err := s.eligibleLocked(messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	e.view.Liked = chat.Ptr(false)
	e.view.ReasonOpen = true
	e.view.Err = ""
	s.mu.Unlock()

	s.changed(messageID)
	return nil
}

// SetReason records the optional free-text reason.
func (s *Submitter) SetReason(messageID, reason string) {
	s.mu.Lock()
	e := s.entryLocked(messageID)
	e.view.Reason = reason
	s.mu.Unlock()

	s.changed(messageID)
}

// CancelReason hides the reason input without sending anything.
func (s *Submitter) CancelReason(messageID string) {
	s.mu.Lock()
	e := s.entryLocked(messageID)
	e.view.ReasonOpen = false
	s.mu.Unlock()

	s.changed(messageID)
}

// Confirm sends the negative feedback prepared with Dislike and SetReason.
func (s *Submitter) Confirm(messageID string) error {
	s.mu.Lock()
	liked, reason := false, ""
	if e, ok := s.entries[messageID]; ok {
		if e.view.Liked != nil {
			liked = *e.view.Liked
		}
		reason = e.view.Reason
	}
	s.mu.Unlock()

	return s.Submit(messageID, liked, reason)
}

// Submit schedules a submission once the debounce window for messageID has
// been quiet. Repeated calls inside the window collapse into one request
// carrying the latest values. While a request for messageID is on the wire
// it returns ErrInFlight and keeps nothing.
func (s *Submitter) Submit(messageID string, liked bool, reason string) error {
	s.mu.Lock()
	e, err := s.eligibleLocked(messageID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if e.inflight {
		s.mu.Unlock()
		return ErrInFlight
	}

	msg, _ := s.messages.Find(messageID)
	e.view.Liked = chat.Ptr(liked)
	e.view.Reason = reason
	e.pending = &model.Request{
		MessageID: messageID,
		Liked:     liked,
		Reason:    reason,
		Content:   msg.Content,
	}

	e.gen++
	gen := e.gen
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = time.AfterFunc(s.cfg.Debounce, func() { s.fire(messageID, gen) })
	s.mu.Unlock()

	s.changed(messageID)
	return nil
}

// Close cancels pending debounce and confirmation timers and in-flight
// requests. Timers that already fired are neutralized by the closed flag.
func (s *Submitter) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, e := range s.entries {
		if e.debounce != nil {
			e.debounce.Stop()
			e.debounce = nil
		}
		if e.clear != nil {
			e.clear.Stop()
			e.clear = nil
		}
		e.pending = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.inflight.Wait()
}

func (s *Submitter) fire(messageID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[messageID]
	if s.closed || !ok || e.gen != gen || e.pending == nil {
		s.mu.Unlock()
		return
	}
	req := *e.pending
	e.pending = nil
	e.debounce = nil
	e.inflight = true
	e.view.Status = model.StatusPending
	e.view.Err = ""
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()
	s.changed(messageID)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	_, err := s.sender.SendFeedback(ctx, req)
	cancel()

	s.mu.Lock()
	e.inflight = false
	if s.closed {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("message_id", messageID).Msg("feedback submission failed")
		e.view.Status = model.StatusError
		e.view.Err = FailedText
		s.mu.Unlock()
		s.changed(messageID)
		return
	}

	e.view.Status = model.StatusSubmitted
	e.view.ReasonOpen = false
	e.view.Confirmation = true
	e.clearGen++
	clearGen := e.clearGen
	e.clear = time.AfterFunc(s.cfg.ConfirmFor, func() { s.clearConfirmation(messageID, clearGen) })
	s.mu.Unlock()

	if err := s.messages.Patch(messageID, chat.Patch{FeedbackSubmitted: chat.Ptr(true)}); err != nil {
		s.log.Debug().Err(err).Str("message_id", messageID).Msg("mark feedback submitted skipped")
	}
	s.log.Info().Str("message_id", messageID).Bool("liked", req.Liked).Msg("feedback submitted")
	s.changed(messageID)
}

func (s *Submitter) clearConfirmation(messageID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[messageID]
	if s.closed || !ok || e.clearGen != gen {
		s.mu.Unlock()
		return
	}
	e.view.Confirmation = false
	e.clear = nil
	s.mu.Unlock()

	s.changed(messageID)
}

func (s *Submitter) eligibleLocked(messageID string) (*entry, error) {
	if s.closed {
		return nil, ErrClosed
	}
	// The transcript is marked after the lock is released; the entry status
	// covers that gap.
	if e, ok := s.entries[messageID]; ok && e.view.Status == model.StatusSubmitted {
		return nil, ErrAlreadySubmitted
	}
	msg, ok := s.messages.Find(messageID)
	if !ok {
		return nil, ErrUnknownMessage
	}
	if msg.FeedbackSubmitted {
		return nil, ErrAlreadySubmitted
	}
	if !msg.AcceptsFeedback() {
		return nil, ErrNotEligible
	}
	return s.entryLocked(messageID), nil
}

func (s *Submitter) entryLocked(messageID string) *entry {
	e, ok := s.entries[messageID]
	if !ok {
		e = &entry{view: model.View{Status: model.StatusIdle}}
		s.entries[messageID] = e
	}
	return e
}

func (s *Submitter) changed(messageID string) {
	if s.onChange != nil {
		s.onChange(messageID)
	}
}
