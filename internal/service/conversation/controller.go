package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/nova/internal/model/catalog"
	"github.com/zhouzirui/nova/internal/model/chat"
	"github.com/zhouzirui/nova/internal/model/task"
	"github.com/zhouzirui/nova/internal/model/upload"
	"github.com/zhouzirui/nova/internal/service/feedback"
	"github.com/zhouzirui/nova/internal/service/taskchannel"
	"github.com/zhouzirui/nova/internal/service/transcript"
	"github.com/zhouzirui/nova/internal/storage/session"
)

var (
	ErrBusy           = errors.New("a task is already running")
	ErrEmptyInput     = errors.New("nothing to send")
	ErrClosed         = errors.New("conversation closed")
	ErrUnknownService = errors.New("unknown service")
	ErrMissingTaskID  = errors.New("task start returned no id")
)

// State is the position of the controller in the submit cycle.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateAwaitingStream
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingStream:
		return "awaiting_stream"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backend is the remote side of a conversation.
type Backend interface {
	StartTask(ctx context.Context, service string, req task.StartRequest) (task.StartResponse, error)
	Upload(ctx context.Context, path string) (upload.File, error)
	feedback.Sender
}

// Snapshot is a consistent view of the conversation for rendering.
type Snapshot struct {
	Messages      []chat.Message
	Loading       bool
	State         State
	Service       string
	PendingUpload *chat.Attachment
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithServices enables the service catalog. The welcome message becomes a
// choice prompt listing services.
func WithServices(services []catalog.Service) Option {
	return func(c *Controller) { c.services = append([]catalog.Service(nil), services...) }
}

// WithStartTimeout bounds the task-start request.
func WithStartTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.startTimeout = d
		}
	}
}

// WithFeedbackConfig tunes the feedback submitter.
func WithFeedbackConfig(cfg feedback.Config) Option {
	return func(c *Controller) { c.feedbackCfg = cfg }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator replaces the generator of local message ids.
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

// Controller runs the submit cycle: Idle, Submitting, AwaitingStream and back
// to Idle. At most one task is active at a time.
type Controller struct {
	backend      Backend
	transport    taskchannel.Transport
	sessions     session.Store
	store        *transcript.Store
	feedback     *feedback.Submitter
	services     []catalog.Service
	startTimeout time.Duration
	feedbackCfg  feedback.Config
	log          zerolog.Logger
	now          func() time.Time
	newID        func() string

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu      sync.Mutex
	state   State
	channel *taskchannel.Channel
	service string
	pending *chat.Attachment
	closed  bool

	updMu     sync.Mutex
	updates   chan struct{}
	updClosed bool
}

// New builds a controller and restores the transcript kept in sessions.
func New(backend Backend, transport taskchannel.Transport, sessions session.Store, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		backend:      backend,
		transport:    transport,
		sessions:     sessions,
		store:        transcript.NewStore(),
		startTimeout: 30 * time.Second,
		feedbackCfg:  feedback.DefaultConfig(),
		log:          zerolog.Nop(),
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
		ctx:          ctx,
		cancel:       cancel,
		service:      catalog.DefaultServiceID,
		updates:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.feedback = feedback.New(backend, c.store, c.feedbackCfg,
		feedback.WithLogger(c.log.With().Str("component", "feedback").Logger()),
		feedback.OnChange(func(string) { c.notify() }),
	)

	c.restore()
	c.store.Subscribe(func(messages []chat.Message) {
		c.persist(messages)
		c.notify()
	})
	return c
}

// Feedback returns the submitter bound to this conversation.
func (c *Controller) Feedback() *feedback.Submitter { return c.feedback }

// Services returns the catalog offered on the welcome prompt.
func (c *Controller) Services() []catalog.Service {
	return append([]catalog.Service(nil), c.services...)
}

// Updates delivers a signal after any visible change. Signals coalesce; the
// channel is closed by Close.
func (c *Controller) Updates() <-chan struct{} { return c.updates }

// Snapshot returns the current conversation view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		Loading: c.state != StateIdle,
		State:   c.state,
		Service: c.service,
	}
	if c.pending != nil {
		attachment := *c.pending
		snap.PendingUpload = &attachment
	}
	c.mu.Unlock()

	snap.Messages = c.store.Snapshot()
	return snap
}

// Submit sends text as a new query. The user message and the streaming
// placeholder are appended before Submit returns; the task starts in the
// background.
func (c *Controller) Submit(text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	if text == "" && c.pending == nil {
		c.mu.Unlock()
		return ErrEmptyInput
	}
	c.state = StateSubmitting
	req := task.StartRequest{Query: text}
	if c.pending != nil {
		req.FilePath = c.pending.URL
		c.pending = nil
	}
	service := c.service
	c.inflight.Add(1)
	c.mu.Unlock()

	now := c.now()
	if text != "" {
		c.append(chat.NewUserMessage(c.newID(), text, now))
	}
	placeholderID := c.newID()
	c.append(chat.NewPlaceholder(placeholderID, now))
	c.log.Debug().Str("service", service).Str("placeholder_id", placeholderID).Msg("query submitted")

	go c.start(placeholderID, service, req)
	return nil
}

// SelectService answers a choice prompt. The chosen service routes the next
// queries.
func (c *Controller) SelectService(value string) error {
	svc, ok := c.findService(value)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, value)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.service = svc.ID
	c.mu.Unlock()

	c.saveService(svc.ID)
	c.append(chat.NewAssistantMessage(c.newID(),
		fmt.Sprintf("You have selected service: %s, please describe your issue.", svc.Label), c.now()))
	c.log.Info().Str("service", svc.ID).Msg("service selected")
	return nil
}

// Attach uploads the file at path. The upload is referenced by the next
// Submit and shown as a user message.
func (c *Controller) Attach(ctx context.Context, path string) (upload.File, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return upload.File{}, ErrClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return upload.File{}, ErrBusy
	}
	c.mu.Unlock()

	file, err := c.backend.Upload(ctx, path)
	if err != nil {
		return upload.File{}, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}

	attachment := &chat.Attachment{ID: file.ID, Name: file.Name, Type: file.Type, Size: file.Size, URL: file.URL}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return file, ErrClosed
	}
	c.pending = attachment
	c.mu.Unlock()

	msg := chat.NewUserMessage(c.newID(), fmt.Sprintf("Attached %s", file.Name), c.now())
	msg.Attachment = attachment
	c.append(msg)
	return file, nil
}

// Reset clears the conversation and seeds a fresh welcome message.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.pending = nil
	c.service = catalog.DefaultServiceID
	c.mu.Unlock()

	if err := c.sessions.Delete(chat.ServiceKey); err != nil {
		c.log.Warn().Err(err).Msg("clear service selection")
	}
	c.store.Reset([]chat.Message{c.welcome()})
	return nil
}

// Close tears the conversation down: the open channel is closed exactly
// once, in-flight task starts are canceled and the feedback submitter stops.
// Messages are left as they are.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()

	c.cancel()
	if ch != nil {
		ch.Close()
	}
	c.inflight.Wait()
	c.feedback.Close()

	c.updMu.Lock()
	c.updClosed = true
	close(c.updates)
	c.updMu.Unlock()
	c.log.Debug().Msg("conversation closed")
}

func (c *Controller) start(placeholderID, service string, req task.StartRequest) {
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.startTimeout)
	resp, err := c.backend.StartTask(ctx, service, req)
	cancel()
	if err == nil && resp.ID() == "" {
		err = ErrMissingTaskID
	}
	if err != nil {
		c.startFailed(placeholderID, err)
		return
	}

	if c.isClosed() {
		return
	}
	taskID := resp.ID()
	if err := c.store.ReplaceID(placeholderID, taskID); err != nil {
		c.startFailed(placeholderID, fmt.Errorf("bind task %s: %w", taskID, err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.channel = taskchannel.Open(c.ctx, c.transport, taskID, c.store,
		taskchannel.WithLogger(c.log.With().Str("component", "taskchannel").Logger()),
		taskchannel.OnTerminal(c.onTerminal),
	)
	c.state = StateAwaitingStream
	c.mu.Unlock()

	c.log.Info().Str("task_id", taskID).Str("service", service).Msg("task started")
	c.notify()
}

func (c *Controller) startFailed(placeholderID string, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.mu.Unlock()

	c.log.Warn().Err(err).Str("placeholder_id", placeholderID).Msg("task start failed")
	if perr := c.store.Patch(placeholderID, chat.Patch{
		Content:    chat.Ptr(chat.TaskStartFailed),
		Streaming:  chat.Ptr(false),
		StatusText: chat.Ptr(""),
	}); perr != nil {
		c.log.Debug().Err(perr).Msg("placeholder gone before start failure")
	}
	c.notify()
}

func (c *Controller) onTerminal(outcome taskchannel.Outcome) {
	c.mu.Lock()
	if c.channel != nil && c.channel.TaskID() == outcome.TaskID {
		c.channel = nil
	}
	if !c.closed {
		c.state = StateIdle
	}
	c.mu.Unlock()

	event := c.log.Info()
	if outcome.Err != nil {
		event = c.log.Warn().Err(outcome.Err)
	}
	event.Str("task_id", outcome.TaskID).Str("state", string(outcome.State)).Msg("task finished")
	c.notify()
}

func (c *Controller) restore() {
	if data, ok, err := c.sessions.Load(chat.ServiceKey); err != nil {
		c.log.Warn().Err(err).Msg("load service selection")
	} else if ok {
		var id string
		if err := json.Unmarshal(data, &id); err == nil {
			if _, known := c.findService(id); known {
				c.service = id
			}
		}
	}

	data, ok, err := c.sessions.Load(chat.TranscriptKey)
	if err != nil {
		c.log.Warn().Err(err).Msg("load transcript")
	}
	if ok {
		var saved []chat.Message
		if err := json.Unmarshal(data, &saved); err != nil {
			c.log.Warn().Err(err).Msg("discard unreadable transcript")
		} else {
			messages, orphaned := chat.Rehydrate(saved)
			if orphaned > 0 {
				c.log.Info().Int("count", orphaned).Msg("closed out interrupted answers")
			}
			if len(messages) > 0 {
				c.store.Reset(messages)
				if orphaned > 0 {
					c.persist(messages)
				}
				return
			}
		}
	}

	welcome := c.welcome()
	c.store.Reset([]chat.Message{welcome})
	c.persist([]chat.Message{welcome})
}

func (c *Controller) welcome() chat.Message {
	if len(c.services) > 0 {
		return chat.NewChoicePrompt(c.newID(), chat.WelcomeChoicesContent, catalog.Choices(c.services), c.now())
	}
	return chat.NewAssistantMessage(c.newID(), chat.WelcomeContent, c.now())
}

func (c *Controller) findService(id string) (catalog.Service, bool) {
	for _, svc := range c.services {
		if svc.ID == id {
			return svc, true
		}
	}
	return catalog.Service{}, false
}

func (c *Controller) append(msg chat.Message) {
	if err := c.store.Append(msg); err != nil {
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("append message")
	}
}

func (c *Controller) persist(messages []chat.Message) {
	data, err := json.Marshal(messages)
	if err != nil {
		c.log.Error().Err(err).Msg("encode transcript")
		return
	}
	if err := c.sessions.Save(chat.TranscriptKey, data); err != nil {
		c.log.Warn().Err(err).Msg("save transcript")
	}
}

func (c *Controller) saveService(id string) {
	data, _ := json.Marshal(id)
	if err := c.sessions.Save(chat.ServiceKey, data); err != nil {
		c.log.Warn().Err(err).Msg("save service selection")
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) notify() {
	c.updMu.Lock()
	defer c.updMu.Unlock()
	if c.updClosed {
		return
	}
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
