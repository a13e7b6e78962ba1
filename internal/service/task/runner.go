package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/nova/internal/model/catalog"
	model "github.com/zhouzirui/nova/internal/model/task"
)

var (
	ErrEmptyQuery      = errors.New("query or file_path is required")
	ErrUnknownService  = errors.New("unknown service")
	ErrTaskNotFound    = errors.New("task not found")
	ErrRunnerClosed    = errors.New("task runner closed")
	ErrTooManyInFlight = errors.New("too many tasks in flight")
)

// Answerer produces the final answer of a question, reporting intermediate
// statuses through progress.
type Answerer interface {
	Answer(ctx context.Context, q model.Question, progress func(status string)) (string, error)
}

// History supplies earlier turns of a user and records new ones.
type History interface {
	Recent(ctx context.Context, user, service string, limit int) []model.Turn
	Record(ctx context.Context, user string, turn model.Turn) error
}

// Observer is told about task lifecycle events.
type Observer interface {
	TaskStarted(service string)
	TaskFinished(service string, state model.State, elapsed time.Duration)
}

// Config tunes a Runner.
type Config struct {
	Timeout     time.Duration
	Retention   time.Duration
	MaxInFlight int
}

// Runner executes tasks in the background and keeps the frames of each task
// so late subscribers replay what they missed.
type Runner struct {
	answerer Answerer
	services catalog.Store
	history  History
	observer Observer
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	tasks    map[string]*entry
	inflight int
	closed   bool
}

type entry struct {
	task    model.Task
	frames  []model.Frame
	changed chan struct{}
	done    bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithHistory gives the answerer earlier turns of the same user.
func WithHistory(h History) Option {
	return func(r *Runner) { r.history = h }
}

// WithObserver reports lifecycle events, for example to metrics.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// NewRunner creates a Runner answering with answerer.
func NewRunner(answerer Answerer, services catalog.Store, cfg Config, opts ...Option) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		answerer: answerer,
		services: services,
		cfg:      cfg,
		log:      zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start registers a task for user and runs it in the background.
func (r *Runner) Start(ctx context.Context, user, service string, req model.StartRequest) (model.Task, error) {
	req.Query = strings.TrimSpace(req.Query)
	req.FilePath = strings.TrimSpace(req.FilePath)
	if req.Query == "" && req.FilePath == "" {
		return model.Task{}, ErrEmptyQuery
	}
	if _, ok := r.services.FindByID(service); !ok {
		return model.Task{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}

	now := r.now()
	t := model.Task{
		ID:        uuid.NewString(),
		Owner:     user,
		Service:   service,
		Query:     req.Query,
		FilePath:  req.FilePath,
		State:     model.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return model.Task{}, ErrRunnerClosed
	}
	if r.inflight >= r.cfg.MaxInFlight {
		r.mu.Unlock()
		return model.Task{}, ErrTooManyInFlight
	}
	r.tasks[t.ID] = &entry{task: t, changed: make(chan struct{})}
	r.inflight++
	r.wg.Add(1)
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.TaskStarted(service)
	}
	r.log.Info().Str("task_id", t.ID).Str("service", service).Str("user", user).Msg("task accepted")

	go r.run(t)
	return t, nil
}

// Get returns a snapshot of a task.
func (r *Runner) Get(id string) (model.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return e.task, true
}

// Subscribe streams the frames of a task, starting from the first one. The
// channel is closed after the terminal frame or when ctx ends.
func (r *Runner) Subscribe(ctx context.Context, id string) (<-chan model.Frame, error) {
	r.mu.RLock()
	e, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrTaskNotFound
	}

	out := make(chan model.Frame)
	go func() {
		defer close(out)
		next := 0
		for {
			r.mu.RLock()
			pending := e.frames[next:]
			done := e.done
			changed := e.changed
			r.mu.RUnlock()

			for _, frame := range pending {
				select {
				case out <- frame:
					next++
				case <-ctx.Done():
					return
				}
			}
			if done && len(pending) == 0 {
				return
			}
			if len(pending) > 0 {
				continue
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close cancels running tasks and waits for them to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}

func (r *Runner) run(t model.Task) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.Timeout)
	defer cancel()

	q := model.Question{
		TaskID:   t.ID,
		User:     t.Owner,
		Service:  t.Service,
		Query:    t.Query,
		FilePath: t.FilePath,
	}
	if r.history != nil && t.Owner != "" {
		q.History = r.history.Recent(ctx, t.Owner, t.Service, 0)
	}

	r.setState(t.ID, model.StateStreaming)
	answer, err := r.answerer.Answer(ctx, q, func(status string) {
		r.publish(t.ID, model.ProgressFrame(status))
	})

	if err != nil {
		r.log.Warn().Err(err).Str("task_id", t.ID).Msg("task failed")
		r.finish(t.ID, model.ErrorFrame(err.Error()), model.StateFailed, "", err.Error())
		return
	}

	r.finish(t.ID, model.EndFrame(answer), model.StateCompleted, answer, "")
	if r.history != nil && t.Owner != "" {
		if err := r.history.Record(ctx, t.Owner, model.Turn{Service: t.Service, Query: t.Query, Answer: answer}); err != nil {
			r.log.Debug().Err(err).Msg("record history")
		}
	}
}

func (r *Runner) setState(id string, state model.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tasks[id]; ok {
		e.task.State = state
		e.task.UpdatedAt = r.now()
	}
}

func (r *Runner) publish(id string, frame model.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok || e.done {
		return
	}
	r.appendLocked(e, frame)
}

func (r *Runner) finish(id string, frame model.Frame, state model.State, answer, errMsg string) {
	r.mu.Lock()
	e, ok := r.tasks[id]
	if !ok || e.done {
		r.mu.Unlock()
		return
	}
	e.task.State = state
	e.task.Answer = answer
	e.task.Error = errMsg
	e.task.UpdatedAt = r.now()
	e.done = true
	r.appendLocked(e, frame)
	r.inflight--
	service := e.task.Service
	elapsed := e.task.UpdatedAt.Sub(e.task.CreatedAt)
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.TaskFinished(service, state, elapsed)
	}
	r.log.Info().Str("task_id", id).Str("state", string(state)).Dur("elapsed", elapsed).Msg("task finished")

	time.AfterFunc(r.cfg.Retention, func() {
		r.mu.Lock()
		delete(r.tasks, id)
		r.mu.Unlock()
	})
}

// appendLocked stores frame and wakes subscribers by closing the current
// change channel.
func (r *Runner) appendLocked(e *entry, frame model.Frame) {
	e.frames = append(e.frames, frame)
	close(e.changed)
	e.changed = make(chan struct{})
}
