package taskchannel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/nova/internal/model/chat"
	"github.com/zhouzirui/nova/internal/model/task"
)

// ErrStreamEnded is reported when the server ends a stream before a terminal frame.
var ErrStreamEnded = errors.New("task stream ended before a terminal frame")

// Stream yields the frames of one task. Next returns io.EOF once the server
// ends the stream. Close must unblock a pending Next.
type Stream interface {
	Next() (task.Frame, error)
	Close() error
}

// Transport opens the server-push connection of a task.
type Transport interface {
	Subscribe(ctx context.Context, taskID string) (Stream, error)
}

// Patcher is the part of the transcript store a channel writes to.
type Patcher interface {
	Patch(id string, patch chat.Patch) error
}

// FrameError carries the message of an application error frame.
type FrameError struct {
	Message string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("task failed: %s", e.Message)
}

// Outcome describes how a task channel ended. It is only produced for
// terminal frames and transport errors, never for a local Close.
type Outcome struct {
	TaskID string
	State  task.State
	Err    error
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Channel) { c.log = log }
}

// OnTerminal registers fn to run once when the task reaches a terminal
// state. fn runs on the channel goroutine after the channel is closed.
func OnTerminal(fn func(Outcome)) Option {
	return func(c *Channel) { c.onTerminal = fn }
}

// Channel owns one push connection for the lifetime of one task and turns its
// frames into transcript patches. Every path out (terminal frame, transport
// error, teardown) goes through Close.
type Channel struct {
	taskID     string
	store      Patcher
	log        zerolog.Logger
	onTerminal func(Outcome)
	cancel     context.CancelFunc
	done       chan struct{}

	mu     sync.Mutex
	stream Stream
	closed bool
}

// Open starts receiving frames for taskID. Connection failures are reported
// through the terminal path, not returned.
func Open(ctx context.Context, transport Transport, taskID string, store Patcher, opts ...Option) *Channel {
	ctx, cancel := context.WithCancel(ctx)
	c := &Channel{
		taskID: taskID,
		store:  store,
		log:    zerolog.Nop(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("task_id", taskID).Logger()

	go c.run(ctx, transport)
	return c
}

// TaskID returns the id the channel is bound to.
func (c *Channel) TaskID() string { return c.taskID }

// Done is closed once the receive goroutine has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Closed reports whether the channel stopped accepting frames.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases the connection. It is idempotent and reports whether this
// call did the release. Already applied patches stay; the message is not
// finalized.
func (c *Channel) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Channel) closeLocked() bool {
	if c.closed {
		return false
	}
	c.closed = true
	c.cancel()
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close stream")
		}
	}
	c.log.Debug().Msg("channel closed")
	return true
}

func (c *Channel) run(ctx context.Context, transport Transport) {
	defer close(c.done)

	stream, err := transport.Subscribe(ctx, c.taskID)
	if err != nil {
		c.fail(fmt.Errorf("subscribe: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = stream.Close()
		return
	}
	c.stream = stream
	c.mu.Unlock()

	for {
		frame, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrStreamEnded
			}
			c.fail(err)
			return
		}
		if done := c.handle(frame); done {
			return
		}
	}
}

// handle applies one frame and reports whether the channel is finished.
func (c *Channel) handle(frame task.Frame) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.Debug().Str("kind", frame.Kind().String()).Msg("frame after close dropped")
		return true
	}

	switch frame.Kind() {
	case task.FrameFailure:
		c.log.Warn().Str("message", frame.Message).Msg("task reported error")
		c.patch(chat.Finalize(chat.ServiceUnavailable))
		c.closeLocked()
		c.mu.Unlock()
		c.finish(Outcome{TaskID: c.taskID, State: task.StateFailed, Err: &FrameError{Message: frame.Message}})
		return true

	case task.FrameEnd:
		c.patch(chat.Finalize(frame.Message))
		c.closeLocked()
		c.mu.Unlock()
		c.log.Info().Int("answer_len", len(frame.Message)).Msg("task completed")
		c.finish(Outcome{TaskID: c.taskID, State: task.StateCompleted})
		return true

	default:
		if frame.Status != "" {
			c.patch(chat.Progress(frame.Status))
		}
		c.mu.Unlock()
		return false
	}
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.log.Warn().Err(err).Msg("task channel transport error")
	c.patch(chat.Finalize(chat.ServiceUnavailable))
	c.closeLocked()
	c.mu.Unlock()
	c.finish(Outcome{TaskID: c.taskID, State: task.StateFailed, Err: err})
}

func (c *Channel) patch(p chat.Patch) {
	if err := c.store.Patch(c.taskID, p); err != nil {
		// The message may have been dropped locally; nothing to reconcile.
		c.log.Debug().Err(err).Msg("patch skipped")
	}
}

func (c *Channel) finish(outcome Outcome) {
	if c.onTerminal != nil {
		c.onTerminal(outcome)
	}
}
