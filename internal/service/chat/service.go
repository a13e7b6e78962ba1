package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/nova/internal/model/task"
)

var ErrUserRequired = errors.New("user is required")

// DefaultLimit caps the turns kept per user.
const DefaultLimit = 20

// Service keeps the recent answered turns of each user so follow-up
// questions reach the answerer with context.
type Service struct {
	limit int

	mu    sync.RWMutex
	turns map[string][]task.Turn
}

// NewService returns an in-memory history keeping at most limit turns per
// user. A non-positive limit uses DefaultLimit.
func NewService(limit int) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{
		limit: limit,
		turns: make(map[string][]task.Turn),
	}
}

// Record appends a finished turn to the user's history.
func (s *Service) Record(_ context.Context, user string, turn task.Turn) error {
	if user == "" {
		return ErrUserRequired
	}
	if turn.AskedAt.IsZero() {
		turn.AskedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.turns[user], turn)
	if len(turns) > s.limit {
		turns = append([]task.Turn(nil), turns[len(turns)-s.limit:]...)
	}
	s.turns[user] = turns
	return nil
}

// Recent returns up to limit of the user's latest turns for service, oldest
// first. An empty service matches every turn.
func (s *Service) Recent(_ context.Context, user, service string, limit int) []task.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.turns[user]
	out := make([]task.Turn, 0, len(all))
	for _, turn := range all {
		if service == "" || turn.Service == service {
			out = append(out, turn)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Forget drops the user's history.
func (s *Service) Forget(_ context.Context, user string) {
	s.mu.Lock()
	delete(s.turns, user)
	s.mu.Unlock()
}
