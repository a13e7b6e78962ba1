package transcript

import (
	"errors"
	"sync"

	"github.com/zhouzirui/nova/internal/model/chat"
)

var (
	ErrDuplicateID = errors.New("message id already exists")
	ErrNotFound    = errors.New("message not found")
	ErrEmptyID     = errors.New("message id is required")
)

// Listener receives snapshots in mutation order; a snapshot superseded before
// delivery is skipped. Listeners may read the store but must not mutate it.
type Listener func(snapshot []chat.Message)

// Store is the ordered message log of one conversation. Every mutation
// publishes a fresh slice; published slices are never written again, so a
// snapshot can be read without holding the lock.
type Store struct {
	mu        sync.RWMutex
	notifyMu  sync.Mutex
	messages  []chat.Message
	index     map[string]int
	listeners []Listener
	version   uint64
	delivered uint64
}

// NewStore returns a store seeded with messages.
func NewStore(messages ...chat.Message) *Store {
	s := &Store{}
	s.reset(messages)
	return s
}

// Subscribe registers fn for snapshot notifications. Listeners run after the
// store lock is released.
func (s *Store) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Snapshot returns the current ordered sequence. Callers must not modify it.
func (s *Store) Snapshot() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Find returns the message with id.
func (s *Store) Find(id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[id]
	if !ok {
		return chat.Message{}, false
	}
	return s.messages[idx].Clone(), true
}

// Append inserts msg at the end.
func (s *Store) Append(msg chat.Message) error {
	if msg.ID == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	if _, exists := s.index[msg.ID]; exists {
		s.mu.Unlock()
		return ErrDuplicateID
	}
	next := make([]chat.Message, len(s.messages), len(s.messages)+1)
	copy(next, s.messages)
	next = append(next, msg.Clone())
	s.index[msg.ID] = len(next) - 1
	s.messages = next
	s.publishLocked()
	return nil
}

// Patch merges fields into the message with id. ErrNotFound is benign for
// callers racing a teardown or an id rewrite.
func (s *Store) Patch(id string, patch chat.Patch) error {
	s.mu.Lock()
	idx, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if patch.Empty() {
		s.mu.Unlock()
		return nil
	}
	next := make([]chat.Message, len(s.messages))
	copy(next, s.messages)
	next[idx] = patch.Apply(next[idx])
	s.messages = next
	s.publishLocked()
	return nil
}

// ReplaceID renames a message in place, keeping its position.
func (s *Store) ReplaceID(oldID, newID string) error {
	if newID == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	idx, ok := s.index[oldID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if oldID == newID {
		s.mu.Unlock()
		return nil
	}
	if _, taken := s.index[newID]; taken {
		s.mu.Unlock()
		return ErrDuplicateID
	}
	next := make([]chat.Message, len(s.messages))
	copy(next, s.messages)
	next[idx].ID = newID
	delete(s.index, oldID)
	s.index[newID] = idx
	s.messages = next
	s.publishLocked()
	return nil
}

// Reset replaces the whole transcript, dropping empty and repeated ids.
func (s *Store) Reset(messages []chat.Message) {
	s.mu.Lock()
	s.reset(messages)
	s.publishLocked()
}

func (s *Store) reset(messages []chat.Message) {
	next := make([]chat.Message, 0, len(messages))
	index := make(map[string]int, len(messages))
	for _, msg := range messages {
		if msg.ID == "" {
			continue
		}
		if _, dup := index[msg.ID]; dup {
			continue
		}
		index[msg.ID] = len(next)
		next = append(next, msg.Clone())
	}
	s.messages = next
	s.index = index
}

// publishLocked releases s.mu and delivers the new snapshot unless a newer
// one already went out.
func (s *Store) publishLocked() {
	s.version++
	version, snapshot, listeners := s.version, s.messages, s.listeners
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if version <= s.delivered {
		return
	}
	s.delivered = version
	for _, fn := range listeners {
		fn(snapshot)
	}
}
