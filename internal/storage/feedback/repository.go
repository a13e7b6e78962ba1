package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	model "github.com/zhouzirui/nova/internal/model/feedback"
)

var ErrEmptyRecord = errors.New("feedback record id is required")

// DefaultKey is the redis list holding submissions, newest first.
const DefaultKey = "nova:feedback"

// Repository persists feedback submissions.
type Repository interface {
	Save(ctx context.Context, record model.Record) error
	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]model.Record, error)
	Close() error
}

// MemoryRepository keeps records in process.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []model.Record
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Save(_ context.Context, record model.Record) error {
	if record.ID == "" {
		return ErrEmptyRecord
	}
	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) List(_ context.Context, limit int) ([]model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.Record, 0, n)
	for i := len(m.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *MemoryRepository) Close() error { return nil }

// RedisRepository stores records as JSON in a redis list.
type RedisRepository struct {
	client *redis.Client
	key    string
}

// NewRedisRepository connects to the redis server at rawURL
// (redis://[:password@]host:port/db) and verifies it with PING.
func NewRedisRepository(ctx context.Context, rawURL string) (*RedisRepository, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisRepositoryWithClient(client, DefaultKey), nil
}

// NewRedisRepositoryWithClient wraps an existing client.
func NewRedisRepositoryWithClient(client *redis.Client, key string) *RedisRepository {
	if key == "" {
		key = DefaultKey
	}
	return &RedisRepository{client: client, key: key}
}

func (r *RedisRepository) Save(ctx context.Context, record model.Record) error {
	if record.ID == "" {
		return ErrEmptyRecord
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}
	if err := r.client.LPush(ctx, r.key, data).Err(); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

func (r *RedisRepository) List(ctx context.Context, limit int) ([]model.Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	items, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}

	out := make([]model.Record, 0, len(items))
	for _, item := range items {
		var record model.Record
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			return nil, fmt.Errorf("decode feedback: %w", err)
		}
		out = append(out, record)
	}
	return out, nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}
