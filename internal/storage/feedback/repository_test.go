package feedback

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/nova/internal/model/feedback"
)

func record(id, messageID string, liked bool) model.Record {
	return model.Record{
		Request:   model.Request{MessageID: messageID, Liked: liked},
		ID:        id,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, record("f1", "m1", true)))
	require.NoError(t, repo.Save(ctx, record("f2", "m2", false)))
	require.NoError(t, repo.Save(ctx, record("f3", "m3", true)))
	assert.ErrorIs(t, repo.Save(ctx, model.Record{}), ErrEmptyRecord)

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "f3", all[0].ID)
	assert.Equal(t, "m1", all[2].MessageID)

	latest, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "f2", latest[1].ID)
	assert.False(t, latest[1].Liked)
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	exerciseRepository(t, repo)
	assert.NoError(t, repo.Close())
}

func TestRedisRepository(t *testing.T) {
	url := os.Getenv("NOVA_TEST_REDIS_URL")
	if url == "" {
		t.Skip("NOVA_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	key := "nova:test:" + uuid.NewString()
	t.Cleanup(func() {
		client.Del(context.Background(), key)
		client.Close()
	})

	exerciseRepository(t, NewRedisRepositoryWithClient(client, key))
}

func TestNewRedisRepositoryRejectsBadURL(t *testing.T) {
	_, err := NewRedisRepository(context.Background(), "http://not-redis")
	assert.Error(t, err)
}
