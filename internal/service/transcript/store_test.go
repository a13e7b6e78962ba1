package transcript

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/nova/internal/model/chat"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestAppendRejectsDuplicateID(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Append(chat.NewUserMessage("u1", "hi", now)))

	err := store.Append(chat.NewUserMessage("u1", "again", now))
	require.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 1, store.Len())
}

func TestAppendRejectsEmptyID(t *testing.T) {
	store := NewStore()
	require.ErrorIs(t, store.Append(chat.Message{Role: chat.RoleUser}), ErrEmptyID)
}

func TestPatchMergesOnlyGivenFields(t *testing.T) {
	store := NewStore(chat.NewPlaceholder("a1", now))

	require.NoError(t, store.Patch("a1", chat.Progress("Looking up account")))

	msg, ok := store.Find("a1")
	require.True(t, ok)
	assert.Equal(t, "Looking up account", msg.StatusText)
	assert.Equal(t, chat.PlaceholderContent, msg.Content)
	assert.True(t, msg.Streaming)
	assert.Equal(t, now, msg.Timestamp)
}

func TestPatchMissingIDIsNotFound(t *testing.T) {
	store := NewStore()
	assert.ErrorIs(t, store.Patch("ghost", chat.Finalize("x")), ErrNotFound)
}

func TestPatchNeverClearsFeedbackSubmitted(t *testing.T) {
	store := NewStore(chat.NewAssistantMessage("a1", "answer", now))
	require.NoError(t, store.Patch("a1", chat.Patch{FeedbackSubmitted: chat.Ptr(true)}))
	require.NoError(t, store.Patch("a1", chat.Patch{FeedbackSubmitted: chat.Ptr(false)}))

	msg, _ := store.Find("a1")
	assert.True(t, msg.FeedbackSubmitted)
}

func TestReplaceIDKeepsPositionAndContent(t *testing.T) {
	store := NewStore(
		chat.NewUserMessage("u1", "What is my pin?", now),
		chat.NewPlaceholder("tmp", now),
	)

	require.NoError(t, store.ReplaceID("tmp", "m42"))

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "m42", snapshot[1].ID)
	assert.True(t, snapshot[1].Streaming)

	_, oldFound := store.Find("tmp")
	assert.False(t, oldFound)
	require.NoError(t, store.Patch("m42", chat.Progress("working")))
	assert.ErrorIs(t, store.Patch("tmp", chat.Progress("late")), ErrNotFound)
}

func TestReplaceIDConflicts(t *testing.T) {
	store := NewStore(
		chat.NewUserMessage("u1", "hi", now),
		chat.NewPlaceholder("tmp", now),
	)

	assert.ErrorIs(t, store.ReplaceID("tmp", "u1"), ErrDuplicateID)
	assert.ErrorIs(t, store.ReplaceID("missing", "x"), ErrNotFound)
	assert.ErrorIs(t, store.ReplaceID("tmp", ""), ErrEmptyID)
	assert.NoError(t, store.ReplaceID("tmp", "tmp"))
}

func TestSnapshotsAreImmutable(t *testing.T) {
	store := NewStore(chat.NewPlaceholder("a1", now))
	before := store.Snapshot()

	require.NoError(t, store.Patch("a1", chat.Finalize("done")))
	require.NoError(t, store.Append(chat.NewUserMessage("u2", "next", now)))

	require.Len(t, before, 1)
	assert.True(t, before[0].Streaming)
	assert.Equal(t, chat.PlaceholderContent, before[0].Content)
	assert.Len(t, store.Snapshot(), 2)
}

func TestResetDropsDuplicates(t *testing.T) {
	store := NewStore()
	store.Reset([]chat.Message{
		chat.NewUserMessage("a", "1", now),
		chat.NewUserMessage("a", "2", now),
		{Content: "no id"},
		chat.NewUserMessage("b", "3", now),
	})

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "1", snapshot[0].Content)
	assert.Equal(t, "b", snapshot[1].ID)
}

func TestSubscribeReceivesLatestSnapshot(t *testing.T) {
	store := NewStore()

	var mu sync.Mutex
	var lengths []int
	store.Subscribe(func(snapshot []chat.Message) {
		mu.Lock()
		lengths = append(lengths, len(snapshot))
		mu.Unlock()
	})

	require.NoError(t, store.Append(chat.NewUserMessage("u1", "hi", now)))
	require.NoError(t, store.Append(chat.NewPlaceholder("a1", now)))
	require.NoError(t, store.Patch("a1", chat.Finalize("done")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 2}, lengths)
}

func TestConcurrentPatchesNeverDuplicate(t *testing.T) {
	store := NewStore(chat.NewPlaceholder("tmp", now))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = store.Patch("m1", chat.Progress("step"))
		}
	}()
	go func() {
		defer wg.Done()
		_ = store.ReplaceID("tmp", "m1")
	}()
	wg.Wait()

	snapshot := store.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "m1", snapshot[0].ID)
}
