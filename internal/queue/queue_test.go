package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

func TestManager_EnqueueAndPeek(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.New(t.TempDir()), 0)

	first, err := m.Enqueue(ctx, "s1", "first", false, nil)
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "s1", "second", false, nil)
	require.NoError(t, err)

	next, ok, err := m.PeekNext(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.QueueID, next.QueueID)
}

func TestManager_MarkSentAdvancesPeek(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.New(t.TempDir()), 0)

	first, err := m.Enqueue(ctx, "s1", "first", false, nil)
	require.NoError(t, err)
	second, err := m.Enqueue(ctx, "s1", "second", false, nil)
	require.NoError(t, err)

	require.NoError(t, m.MarkSent(ctx, "s1", first.QueueID))
	next, ok, err := m.PeekNext(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.QueueID, next.QueueID)
}

func TestManager_Requeue_PutsItemAtHead(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.New(t.TempDir()), 0)

	first, err := m.Enqueue(ctx, "s1", "first", false, nil)
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "s1", "second", false, nil)
	require.NoError(t, err)

	requeued, err := m.Requeue(ctx, "s1", first.QueueID)
	require.NoError(t, err)
	assert.Less(t, requeued.Position, first.Position)

	next, ok, err := m.PeekNext(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, requeued.QueueID, next.QueueID)

	// The original item is preserved, not removed.
	all := m.List("s1")
	assert.Len(t, all, 3)
}

func TestManager_MaxPendingCap(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.New(t.TempDir()), 1)

	_, err := m.Enqueue(ctx, "s1", "first", false, nil)
	require.NoError(t, err)

	_, err = m.Enqueue(ctx, "s1", "second", false, nil)
	assert.Error(t, err)
}

func TestManager_Load_ReplaysLogInOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.New(t.TempDir())
	m := NewManager(store, 0)

	first, err := m.Enqueue(ctx, "s1", "first", false, nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkSent(ctx, "s1", first.QueueID))
	_, err = m.Enqueue(ctx, "s1", "second", false, nil)
	require.NoError(t, err)

	reloaded := NewManager(store, 0)
	require.NoError(t, reloaded.Load(ctx, "s1"))

	items := reloaded.List("s1")
	require.Len(t, items, 2)
	assert.Equal(t, types.QueueSent, items[0].Status)
	assert.Equal(t, types.QueuePending, items[1].Status)
}

func TestManager_Cancel_RejectsNonPendingItem(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.New(t.TempDir()), 0)
	item, err := m.Enqueue(ctx, "s1", "first", false, nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkSent(ctx, "s1", item.QueueID))

	err = m.Cancel(ctx, "s1", item.QueueID)
	assert.Error(t, err)

	items := m.List("s1")
	require.Len(t, items, 1)
	assert.Equal(t, types.QueueSent, items[0].Status, "cancel should not override an already-sent item")
}

func TestManager_Cancel_PendingItem(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.New(t.TempDir()), 0)
	item, err := m.Enqueue(ctx, "s1", "first", false, nil)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, "s1", item.QueueID))
	items := m.List("s1")
	require.Len(t, items, 1)
	assert.Equal(t, types.QueueCancelled, items[0].Status)
}

func TestManager_ClearPending_CancelsOnlyPendingItems(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.New(t.TempDir()), 0)

	sent, err := m.Enqueue(ctx, "s1", "first", false, nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkSent(ctx, "s1", sent.QueueID))
	_, err = m.Enqueue(ctx, "s1", "second", false, nil)
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, "s1", "third", false, nil)
	require.NoError(t, err)

	require.NoError(t, m.ClearPending(ctx, "s1"))

	items := m.List("s1")
	require.Len(t, items, 3)
	for _, item := range items {
		if item.QueueID == sent.QueueID {
			assert.Equal(t, types.QueueSent, item.Status)
			continue
		}
		assert.Equal(t, types.QueueCancelled, item.Status)
	}
}

func TestManager_MarkFailed_RecordsError(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.New(t.TempDir()), 0)
	item, err := m.Enqueue(ctx, "s1", "first", false, nil)
	require.NoError(t, err)

	require.NoError(t, m.MarkFailed(ctx, "s1", item.QueueID, "boom"))
	items := m.List("s1")
	require.Len(t, items, 1)
	assert.Equal(t, types.QueueFailed, items[0].Status)
	require.NotNil(t, items[0].Error)
	assert.Equal(t, "boom", *items[0].Error)
}
