// Package queue implements the Per-Session Message Queue: a durable FIFO
// of outbound prompts for one minion, replayed from an append-only
// queue.jsonl log rather than kept authoritative in memory.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/internal/orcherr"
	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

// Manager maintains one durable queue per session, backed by a
// queue.jsonl log under the session's own storage directory so it
// archives alongside messages.jsonl when the session is deleted.
type Manager struct {
	storage *storage.Storage

	mu        sync.Mutex
	items     map[string][]*types.QueueItem // sid -> items, sorted by Position
	maxPending int
}

// NewManager creates a Manager backed by store, capping pending items
// per session at maxPending (pass 0 for types.DefaultMaxPending).
func NewManager(store *storage.Storage, maxPending int) *Manager {
	if maxPending <= 0 {
		maxPending = types.DefaultMaxPending
	}
	return &Manager{storage: store, items: make(map[string][]*types.QueueItem), maxPending: maxPending}
}

func (m *Manager) logPath(sid string) []string { return []string{"session", sid, "queue"} }

// Load replays sid's queue.jsonl, rebuilding its in-memory item list.
func (m *Manager) Load(ctx context.Context, sid string) error {
	byID := make(map[string]*types.QueueItem)
	err := m.storage.Log(m.logPath(sid)).Replay(ctx, func() any { return &types.QueueLogRecord{} }, func(rec any) error {
		r := rec.(*types.QueueLogRecord)
		switch r.RecordType {
		case "enqueue":
			pos := 0
			if r.Position != nil {
				pos = *r.Position
			}
			byID[r.QueueID] = &types.QueueItem{
				QueueID:      r.QueueID,
				SessionID:    sid,
				Content:      r.Content,
				ResetSession: r.ResetSession,
				Metadata:     r.Metadata,
				Status:       types.QueuePending,
				Position:     pos,
				CreatedAt:    r.CreatedAt,
			}
		case "status":
			if item, ok := byID[r.QueueID]; ok {
				item.Status = types.QueueStatus(r.Status)
				item.SentAt = r.SentAt
				item.Error = r.Error
			}
		}
		return nil
	})
	if err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to replay queue log", err)
	}

	out := make([]*types.QueueItem, 0, len(byID))
	for _, item := range byID {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })

	m.mu.Lock()
	m.items[sid] = out
	m.mu.Unlock()
	return nil
}

// Enqueue appends a new pending item to the tail of sid's queue.
func (m *Manager) Enqueue(ctx context.Context, sid, content string, resetSession bool, metadata map[string]any) (*types.QueueItem, error) {
	m.mu.Lock()
	existing := m.items[sid]
	pending := 0
	maxPos := 0
	for _, item := range existing {
		if item.Status == types.QueuePending {
			pending++
		}
		if item.Position > maxPos {
			maxPos = item.Position
		}
	}
	if pending >= m.maxPending {
		m.mu.Unlock()
		return nil, orcherr.New(orcherr.KindValidation, "queue is full").WithSession(sid)
	}
	m.mu.Unlock()

	item := &types.QueueItem{
		QueueID:      ulid.Make().String(),
		SessionID:    sid,
		Content:      content,
		ResetSession: resetSession,
		Metadata:     metadata,
		Status:       types.QueuePending,
		Position:     maxPos + 1,
		CreatedAt:    float64(time.Now().UnixMilli()) / 1000,
	}
	return item, m.append(ctx, sid, item)
}

// Requeue creates a new item carrying origin's content at the head of
// sid's queue (position = min(0, existing positions...)-1, so below every
// existing item and never above -1), preserving origin itself —
// the caller is responsible for separately marking origin's own status.
func (m *Manager) Requeue(ctx context.Context, sid, originQueueID string) (*types.QueueItem, error) {
	m.mu.Lock()
	var origin *types.QueueItem
	minPos := 0
	for _, item := range m.items[sid] {
		if item.QueueID == originQueueID {
			origin = item
		}
		if item.Position < minPos {
			minPos = item.Position
		}
	}
	m.mu.Unlock()
	if origin == nil {
		return nil, orcherr.New(orcherr.KindValidation, "queue item not found").WithSession(sid)
	}

	item := &types.QueueItem{
		QueueID:      ulid.Make().String(),
		SessionID:    sid,
		Content:      origin.Content,
		ResetSession: origin.ResetSession,
		Metadata:     origin.Metadata,
		Status:       types.QueuePending,
		Position:     minPos - 1,
		CreatedAt:    float64(time.Now().UnixMilli()) / 1000,
	}
	return item, m.append(ctx, sid, item)
}

func (m *Manager) append(ctx context.Context, sid string, item *types.QueueItem) error {
	record := types.QueueLogRecord{
		RecordType:   "enqueue",
		QueueID:      item.QueueID,
		Content:      item.Content,
		ResetSession: item.ResetSession,
		Metadata:     item.Metadata,
		Position:     &item.Position,
		CreatedAt:    item.CreatedAt,
	}
	if err := m.storage.Log(m.logPath(sid)).Append(ctx, record); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to append queue record", err)
	}

	m.mu.Lock()
	m.items[sid] = insertSorted(m.items[sid], item)
	m.mu.Unlock()

	event.Publish(event.Event{Type: event.QueueItemAdded, Data: event.QueueItemAddedData{Item: item}})
	return nil
}

func insertSorted(items []*types.QueueItem, item *types.QueueItem) []*types.QueueItem {
	items = append(items, item)
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items
}

// PeekNext returns the lowest-position pending item without consuming it.
func (m *Manager) PeekNext(ctx context.Context, sid string) (*types.QueueItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items[sid] {
		if item.Status == types.QueuePending {
			return item, true, nil
		}
	}
	return nil, false, nil
}

// MarkSent transitions queueID to sent.
func (m *Manager) MarkSent(ctx context.Context, sid, queueID string) error {
	now := float64(time.Now().UnixMilli()) / 1000
	return m.setStatus(ctx, sid, queueID, types.QueueSent, &now, nil)
}

// MarkFailed transitions queueID to failed, recording reason.
func (m *Manager) MarkFailed(ctx context.Context, sid, queueID, reason string) error {
	return m.setStatus(ctx, sid, queueID, types.QueueFailed, nil, &reason)
}

// Cancel transitions queueID to cancelled. Only a Pending item can be
// cancelled — one already Sent, Failed, or Cancelled is left untouched.
func (m *Manager) Cancel(ctx context.Context, sid, queueID string) error {
	m.mu.Lock()
	var current *types.QueueItem
	for _, item := range m.items[sid] {
		if item.QueueID == queueID {
			current = item
			break
		}
	}
	m.mu.Unlock()

	if current == nil {
		return orcherr.New(orcherr.KindValidation, "queue item not found").WithSession(sid)
	}
	if current.Status != types.QueuePending {
		return orcherr.New(orcherr.KindValidation, "only a pending queue item can be cancelled").WithSession(sid)
	}
	return m.setStatus(ctx, sid, queueID, types.QueueCancelled, nil, nil)
}

// ClearPending cancels every Pending item in sid's queue in one sweep,
// leaving already-Sent/Failed/Cancelled items untouched.
func (m *Manager) ClearPending(ctx context.Context, sid string) error {
	m.mu.Lock()
	var pendingIDs []string
	for _, item := range m.items[sid] {
		if item.Status == types.QueuePending {
			pendingIDs = append(pendingIDs, item.QueueID)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, queueID := range pendingIDs {
		if err := m.setStatus(ctx, sid, queueID, types.QueueCancelled, nil, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) setStatus(ctx context.Context, sid, queueID string, status types.QueueStatus, sentAt *float64, errMsg *string) error {
	record := types.QueueLogRecord{
		RecordType: "status",
		QueueID:    queueID,
		Status:     string(status),
		SentAt:     sentAt,
		Error:      errMsg,
	}
	if err := m.storage.Log(m.logPath(sid)).Append(ctx, record); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to append queue status record", err)
	}

	m.mu.Lock()
	var updated *types.QueueItem
	for _, item := range m.items[sid] {
		if item.QueueID == queueID {
			item.Status = status
			item.SentAt = sentAt
			item.Error = errMsg
			updated = item
			break
		}
	}
	m.mu.Unlock()

	if updated == nil {
		return orcherr.New(orcherr.KindValidation, "queue item not found").WithSession(sid)
	}
	event.Publish(event.Event{Type: event.QueueItemUpdated, Data: event.QueueItemUpdatedData{Item: updated}})
	return nil
}

// List returns sid's queue items in position order.
func (m *Manager) List(sid string) []*types.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.QueueItem, len(m.items[sid]))
	copy(out, m.items[sid])
	return out
}
