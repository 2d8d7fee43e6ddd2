package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/internal/orcherr"
	"github.com/minionctl/orchestrator/internal/permission"
	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

// Manager owns the process-wide session registry: one in-memory,
// mutex-guarded *types.Session per sid, backed by a JSON snapshot plus a
// messages.jsonl transcript log, both under storage path
// ["session", sid, ...]. It enforces the state machine in state.go but
// knows nothing about the SDK, permissions, queues, or comms — that
// composition lives in Coordinator.
type Manager struct {
	storage *storage.Storage

	mu       sync.RWMutex
	sessions map[string]*types.Session
}

// NewManager creates a Manager backed by store. Call Load before use to
// re-materialize sessions persisted by a previous run.
func NewManager(store *storage.Storage) *Manager {
	return &Manager{
		storage:  store,
		sessions: make(map[string]*types.Session),
	}
}

func (m *Manager) statePath(sid string) []string    { return []string{"session", sid, "state"} }
func (m *Manager) messagesPath(sid string) []string { return []string{"session", sid, "messages"} }

// Messages returns the JSONLLog backing sid's message transcript.
func (m *Manager) Messages(sid string) *storage.JSONLLog {
	return m.storage.Log(m.messagesPath(sid))
}

// Load re-materializes every persisted session into memory. Persistence
// is authoritative: nothing else owns session lifetime across restarts.
func (m *Manager) Load(ctx context.Context) error {
	ids, err := m.storage.List(ctx, []string{"session"})
	if err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to list sessions", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sid := range ids {
		var sess types.Session
		if err := m.storage.Get(ctx, m.statePath(sid), &sess); err != nil {
			log.Warn().Err(err).Str("session_id", sid).Msg("skipping unreadable session state")
			continue
		}
		m.sessions[sess.ID] = &sess
	}
	return nil
}

// Create allocates a sid and writes its initial Created state. The
// caller (Coordinator) is responsible for attaching the session to its
// project and preparing MCP tool support when the project is a legion.
func (m *Manager) Create(ctx context.Context, projectID, directory, name string, opts ...CreateOption) (*types.Session, error) {
	now := time.Now().UnixMilli()
	sess := &types.Session{
		ID:             generateID(),
		ProjectID:      projectID,
		Directory:      directory,
		Name:           name,
		State:          types.StateCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
		PermissionMode: types.ModeDefault,
	}
	for _, opt := range opts {
		opt(sess)
	}

	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	event.Publish(event.Event{Type: event.SessionCreated, Data: event.SessionCreatedData{Info: sess}})
	return sess, nil
}

// CreateOption customizes a session at creation time.
type CreateOption func(*types.Session)

func WithParent(parentID string, overseerLevel int) CreateOption {
	return func(s *types.Session) {
		s.ParentID = &parentID
		s.OverseerLevel = overseerLevel
	}
}

func WithSystemPrompt(prompt string, override bool) CreateOption {
	return func(s *types.Session) {
		s.SystemPrompt = prompt
		s.SystemPromptOverride = override
	}
}

func WithCapabilities(capabilities []string) CreateOption {
	return func(s *types.Session) { s.Capabilities = append([]string{}, capabilities...) }
}

func WithHorde(hordeID string) CreateOption {
	return func(s *types.Session) { s.HordeID = &hordeID }
}

// Get returns the in-memory session, or orcherr.KindStorage if unknown.
func (m *Manager) Get(sid string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sid]
	if !ok {
		return nil, orcherr.New(orcherr.KindStorage, "session not found").WithSession(sid)
	}
	return sess, nil
}

// List returns every session, optionally filtered to one project.
func (m *Manager) List(projectID string) []*types.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if projectID != "" && sess.ProjectID != projectID {
			continue
		}
		out = append(out, sess)
	}
	return out
}

// Mutate applies fn to sid's session under the registry lock and
// persists the result. fn must not retain the pointer beyond its call.
func (m *Manager) Mutate(ctx context.Context, sid string, fn func(*types.Session)) (*types.Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		return nil, orcherr.New(orcherr.KindSession, "session not found").WithSession(sid)
	}
	fn(sess)
	sess.UpdatedAt = time.Now().UnixMilli()
	m.mu.Unlock()

	if err := m.persist(ctx, sess); err != nil {
		return nil, err
	}
	event.Publish(event.Event{Type: event.SessionUpdated, Data: event.SessionUpdatedData{Info: sess}})
	return sess, nil
}

// Transition moves sid from its current state to to, rejecting illegal
// moves per the state machine in state.go.
func (m *Manager) Transition(ctx context.Context, sid string, to types.State) error {
	m.mu.Lock()
	sess, ok := m.sessions[sid]
	if !ok {
		m.mu.Unlock()
		return orcherr.New(orcherr.KindSession, "session not found").WithSession(sid)
	}
	from := sess.State
	if !canTransition(from, to) {
		m.mu.Unlock()
		return orcherr.New(orcherr.KindSession, fmt.Sprintf("illegal transition %s -> %s", from, to)).WithSession(sid)
	}
	sess.State = to
	sess.UpdatedAt = time.Now().UnixMilli()
	m.mu.Unlock()

	if err := m.persist(ctx, sess); err != nil {
		return err
	}
	event.Publish(event.Event{Type: event.SessionStateChanged, Data: event.SessionStateChangedData{SessionID: sid, From: from, To: to}})
	event.Publish(event.Event{Type: event.SessionUpdated, Data: event.SessionUpdatedData{Info: sess}})
	return nil
}

// GetChildren returns sid's direct children, in ChildIDs order.
func (m *Manager) GetChildren(sid string) ([]*types.Session, error) {
	parent, err := m.Get(sid)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	children := make([]*types.Session, 0, len(parent.ChildIDs))
	for _, cid := range parent.ChildIDs {
		if child, ok := m.sessions[cid]; ok {
			children = append(children, child)
		}
	}
	return children, nil
}

// Delete removes sid from the registry and archives its on-disk state
// (state.json, messages.jsonl, and anything else under its session
// directory) to archives/minions/<sid>/<utc_timestamp>/, writing
// disposal_metadata.json alongside. It does not recurse into children
// or touch projects/capabilities/channels/schedules — cascading cleanup
// across those subsystems is Coordinator.DeleteCascade's job.
func (m *Manager) Delete(ctx context.Context, sid, reason string, descendants int) error {
	sess, err := m.Get(sid)
	if err != nil {
		return err
	}

	ts := time.Now().UTC().Format("20060102T150405Z")
	srcDir := m.storage.DirPath([]string{"session", sid})
	dstDir := m.storage.DirPath([]string{"archives", "minions", sid, ts})

	if err := os.MkdirAll(filepath.Dir(dstDir), 0755); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to prepare archive directory", err)
	}
	if _, statErr := os.Stat(srcDir); statErr == nil {
		if err := os.Rename(srcDir, dstDir); err != nil {
			return orcherr.Wrap(orcherr.KindStorage, "failed to archive session directory", err)
		}
	}

	metadata := map[string]any{
		"session_id":  sid,
		"reason":      reason,
		"parent_id":   sess.ParentID,
		"final_state": sess.State,
		"descendants": descendants,
		"archived_at": ts,
	}
	metaPath := filepath.Join(dstDir, "disposal_metadata.json")
	if data, mErr := json.MarshalIndent(metadata, "", "  "); mErr == nil {
		_ = os.WriteFile(metaPath, data, 0644)
	}

	m.mu.Lock()
	delete(m.sessions, sid)
	m.mu.Unlock()

	event.Publish(event.Event{Type: event.SessionDeleted, Data: event.SessionDeletedData{Info: sess}})
	return nil
}

func (m *Manager) persist(ctx context.Context, sess *types.Session) error {
	if err := m.storage.Put(ctx, m.statePath(sess.ID), sess); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to persist session", err)
	}
	return nil
}

func generateID() string {
	return ulid.Make().String()
}

var _ permission.SessionGateway = (*Manager)(nil)
