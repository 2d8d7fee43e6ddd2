// Package channel implements the Channel Manager: project-scoped
// multicast groups with a single mutation entry point that keeps
// channel<->session membership bidirectionally consistent, per spec
// §4.7/§9.
package channel

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/minionctl/orchestrator/internal/event"
	"github.com/minionctl/orchestrator/internal/orcherr"
	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

// SessionMembership is the subset of internal/session.Manager the
// Channel Manager needs to keep each member's ChannelIDs list in sync,
// the other half of the bidirectional invariant.
type SessionMembership interface {
	Get(sid string) (*types.Session, error)
	Mutate(ctx context.Context, sid string, fn func(*types.Session)) (*types.Session, error)
}

// Manager owns channel CRUD and membership mutation.
type Manager struct {
	storage  *storage.Storage
	sessions SessionMembership
}

// NewManager creates a Manager backed by store, delegating session-side
// membership bookkeeping to sessions.
func NewManager(store *storage.Storage, sessions SessionMembership) *Manager {
	return &Manager{storage: store, sessions: sessions}
}

func (m *Manager) path(id string) []string { return []string{"channel", id} }

// Create creates a channel scoped to projectID. name is normalized
// (leading "#" stripped) and must be case-insensitively unique within
// the project — callers pass existing to check that, since Manager has
// no project-scoped index of its own.
func (m *Manager) Create(ctx context.Context, projectID, name, description, purpose, creator string, existing []*types.Channel) (*types.Channel, error) {
	name = strings.TrimPrefix(name, "#")
	lower := strings.ToLower(name)
	for _, ch := range existing {
		if strings.ToLower(ch.Name) == lower {
			return nil, orcherr.New(orcherr.KindValidation, "channel name already in use in this project")
		}
	}

	now := time.Now().UnixMilli()
	ch := &types.Channel{
		ID:          ulid.Make().String(),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		Purpose:     purpose,
		Creator:     creator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.persist(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// Get retrieves a channel by id.
func (m *Manager) Get(ctx context.Context, id string) (*types.Channel, error) {
	var ch types.Channel
	if err := m.storage.Get(ctx, m.path(id), &ch); err != nil {
		return nil, orcherr.Wrap(orcherr.KindStorage, "channel not found", err)
	}
	return &ch, nil
}

// ListByProject returns every channel scoped to projectID. Channels have
// no project-scoped index of their own, so this walks every persisted
// channel and filters — acceptable at the scale a single legion's
// channel count reaches.
func (m *Manager) ListByProject(ctx context.Context, projectID string) ([]*types.Channel, error) {
	ids, err := m.storage.List(ctx, []string{"channel"})
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindStorage, "failed to list channels", err)
	}
	var out []*types.Channel
	for _, id := range ids {
		ch, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		if ch.ProjectID == projectID {
			out = append(out, ch)
		}
	}
	return out, nil
}

// AddMember is the single entry point for growing a channel's roster: it
// appends sid to the channel and the channel id to sid's ChannelIDs in
// one call, so no caller can update one side without the other.
func (m *Manager) AddMember(ctx context.Context, channelID, sid string) error {
	ch, err := m.Get(ctx, channelID)
	if err != nil {
		return err
	}
	if ch.HasMember(sid) {
		return nil
	}
	ch.MemberIDs = append(ch.MemberIDs, sid)
	ch.UpdatedAt = time.Now().UnixMilli()
	if err := m.persist(ctx, ch); err != nil {
		return err
	}

	_, err = m.sessions.Mutate(ctx, sid, func(s *types.Session) {
		if !s.InChannel(channelID) {
			s.ChannelIDs = append(s.ChannelIDs, channelID)
		}
	})
	return err
}

// RemoveMember is the single entry point for shrinking a channel's
// roster, symmetric with AddMember.
func (m *Manager) RemoveMember(ctx context.Context, channelID, sid string) error {
	ch, err := m.Get(ctx, channelID)
	if err != nil {
		return err
	}
	ch.MemberIDs = removeString(ch.MemberIDs, sid)
	ch.UpdatedAt = time.Now().UnixMilli()
	if err := m.persist(ctx, ch); err != nil {
		return err
	}

	_, err = m.sessions.Mutate(ctx, sid, func(s *types.Session) {
		s.ChannelIDs = removeString(s.ChannelIDs, channelID)
	})
	return err
}

// RemoveFromAll removes sid from every channel it currently belongs to,
// maintaining the same bidirectional invariant as RemoveMember for each
// one — used when a session is deleted or disposed of.
func (m *Manager) RemoveFromAll(ctx context.Context, sid string) error {
	sess, err := m.sessions.Get(sid)
	if err != nil {
		return err
	}
	for _, channelID := range append([]string{}, sess.ChannelIDs...) {
		if err := m.RemoveMember(ctx, channelID, sid); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a channel outright, detaching every remaining member.
func (m *Manager) Delete(ctx context.Context, channelID string) error {
	ch, err := m.Get(ctx, channelID)
	if err != nil {
		return err
	}
	for _, sid := range append([]string{}, ch.MemberIDs...) {
		if _, err := m.sessions.Mutate(ctx, sid, func(s *types.Session) {
			s.ChannelIDs = removeString(s.ChannelIDs, channelID)
		}); err != nil {
			return err
		}
	}
	if err := m.storage.Delete(ctx, m.path(channelID)); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to delete channel", err)
	}
	return nil
}

func (m *Manager) persist(ctx context.Context, ch *types.Channel) error {
	if err := m.storage.Put(ctx, m.path(ch.ID), ch); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to persist channel", err)
	}
	event.Publish(event.Event{Type: event.ChannelUpdated, Data: event.ChannelUpdatedData{Channel: ch}})
	return nil
}

func removeString(ss []string, target string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
