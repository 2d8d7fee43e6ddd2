// Package overseer implements the Overseer Controller: spawns and
// disposes minions under parent authority, maintains parent-child and
// horde relationships, and triggers cascading archival on disposal, per
// spec §4.6.
package overseer

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/minionctl/orchestrator/internal/capability"
	"github.com/minionctl/orchestrator/internal/mcp"
	"github.com/minionctl/orchestrator/internal/orcherr"
	"github.com/minionctl/orchestrator/internal/session"
	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

// ProjectGate is the subset of internal/project.Service the Overseer
// Controller needs to enforce the per-project concurrent-minion cap and
// attach new minions to their project.
type ProjectGate interface {
	CanSpawnMinion(projectID string) bool
	AddSession(ctx context.Context, projectID, sessionID string) error
}

// Controller spawns and disposes minions under parent authority.
type Controller struct {
	manager     *session.Manager
	coordinator *session.Coordinator
	projects    ProjectGate
	capabilities *capability.Registry
	storage     *storage.Storage
}

// NewController wires a Controller. storage persists hordes, the only
// state this package owns directly (sessions live in session.Manager).
func NewController(manager *session.Manager, coordinator *session.Coordinator, projects ProjectGate, capabilities *capability.Registry, store *storage.Storage) *Controller {
	return &Controller{manager: manager, coordinator: coordinator, projects: projects, capabilities: capabilities, storage: store}
}

func hordePath(id string) []string { return []string{"horde", id} }

// Spawn creates a new minion as a child of parentID, enforcing the
// parent project's concurrent-minion cap, joining the parent's horde
// (creating one if the parent has none yet), registering capability
// keywords, and starting its SDK session.
func (c *Controller) Spawn(ctx context.Context, parentID string, args mcp.SpawnMinionArgs) (*types.Session, error) {
	parent, err := c.manager.Get(parentID)
	if err != nil {
		return nil, err
	}
	if !c.projects.CanSpawnMinion(parent.ProjectID) {
		return nil, orcherr.New(orcherr.KindValidation, "project has reached its concurrent minion cap").WithSession(parentID)
	}

	directory := args.Directory
	if directory == "" {
		directory = parent.Directory
	}

	hordeID, err := c.ensureHorde(ctx, parent)
	if err != nil {
		return nil, err
	}

	if c.hordeHasName(ctx, hordeID, args.Name) {
		return nil, orcherr.New(orcherr.KindValidation, "a minion with this name already exists in the legion").WithSession(parentID)
	}

	opts := []session.CreateOption{
		session.WithParent(parentID, parent.OverseerLevel+1),
		session.WithHorde(hordeID),
	}
	if len(args.Capabilities) > 0 {
		opts = append(opts, session.WithCapabilities(args.Capabilities))
	}
	if args.SystemPrompt != "" {
		opts = append(opts, session.WithSystemPrompt(args.SystemPrompt, false))
	}

	child, err := c.manager.Create(ctx, parent.ProjectID, directory, args.Name, opts...)
	if err != nil {
		return nil, err
	}

	if len(args.Capabilities) > 0 {
		c.capabilities.Register(child.ID, args.Capabilities)
	}

	if err := c.projects.AddSession(ctx, parent.ProjectID, child.ID); err != nil {
		return nil, orcherr.Wrap(orcherr.KindStorage, "failed to attach child to project", err)
	}

	if _, err := c.manager.Mutate(ctx, parentID, func(s *types.Session) {
		s.ChildIDs = append(s.ChildIDs, child.ID)
		s.IsOverseer = true
	}); err != nil {
		return nil, err
	}

	if err := c.appendHordeMember(ctx, hordeID, child.ID); err != nil {
		return nil, err
	}

	if err := c.coordinator.Start(ctx, child.ID); err != nil {
		return nil, err
	}

	return c.manager.Get(child.ID)
}

// Dispose tears down sid, provided requesterID is sid's parent or a
// transitive ancestor — a minion may only dispose of its own
// descendants. Cascades to sid's own children via the Coordinator,
// additionally detaching capability registrations.
func (c *Controller) Dispose(ctx context.Context, requesterID, sid string) error {
	if !c.isAncestor(requesterID, sid) {
		return orcherr.New(orcherr.KindValidation, "requester is not an ancestor of the target minion").WithSession(sid)
	}

	c.unregisterCapabilitiesRecursive(sid)

	return c.coordinator.DeleteCascade(ctx, sid, "disposed by "+requesterID)
}

func (c *Controller) unregisterCapabilitiesRecursive(sid string) {
	sess, err := c.manager.Get(sid)
	if err != nil {
		return
	}
	for _, childID := range sess.ChildIDs {
		c.unregisterCapabilitiesRecursive(childID)
	}
	c.capabilities.Unregister(sid)
}

func (c *Controller) isAncestor(candidateAncestor, sid string) bool {
	sess, err := c.manager.Get(sid)
	if err != nil {
		return false
	}
	for sess.ParentID != nil {
		if *sess.ParentID == candidateAncestor {
			return true
		}
		sess, err = c.manager.Get(*sess.ParentID)
		if err != nil {
			return false
		}
	}
	return false
}

// hordeHasName reports whether any existing member of hordeID already
// carries name, case-insensitively, mirroring internal/channel.Manager's
// own name-uniqueness check.
func (c *Controller) hordeHasName(ctx context.Context, hordeID, name string) bool {
	var horde types.Horde
	if err := c.storage.Get(ctx, hordePath(hordeID), &horde); err != nil {
		return false
	}
	lower := strings.ToLower(name)
	for _, memberID := range horde.MemberIDs {
		member, err := c.manager.Get(memberID)
		if err != nil {
			continue
		}
		if strings.ToLower(member.Name) == lower {
			return true
		}
	}
	return false
}

func (c *Controller) ensureHorde(ctx context.Context, parent *types.Session) (string, error) {
	if parent.HordeID != nil {
		return *parent.HordeID, nil
	}

	horde := &types.Horde{
		ID:        ulid.Make().String(),
		RootID:    parent.ID,
		ProjectID: parent.ProjectID,
		MemberIDs: []string{parent.ID},
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := c.storage.Put(ctx, hordePath(horde.ID), horde); err != nil {
		return "", orcherr.Wrap(orcherr.KindStorage, "failed to persist horde", err)
	}
	if _, err := c.manager.Mutate(ctx, parent.ID, func(s *types.Session) { s.HordeID = &horde.ID }); err != nil {
		return "", err
	}
	return horde.ID, nil
}

func (c *Controller) appendHordeMember(ctx context.Context, hordeID, sid string) error {
	var horde types.Horde
	if err := c.storage.Get(ctx, hordePath(hordeID), &horde); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to load horde", err)
	}
	horde.MemberIDs = append(horde.MemberIDs, sid)
	if err := c.storage.Put(ctx, hordePath(hordeID), &horde); err != nil {
		return orcherr.Wrap(orcherr.KindStorage, "failed to persist horde", err)
	}
	return nil
}

var _ session.OverseerController = (*Controller)(nil)
