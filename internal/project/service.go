package project

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

// Service manages the registry of known projects: one entry per
// directory a session has ever been spawned in, tracking its ordered
// session membership, UI expansion state, and concurrent-minion cap.
type Service struct {
	storage *storage.Storage

	mu       sync.Mutex
	projects map[string]*types.Project
}

// NewService creates a project service backed by storage.
func NewService(store *storage.Storage) *Service {
	return &Service{
		storage:  store,
		projects: make(map[string]*types.Project),
	}
}

// Load reads all persisted projects into memory. Call once at startup.
func (s *Service) Load(ctx context.Context) error {
	ids, err := s.storage.List(ctx, []string{"project"})
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		var p types.Project
		if err := s.storage.Get(ctx, []string{"project", id}, &p); err != nil {
			continue
		}
		s.projects[id] = &p
	}
	return nil
}

// GetOrCreate returns the project for a directory, detecting its VCS
// identity and creating a fresh registry entry on first use.
func (s *Service) GetOrCreate(ctx context.Context, directory string) (*types.Project, error) {
	info, err := FromDirectory(directory)
	if err != nil {
		return nil, fmt.Errorf("detect project: %w", err)
	}

	s.mu.Lock()
	if p, ok := s.projects[info.ID]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	now := time.Now().UnixMilli()
	vcs := ""
	if info.VCS != nil {
		vcs = *info.VCS
	}

	p := &types.Project{
		ID:                   info.ID,
		Directory:            directory,
		Name:                 directory,
		VCS:                  vcs,
		MaxConcurrentMinions: types.DefaultMaxConcurrentMinions,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	s.mu.Lock()
	s.projects[info.ID] = p
	s.mu.Unlock()

	return p, s.persist(ctx, p)
}

// Get returns a project by ID.
func (s *Service) Get(id string) (*types.Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	return p, ok
}

// List returns all known projects ordered by their Order field.
func (s *Service) List() []*types.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	projects := make([]*types.Project, 0, len(s.projects))
	for _, p := range s.projects {
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Order < projects[j].Order })
	return projects
}

// CanSpawnMinion reports whether a project has room under its
// concurrent-minion cap for one more session. Every session listed in
// SessionIDs counts toward the cap, whatever its state.
func (s *Service) CanSpawnMinion(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return true
	}
	return len(p.SessionIDs) < p.MaxConcurrentMinions
}

// AddSession appends a session to a project's membership.
func (s *Service) AddSession(ctx context.Context, projectID, sessionID string) error {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	p.SessionIDs = append(p.SessionIDs, sessionID)
	p.UpdatedAt = time.Now().UnixMilli()
	s.mu.Unlock()

	return s.persist(ctx, p)
}

// RemoveSession removes a session from a project's membership. If the
// project's session list becomes empty, the project is deleted from the
// registry and storage.
func (s *Service) RemoveSession(ctx context.Context, projectID, sessionID string) error {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	for i, id := range p.SessionIDs {
		if id == sessionID {
			p.SessionIDs = append(p.SessionIDs[:i], p.SessionIDs[i+1:]...)
			break
		}
	}
	p.UpdatedAt = time.Now().UnixMilli()
	empty := len(p.SessionIDs) == 0
	if empty {
		delete(s.projects, projectID)
	}
	s.mu.Unlock()

	if empty {
		return s.storage.Delete(ctx, []string{"project", projectID})
	}
	return s.persist(ctx, p)
}

// SetExpanded updates a project's UI expansion state.
func (s *Service) SetExpanded(ctx context.Context, projectID string, expanded bool) error {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	p.IsExpanded = expanded
	s.mu.Unlock()
	return s.persist(ctx, p)
}

// SetOrder updates a project's sort order.
func (s *Service) SetOrder(ctx context.Context, projectID string, order int) error {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	p.Order = order
	s.mu.Unlock()
	return s.persist(ctx, p)
}

// SetMaxConcurrentMinions updates a project's concurrent-minion cap.
func (s *Service) SetMaxConcurrentMinions(ctx context.Context, projectID string, max int) error {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("project %s not found", projectID)
	}
	p.MaxConcurrentMinions = max
	s.mu.Unlock()
	return s.persist(ctx, p)
}

func (s *Service) persist(ctx context.Context, p *types.Project) error {
	return s.storage.Put(ctx, []string{"project", p.ID}, p)
}
