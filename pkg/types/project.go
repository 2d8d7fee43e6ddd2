package types

// Project groups sessions under one working-directory-scoped legion.
type Project struct {
	ID        string `json:"id"`
	Directory string `json:"directory"`
	Name      string `json:"name"`
	VCS       string `json:"vcs,omitempty"`

	SessionIDs []string `json:"sessionIDs,omitempty"`
	IsExpanded bool     `json:"isExpanded"`
	Order      int      `json:"order"`

	MaxConcurrentMinions int `json:"maxConcurrentMinions"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// DefaultMaxConcurrentMinions is the per-project cap on live minions
// when a project does not override it.
const DefaultMaxConcurrentMinions = 20

// Empty reports whether the project owns no sessions, the trigger for
// auto-deletion.
func (p *Project) Empty() bool {
	return len(p.SessionIDs) == 0
}
