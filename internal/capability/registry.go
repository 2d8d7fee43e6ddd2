// Package capability implements the capability registry: a concurrent
// keyword -> member-set index letting the Comm Router and overseer
// tooling discover which minions advertise a given capability keyword,
// per spec §4.6.
package capability

import "sync"

// Registry is a concurrent map[keyword]map[sid]struct{}.
type Registry struct {
	mu    sync.RWMutex
	index map[string]map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]map[string]struct{})}
}

// Register advertises sid under every keyword in keywords.
func (r *Registry) Register(sid string, keywords []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, kw := range keywords {
		members, ok := r.index[kw]
		if !ok {
			members = make(map[string]struct{})
			r.index[kw] = members
		}
		members[sid] = struct{}{}
	}
}

// Unregister removes sid from every keyword it was registered under.
// Called on session deletion.
func (r *Registry) Unregister(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kw, members := range r.index {
		delete(members, sid)
		if len(members) == 0 {
			delete(r.index, kw)
		}
	}
}

// Find returns every sid registered under keyword, in no particular
// order.
func (r *Registry) Find(keyword string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.index[keyword]
	out := make([]string, 0, len(members))
	for sid := range members {
		out = append(out, sid)
	}
	return out
}

// Keywords returns every keyword sid is currently registered under.
func (r *Registry) Keywords(sid string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for kw, members := range r.index {
		if _, ok := members[sid]; ok {
			out = append(out, kw)
		}
	}
	return out
}
