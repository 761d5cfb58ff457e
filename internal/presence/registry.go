package presence

import (
	"sort"
	"sync"

	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/interfaces"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// entry is one live transport session. profile stays nil until the client
// announces itself.
type entry struct {
	handle  interfaces.Handle
	profile *types.Profile
	seq     uint64
}

// Registry is the process-wide Connection Registry.
// ARCHITECTURAL DISCOVERY: Keyed by connection id only; a user with several tabs
// owns several entries and nothing here ever merges them
type Registry struct {
	mu    sync.RWMutex // TECHNICAL DISCOVERY: read-heavy, every broadcast resolves handles
	conns map[string]*entry
	seq   uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*entry)}
}

// Connect records a newly accepted transport session. Connecting an id that is
// already live keeps the original entry.
func (r *Registry) Connect(connID string, h interfaces.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return
	}
	r.seq++
	r.conns[connID] = &entry{handle: h, seq: r.seq}
}

// Announce attaches a profile to a live connection. The first announcement wins;
// later ones only fill fields the record still lacks. Announcing on a connection
// that is not live is a no-op. Reports whether the record changed.
func (r *Registry) Announce(connID string, p types.Profile) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.conns[connID]
	if !exists {
		return false
	}
	if e.profile == nil {
		cp := p
		e.profile = &cp
		return true
	}

	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&e.profile.UserID, p.UserID)
	fill(&e.profile.Email, p.Email)
	fill(&e.profile.Name, p.Name)
	fill(&e.profile.Avatar, p.Avatar)
	return changed
}

// Remove drops the connection. Safe to call repeatedly and for unknown ids.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
}

// Handle returns the delivery handle of a live connection.
func (r *Registry) Handle(connID string) (interfaces.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.conns[connID]
	if !exists {
		return nil, false
	}
	return e.handle, true
}

// Lookup returns the presence record of a connection that has announced a profile.
func (r *Registry) Lookup(connID string) (types.Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.conns[connID]
	if !exists || e.profile == nil {
		return types.Presence{}, false
	}
	return types.Presence{Socket: connID, Profile: *e.profile}, true
}

// ListAll returns a snapshot of every resolved presence record in connect order.
func (r *Registry) ListAll() []types.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type ordered struct {
		seq uint64
		p   types.Presence
	}
	list := make([]ordered, 0, len(r.conns))
	for id, e := range r.conns {
		if e.profile == nil {
			continue
		}
		list = append(list, ordered{seq: e.seq, p: types.Presence{Socket: id, Profile: *e.profile}})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })

	out := make([]types.Presence, len(list))
	for i := range list {
		out[i] = list[i].p
	}
	return out
}

// Connections returns every live connection id, announced or not.
func (r *Registry) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConnectionsOfUsers returns the live connections whose announced user id is in userIDs.
func (r *Registry) ConnectionsOfUsers(userIDs []string) []string {
	want := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, e := range r.conns {
		if e.profile == nil || e.profile.UserID == "" {
			continue
		}
		if _, ok := want[e.profile.UserID]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
