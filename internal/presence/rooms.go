package presence

import (
	"sort"
	"sync"

	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// Rooms is the Room Membership Tracker.
// ARCHITECTURAL DISCOVERY: Membership is stored by connection id and resolved
// against the Registry at query time, so a join may land before the profile does
//
// Rooms are created on first join and never evicted; an emptied room keeps its key.
type Rooms struct {
	mu       sync.RWMutex
	registry *Registry
	members  map[string]map[string]uint64   // roomID -> connID -> join sequence
	byConn   map[string]map[string]struct{} // connID -> roomIDs, for disconnect
	seq      uint64
}

// NewRooms creates a tracker resolving profiles through registry.
func NewRooms(registry *Registry) *Rooms {
	return &Rooms{
		registry: registry,
		members:  make(map[string]map[string]uint64),
		byConn:   make(map[string]map[string]struct{}),
	}
}

// Join adds connID to roomID. Reports whether the membership is new.
func (t *Rooms) Join(roomID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, exists := t.members[roomID]
	if !exists {
		room = make(map[string]uint64)
		t.members[roomID] = room
	}
	if _, already := room[connID]; already {
		return false
	}

	t.seq++
	room[connID] = t.seq
	if t.byConn[connID] == nil {
		t.byConn[connID] = make(map[string]struct{})
	}
	t.byConn[connID][roomID] = struct{}{}
	return true
}

// Leave removes connID from roomID. Reports whether it was a member.
func (t *Rooms) Leave(roomID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(roomID, connID)
}

func (t *Rooms) leaveLocked(roomID, connID string) bool {
	room, exists := t.members[roomID]
	if !exists {
		return false
	}
	if _, member := room[connID]; !member {
		return false
	}
	delete(room, connID)

	if rooms := t.byConn[connID]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(t.byConn, connID)
		}
	}
	return true
}

// DisconnectAll removes connID from every room and returns the affected room ids, sorted.
func (t *Rooms) DisconnectAll(connID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	joined := t.byConn[connID]
	affected := make([]string, 0, len(joined))
	for roomID := range joined {
		affected = append(affected, roomID)
	}
	for _, roomID := range affected {
		t.leaveLocked(roomID, connID)
	}
	sort.Strings(affected)
	return affected
}

// Members returns the connection ids joined to roomID in join order.
func (t *Rooms) Members(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	room := t.members[roomID]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return room[ids[i]] < room[ids[j]] })
	return ids
}

// ActiveMembers resolves every member through the Registry. Members that have not
// announced a profile yet are left out. Computed fresh on every call.
func (t *Rooms) ActiveMembers(roomID string) []types.Presence {
	ids := t.Members(roomID)
	active := make([]types.Presence, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.registry.Lookup(id); ok {
			active = append(active, p)
		}
	}
	return active
}

// IsMember reports whether connID is joined to roomID.
func (t *Rooms) IsMember(roomID, connID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[roomID][connID]
	return ok
}

// RoomsOf returns the rooms connID is joined to, sorted.
func (t *Rooms) RoomsOf(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rooms := make([]string, 0, len(t.byConn[connID]))
	for roomID := range t.byConn[connID] {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// Count returns the number of room records, empty ones included.
func (t *Rooms) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}
