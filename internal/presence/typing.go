package presence

import "sync"

// Typing is the per-room set of users currently typing.
// FUNCTIONAL DISCOVERY: Keyed by user, not connection; typing is a per-person
// state even though presence above is per-tab
type Typing struct {
	mu    sync.Mutex
	rooms map[string][]string // roomID -> users in the order they started typing
}

// NewTyping creates an empty aggregator.
func NewTyping() *Typing {
	return &Typing{rooms: make(map[string][]string)}
}

// SetTyping marks userID as typing in roomID and returns the room's typing set.
func (t *Typing) SetTyping(roomID, userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.rooms[roomID]
	if indexOf(users, userID) < 0 {
		users = append(users, userID)
		t.rooms[roomID] = users
	}
	return clone(users)
}

// ClearTyping removes userID from roomID's typing set. changed is false when the
// user was not typing, in which case callers skip the broadcast.
func (t *Typing) ClearTyping(roomID, userID string) (users []string, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.rooms[roomID]
	i := indexOf(current, userID)
	if i < 0 {
		return clone(current), false
	}
	current = append(current[:i], current[i+1:]...)
	t.rooms[roomID] = current
	return clone(current), true
}

// Users returns the typing set of roomID.
func (t *Typing) Users(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.rooms[roomID])
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func clone(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	return out
}
