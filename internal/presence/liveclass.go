package presence

import (
	"sync"

	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// LiveBoard holds live-class announcements, last write wins per room id.
// Nothing ends a live class; entries live until process exit.
type LiveBoard struct {
	mu      sync.RWMutex
	classes map[string]types.LiveClass
	order   []string // first-announcement order
}

// NewLiveBoard creates an empty board.
func NewLiveBoard() *LiveBoard {
	return &LiveBoard{classes: make(map[string]types.LiveClass)}
}

// Announce records lc, replacing any earlier announcement for the same room.
func (b *LiveBoard) Announce(lc types.LiveClass) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.classes[lc.ClassroomID]; !exists {
		b.order = append(b.order, lc.ClassroomID)
	}
	b.classes[lc.ClassroomID] = lc
}

// All returns every announcement in first-announcement order.
func (b *LiveBoard) All() []types.LiveClass {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.LiveClass, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.classes[id])
	}
	return out
}

// ForClasses returns the announcements whose room id is in classIDs.
func (b *LiveBoard) ForClasses(classIDs []string) []types.LiveClass {
	want := make(map[string]struct{}, len(classIDs))
	for _, id := range classIDs {
		want[id] = struct{}{}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.LiveClass, 0)
	for _, id := range b.order {
		if _, ok := want[id]; ok {
			out = append(out, b.classes[id])
		}
	}
	return out
}

// Count returns the number of live classes.
func (b *LiveBoard) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.classes)
}
