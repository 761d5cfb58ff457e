package interfaces

import (
	"context"

	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// Directory is the slice of the persistence layer the real-time core calls into.
// FUNCTIONAL DISCOVERY: These are the only suspension points of event handling;
// the hub runs them off its loop and applies results back on it
type Directory interface {
	// JoinedClasses returns the ids of every class the user is a member of.
	JoinedClasses(ctx context.Context, userID string) ([]string, error)

	// ClassSummary returns a class with its teacher name and member ids.
	ClassSummary(ctx context.Context, classID string) (*types.ClassSummary, error)

	// StoreChatMessage persists a chat message and returns it with its author populated.
	StoreChatMessage(ctx context.Context, classID, authorID, message string) (*types.ChatMessage, error)
}

// DatabaseManager handles all document operations behind the HTTP surface.
type DatabaseManager interface {
	Directory

	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, userID string) (*types.User, error)

	CreateClass(ctx context.Context, class *types.Class) error
	GetClass(ctx context.Context, classID string) (*types.Class, error)

	// JoinClass appends the user to the class member list. Joining twice is a no-op.
	JoinClass(ctx context.Context, classID, userID string) error
	ClassMembers(ctx context.Context, classID string) ([]string, error)

	// ChatHistory returns the class chat in chronological order.
	ChatHistory(ctx context.Context, classID string) ([]*types.ChatMessage, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
