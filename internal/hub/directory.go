package hub

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/interfaces"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// sharedDirectory collapses concurrent identical reads into one store query.
// FUNCTIONAL DISCOVERY: a teacher's upload notifies a whole class at once and
// every student reconnect asks for the same joined-class list; writes pass
// through untouched
type sharedDirectory struct {
	interfaces.Directory
	group singleflight.Group
}

func newSharedDirectory(dir interfaces.Directory) *sharedDirectory {
	return &sharedDirectory{Directory: dir}
}

func (d *sharedDirectory) JoinedClasses(ctx context.Context, userID string) ([]string, error) {
	v, err, _ := d.group.Do("joined:"+userID, func() (any, error) {
		return d.Directory.JoinedClasses(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (d *sharedDirectory) ClassSummary(ctx context.Context, classID string) (*types.ClassSummary, error) {
	v, err, _ := d.group.Do("class:"+classID, func() (any, error) {
		return d.Directory.ClassSummary(ctx, classID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.ClassSummary), nil
}
