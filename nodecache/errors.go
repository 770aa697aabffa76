package nodecache

import (
	"fmt"

	"github.com/pkg/errors"

	"go.viam.com/octreeview/octree"
)

// ErrClosed is returned by operations on a closed Cache that must report something.
var ErrClosed = errors.New("node cache closed")

// FetchError is a failed load of one node. The node is no longer in flight when the error is
// reported, so it may be requested again.
type FetchError struct {
	ID  octree.NodeID
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching node %s: %v", e.ID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
