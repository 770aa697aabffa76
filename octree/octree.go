// Package octree describes a hierarchical point cloud partitioned into octree nodes, and how a
// node's payload is addressed, encoded and fetched.
package octree

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNodeNotFound is returned by a DataSource that does not hold the requested node.
	ErrNodeNotFound = errors.New("octree node not found")
	// ErrInvalidPayload is returned when a node's buffers do not agree with its metadata.
	ErrInvalidPayload = errors.New("invalid octree node payload")
)

// A DataSource returns the raw payload of a single node. Fetch may block for a long time and must
// honor context cancellation where it can.
type DataSource interface {
	Fetch(ctx context.Context, id NodeID) (NodeData, error)
}

// A Lister can enumerate the nodes it holds.
type Lister interface {
	NodeIDs(ctx context.Context) ([]NodeID, error)
}
