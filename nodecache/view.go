package nodecache

import (
	"go.viam.com/octreeview/octree"
)

// A View is a materialized node ready for drawing. The cache owns every view it holds and releases
// it on eviction or Close.
type View interface {
	Meta() octree.NodeMeta
	// OccupiedBytes is the size of the view's position and color buffers.
	OccupiedBytes() int64
	// Release frees the view's resources. The cache calls it exactly once.
	Release() error
}

// A ViewBuilder turns a materialized payload, whose points are already in draw order, into a View.
type ViewBuilder interface {
	BuildView(data octree.NodeData) View
}

// A Renderer draws a prefix of a view's points sized for the level of detail and returns how many
// points it drew.
type Renderer interface {
	Draw(view View, levelOfDetail int, pointSize, gamma float32) int64
}

// HostView is a View that keeps its buffers in host memory.
type HostView struct {
	meta      octree.NodeMeta
	positions []byte
	colors    []byte
	released  bool
}

// Meta returns the node's metadata.
func (v *HostView) Meta() octree.NodeMeta {
	return v.meta
}

// Positions returns the encoded positions in draw order. Nil after Release.
func (v *HostView) Positions() []byte {
	return v.positions
}

// Colors returns the RGB colors in draw order. Nil after Release.
func (v *HostView) Colors() []byte {
	return v.colors
}

// OccupiedBytes returns the size of both buffers as built.
func (v *HostView) OccupiedBytes() int64 {
	return v.meta.PositionBytes() + v.meta.ColorBytes()
}

// Released reports whether Release was called.
func (v *HostView) Released() bool {
	return v.released
}

// Release drops the buffers.
func (v *HostView) Release() error {
	v.positions = nil
	v.colors = nil
	v.released = true
	return nil
}

// HostViewBuilder builds HostViews.
type HostViewBuilder struct{}

// BuildView wraps the payload's buffers without copying them.
func (HostViewBuilder) BuildView(data octree.NodeData) View {
	return &HostView{meta: data.Meta, positions: data.Positions, colors: data.Colors}
}
