package octree

import (
	"math"

	"github.com/pkg/errors"
)

const (
	// ColorStride is the number of bytes each point's RGB color occupies.
	ColorStride = 3
	// MaxNodePoints bounds the point count of a node so its buffer sizes fit in an int64.
	MaxNodePoints = math.MaxInt64 / 24
)

// NodeMeta is what a renderer needs to know about a node besides its buffers.
type NodeMeta struct {
	ID        NodeID
	Cube      BoundingCube
	NumPoints int64
	Encoding  PositionEncoding
}

// NumPointsForLevelOfDetail returns how many points to draw at the given level of detail. Level n
// draws every n-th share of the points; levels of 1 or less draw all of them.
func (m NodeMeta) NumPointsForLevelOfDetail(levelOfDetail int) int64 {
	if levelOfDetail <= 1 || m.NumPoints <= 0 {
		return max(m.NumPoints, 0)
	}
	lod := int64(levelOfDetail)
	n := m.NumPoints / lod
	if m.NumPoints%lod != 0 {
		n++
	}
	return n
}

// PositionBytes is the expected length of the node's position buffer.
func (m NodeMeta) PositionBytes() int64 {
	return m.NumPoints * int64(m.Encoding.Stride())
}

// ColorBytes is the expected length of the node's color buffer.
func (m NodeMeta) ColorBytes() int64 {
	return m.NumPoints * ColorStride
}

// NodeData is the raw payload of one node as produced by a DataSource.
type NodeData struct {
	Meta      NodeMeta
	Positions []byte
	Colors    []byte
}

// Validate checks that the buffers agree with the metadata.
func (d NodeData) Validate() error {
	if !d.Meta.Encoding.Valid() {
		return errors.Wrapf(ErrInvalidPayload, "node %s has unknown encoding %d", d.Meta.ID, d.Meta.Encoding)
	}
	if d.Meta.NumPoints < 0 {
		return errors.Wrapf(ErrInvalidPayload, "node %s has negative point count %d", d.Meta.ID, d.Meta.NumPoints)
	}
	if d.Meta.NumPoints > MaxNodePoints {
		return errors.Wrapf(ErrInvalidPayload, "node %s has too many points (%d)", d.Meta.ID, d.Meta.NumPoints)
	}
	if int64(len(d.Positions)) != d.Meta.PositionBytes() {
		return errors.Wrapf(ErrInvalidPayload, "node %s has %d position bytes, expected %d",
			d.Meta.ID, len(d.Positions), d.Meta.PositionBytes())
	}
	if int64(len(d.Colors)) != d.Meta.ColorBytes() {
		return errors.Wrapf(ErrInvalidPayload, "node %s has %d color bytes, expected %d",
			d.Meta.ID, len(d.Colors), d.Meta.ColorBytes())
	}
	return nil
}
