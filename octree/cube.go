package octree

import (
	"github.com/golang/geo/r3"
)

// BoundingCube is an axis aligned cube given by its lower corner and edge length.
type BoundingCube struct {
	Min        r3.Vector
	EdgeLength float64
}

// Max returns the upper corner of the cube.
func (c BoundingCube) Max() r3.Vector {
	return c.Min.Add(r3.Vector{X: c.EdgeLength, Y: c.EdgeLength, Z: c.EdgeLength})
}

// Center returns the center of the cube.
func (c BoundingCube) Center() r3.Vector {
	half := c.EdgeLength / 2
	return c.Min.Add(r3.Vector{X: half, Y: half, Z: half})
}

// Contains reports whether p lies within the cube, boundaries included.
func (c BoundingCube) Contains(p r3.Vector) bool {
	maxV := c.Max()
	return p.X >= c.Min.X && p.X <= maxV.X &&
		p.Y >= c.Min.Y && p.Y <= maxV.Y &&
		p.Z >= c.Min.Z && p.Z <= maxV.Z
}

// Octant returns the sub cube for the given octant. Bit 0 selects the upper half in X, bit 1 in Y and
// bit 2 in Z.
func (c BoundingCube) Octant(octant int) BoundingCube {
	half := c.EdgeLength / 2
	offset := r3.Vector{}
	if octant&1 != 0 {
		offset.X = half
	}
	if octant&2 != 0 {
		offset.Y = half
	}
	if octant&4 != 0 {
		offset.Z = half
	}
	return BoundingCube{Min: c.Min.Add(offset), EdgeLength: half}
}

// OctantOf returns the octant p falls in. Points on a center plane belong to the upper half.
func (c BoundingCube) OctantOf(p r3.Vector) int {
	center := c.Center()
	octant := 0
	if p.X >= center.X {
		octant |= 1
	}
	if p.Y >= center.Y {
		octant |= 2
	}
	if p.Z >= center.Z {
		octant |= 4
	}
	return octant
}

// CubeForNode walks the octant path of id down from root.
func CubeForNode(root BoundingCube, id NodeID) BoundingCube {
	cube := root
	for l := int(id.Level) - 1; l >= 0; l-- {
		cube = cube.Octant(int(id.Index>>(3*uint(l))) & 7)
	}
	return cube
}
