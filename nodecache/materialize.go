package nodecache

import (
	"math/rand/v2"

	"go.viam.com/octreeview/octree"
)

// Materialize returns a copy of data whose points are in a uniformly random order, so that
// drawing any prefix of the buffers yields an unbiased subsample of the node. The same permutation
// is applied to positions and colors. Buffers that disagree with the metadata are an error.
func Materialize(data octree.NodeData, rng *rand.Rand) (octree.NodeData, error) {
	if err := data.Validate(); err != nil {
		return octree.NodeData{}, err
	}
	n := int(data.Meta.NumPoints)
	stride := data.Meta.Encoding.Stride()
	perm := rng.Perm(n)

	out := octree.NodeData{
		Meta:      data.Meta,
		Positions: make([]byte, len(data.Positions)),
		Colors:    make([]byte, len(data.Colors)),
	}
	for dst, src := range perm {
		copy(out.Positions[dst*stride:(dst+1)*stride], data.Positions[src*stride:(src+1)*stride])
		copy(out.Colors[dst*octree.ColorStride:(dst+1)*octree.ColorStride],
			data.Colors[src*octree.ColorStride:(src+1)*octree.ColorStride])
	}
	return out, nil
}
