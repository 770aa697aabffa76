package fake

import (
	"go.viam.com/octreeview/octree"
)

// UnitCube is the root cube of nodes created by NewNode.
var UnitCube = octree.BoundingCube{EdgeLength: 1}

// NewNode returns a valid node with numPoints points whose position and color records are all
// distinct, which makes permutations of the buffers easy to verify. Point i's records carry i in
// their leading bytes, so up to 1<<24 points stay distinct.
func NewNode(id octree.NodeID, numPoints int, encoding octree.PositionEncoding) octree.NodeData {
	stride := encoding.Stride()
	positions := make([]byte, numPoints*stride)
	colors := make([]byte, numPoints*octree.ColorStride)
	for i := 0; i < numPoints; i++ {
		rec := positions[i*stride : (i+1)*stride]
		rec[0], rec[1], rec[2] = byte(i), byte(i>>8), byte(i>>16)
		for j := 3; j < stride; j++ {
			rec[j] = byte(j)
		}
		colors[i*3], colors[i*3+1], colors[i*3+2] = byte(i>>16), byte(i>>8), byte(i)
	}
	return octree.NodeData{
		Meta: octree.NodeMeta{
			ID:        id,
			Cube:      octree.CubeForNode(UnitCube, id),
			NumPoints: int64(numPoints),
			Encoding:  encoding,
		},
		Positions: positions,
		Colors:    colors,
	}
}
