package octree

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/octreeview/pointcloud"
)

// Defaults for BuildOptions.
const (
	DefaultMaxPointsPerNode = 20000
	DefaultResolution       = 0.001
)

// BuildOptions control how Build partitions a cloud.
type BuildOptions struct {
	// MaxPointsPerNode bounds how many points a single node keeps before spilling into its children.
	MaxPointsPerNode int
	// Resolution is the coarsest acceptable position quantization, in cloud units.
	Resolution float64
	// Encoding forces one encoding for every node instead of choosing per node.
	Encoding *PositionEncoding
}

func (opts BuildOptions) withDefaults() BuildOptions {
	if opts.MaxPointsPerNode <= 0 {
		opts.MaxPointsPerNode = DefaultMaxPointsPerNode
	}
	if opts.Resolution <= 0 {
		opts.Resolution = DefaultResolution
	}
	return opts
}

// RootCube returns the cube that the octree over the given cloud starts from.
func RootCube(meta pointcloud.MetaData) BoundingCube {
	extent := meta.Max().Sub(meta.Min())
	edge := max(extent.X, extent.Y, extent.Z)
	if edge <= 0 {
		edge = 1
	}
	return BoundingCube{Min: meta.Min(), EdgeLength: edge}
}

// Build partitions cloud into octree nodes and hands each one to emit, parents before children.
// A node holding more than MaxPointsPerNode points keeps an evenly strided subsample, so every level
// is a coarse preview of the levels below it, and distributes the remainder among its octants.
// Uncolored points are stored as white.
func Build(ctx context.Context, cloud pointcloud.PointCloud, opts BuildOptions, emit func(NodeData) error) (BoundingCube, error) {
	if cloud.Size() == 0 {
		return BoundingCube{}, errors.New("cannot build an octree from an empty cloud")
	}
	opts = opts.withDefaults()
	points := make([]pointcloud.PointAndData, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		points = append(points, pointcloud.PointAndData{P: p, D: d})
		return true
	})
	root := RootCube(cloud.MetaData())
	b := builder{opts: opts, emit: emit}
	return root, b.build(ctx, RootID, root, points)
}

type builder struct {
	opts BuildOptions
	emit func(NodeData) error
}

func (b *builder) build(ctx context.Context, id NodeID, cube BoundingCube, points []pointcloud.PointAndData) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keep := points
	var children [8][]pointcloud.PointAndData
	if len(points) > b.opts.MaxPointsPerNode && id.Level < MaxLevel {
		keep = make([]pointcloud.PointAndData, 0, b.opts.MaxPointsPerNode)
		step := float64(len(points)) / float64(b.opts.MaxPointsPerNode)
		next := 0.0
		for i, pt := range points {
			if i == int(next) && len(keep) < b.opts.MaxPointsPerNode {
				keep = append(keep, pt)
				next += step
				continue
			}
			octant := cube.OctantOf(pt.P)
			children[octant] = append(children[octant], pt)
		}
	}

	data, err := b.nodeData(id, cube, keep)
	if err != nil {
		return err
	}
	if err := b.emit(data); err != nil {
		return errors.Wrapf(err, "emitting node %s", id)
	}

	for octant, childPoints := range children {
		if len(childPoints) == 0 {
			continue
		}
		if err := b.build(ctx, id.Child(octant), cube.Octant(octant), childPoints); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) nodeData(id NodeID, cube BoundingCube, points []pointcloud.PointAndData) (NodeData, error) {
	encoding := ChoosePositionEncoding(cube.EdgeLength, b.opts.Resolution)
	if b.opts.Encoding != nil {
		encoding = *b.opts.Encoding
	}

	positions := make([]r3.Vector, len(points))
	colors := make([]byte, 0, len(points)*ColorStride)
	for i, pt := range points {
		positions[i] = pt.P
		r, g, bl := uint8(255), uint8(255), uint8(255)
		if pt.D != nil && pt.D.HasColor() {
			r, g, bl = pt.D.RGB255()
		}
		colors = append(colors, r, g, bl)
	}
	encoded, err := EncodePositions(cube, encoding, positions)
	if err != nil {
		return NodeData{}, err
	}
	return NodeData{
		Meta: NodeMeta{
			ID:        id,
			Cube:      cube,
			NumPoints: int64(len(points)),
			Encoding:  encoding,
		},
		Positions: encoded,
		Colors:    colors,
	}, nil
}
