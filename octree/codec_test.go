package octree

import (
	"encoding/binary"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestNodeDataCodec(t *testing.T) {
	cube := BoundingCube{Min: r3.Vector{X: 1, Y: 2, Z: 3}, EdgeLength: 8}
	points := []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}, {X: 9, Y: 10, Z: 11}}
	positions, err := EncodePositions(cube, EncodingUint16, points)
	test.That(t, err, test.ShouldBeNil)
	in := NodeData{
		Meta: NodeMeta{
			ID:        RootID.Child(6).Child(1),
			Cube:      cube,
			NumPoints: int64(len(points)),
			Encoding:  EncodingUint16,
		},
		Positions: positions,
		Colors:    []byte{1, 2, 3, 4, 5, 6, 7, 8, 9},
	}

	encoded, err := MarshalNodeData(in)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(encoded), test.ShouldBeGreaterThan, nodeHeaderSize)
	test.That(t, string(encoded[:4]), test.ShouldEqual, "OVN1")

	out, err := UnmarshalNodeData(encoded)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Meta, test.ShouldResemble, in.Meta)
	test.That(t, out.Positions, test.ShouldResemble, in.Positions)
	test.That(t, out.Colors, test.ShouldResemble, in.Colors)

	t.Run("invalid input", func(t *testing.T) {
		_, err := MarshalNodeData(NodeData{Meta: in.Meta, Positions: positions[:5], Colors: in.Colors})
		test.That(t, errors.Is(err, ErrInvalidPayload), test.ShouldBeTrue)

		_, err = UnmarshalNodeData(encoded[:10])
		test.That(t, errors.Is(err, ErrInvalidPayload), test.ShouldBeTrue)

		corrupt := append([]byte{}, encoded...)
		corrupt[0] = 'X'
		_, err = UnmarshalNodeData(corrupt)
		test.That(t, errors.Is(err, ErrInvalidPayload), test.ShouldBeTrue)

		// Claim one more point than the body holds.
		corrupt = append([]byte{}, encoded...)
		corrupt[14]++
		_, err = UnmarshalNodeData(corrupt)
		test.That(t, errors.Is(err, ErrInvalidPayload), test.ShouldBeTrue)

		// A header claiming more points than any body may hold is rejected before decompressing.
		for _, numPoints := range []int64{MaxNodePoints + 1, MaxDecodedNodeBytes} {
			corrupt = append([]byte{}, encoded...)
			binary.LittleEndian.PutUint64(corrupt[14:], uint64(numPoints))
			_, err = UnmarshalNodeData(corrupt)
			test.That(t, errors.Is(err, ErrInvalidPayload), test.ShouldBeTrue)
		}

		_, err = UnmarshalNodeData(encoded[:len(encoded)-2])
		test.That(t, err, test.ShouldNotBeNil)
	})
}
