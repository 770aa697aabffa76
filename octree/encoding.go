package octree

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PositionEncoding is how a node stores the three coordinates of each point.
type PositionEncoding uint8

// Known position encodings. Integer encodings are quantized relative to the node's cube; float
// encodings store offsets from the cube's lower corner.
const (
	EncodingUint8 PositionEncoding = iota
	EncodingUint16
	EncodingFloat32
	EncodingFloat64
)

// Stride returns the number of bytes one point's position occupies.
func (e PositionEncoding) Stride() int {
	switch e {
	case EncodingUint8:
		return 3
	case EncodingUint16:
		return 6
	case EncodingFloat32:
		return 12
	case EncodingFloat64:
		return 24
	default:
		return 0
	}
}

// Valid reports whether e is a known encoding.
func (e PositionEncoding) Valid() bool {
	return e.Stride() != 0
}

func (e PositionEncoding) String() string {
	switch e {
	case EncodingUint8:
		return "uint8"
	case EncodingUint16:
		return "uint16"
	case EncodingFloat32:
		return "float32"
	case EncodingFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// ParsePositionEncoding returns the encoding with the given name.
func ParsePositionEncoding(s string) (PositionEncoding, error) {
	for _, e := range []PositionEncoding{EncodingUint8, EncodingUint16, EncodingFloat32, EncodingFloat64} {
		if strings.EqualFold(s, e.String()) {
			return e, nil
		}
	}
	return 0, errors.Errorf("unknown position encoding %q", s)
}

// ChoosePositionEncoding returns the smallest encoding whose quantization step over a cube of the
// given edge length is no coarser than resolution.
func ChoosePositionEncoding(edgeLength, resolution float64) PositionEncoding {
	switch {
	case edgeLength/math.MaxUint8 <= resolution:
		return EncodingUint8
	case edgeLength/math.MaxUint16 <= resolution:
		return EncodingUint16
	case edgeLength/(1<<24) <= resolution:
		return EncodingFloat32
	default:
		return EncodingFloat64
	}
}

func quantize(v, minV, edge, steps float64) float64 {
	if edge <= 0 {
		return 0
	}
	q := math.Round((v - minV) / edge * steps)
	return math.Max(0, math.Min(steps, q))
}

// EncodePositions encodes points inside cube with the given encoding.
func EncodePositions(cube BoundingCube, e PositionEncoding, points []r3.Vector) ([]byte, error) {
	if !e.Valid() {
		return nil, errors.Errorf("unknown position encoding %d", e)
	}
	stride := e.Stride()
	out := make([]byte, len(points)*stride)
	for i, p := range points {
		abs := [3]float64{p.X, p.Y, p.Z}
		lo := [3]float64{cube.Min.X, cube.Min.Y, cube.Min.Z}
		rec := out[i*stride : (i+1)*stride]
		for axis := range abs {
			switch e {
			case EncodingUint8:
				rec[axis] = uint8(quantize(abs[axis], lo[axis], cube.EdgeLength, math.MaxUint8))
			case EncodingUint16:
				binary.LittleEndian.PutUint16(rec[2*axis:], uint16(quantize(abs[axis], lo[axis], cube.EdgeLength, math.MaxUint16)))
			case EncodingFloat32:
				binary.LittleEndian.PutUint32(rec[4*axis:], math.Float32bits(float32(abs[axis]-lo[axis])))
			case EncodingFloat64:
				binary.LittleEndian.PutUint64(rec[8*axis:], math.Float64bits(abs[axis]-lo[axis]))
			}
		}
	}
	return out, nil
}

// DecodePositions is the inverse of EncodePositions, up to the encoding's precision.
func DecodePositions(cube BoundingCube, e PositionEncoding, data []byte) ([]r3.Vector, error) {
	stride := e.Stride()
	if stride == 0 {
		return nil, errors.Errorf("unknown position encoding %d", e)
	}
	if len(data)%stride != 0 {
		return nil, errors.Errorf("position buffer of %d bytes is not a multiple of stride %d", len(data), stride)
	}
	out := make([]r3.Vector, len(data)/stride)
	for i := range out {
		rec := data[i*stride : (i+1)*stride]
		var rel [3]float64
		for axis := range rel {
			switch e {
			case EncodingUint8:
				rel[axis] = float64(rec[axis]) / math.MaxUint8 * cube.EdgeLength
			case EncodingUint16:
				rel[axis] = float64(binary.LittleEndian.Uint16(rec[2*axis:])) / math.MaxUint16 * cube.EdgeLength
			case EncodingFloat32:
				rel[axis] = float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4*axis:])))
			case EncodingFloat64:
				rel[axis] = math.Float64frombits(binary.LittleEndian.Uint64(rec[8*axis:]))
			}
		}
		out[i] = cube.Min.Add(r3.Vector{X: rel[0], Y: rel[1], Z: rel[2]})
	}
	return out, nil
}
