package octree

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

var nodeMagic = [4]byte{'O', 'V', 'N', '1'}

// nodeHeader is the fixed size, little endian prefix of an encoded node. The zstd compressed
// positions followed by the colors come after it.
type nodeHeader struct {
	Magic      [4]byte
	Level      uint8
	Index      uint64
	Encoding   uint8
	NumPoints  int64
	MinX       float64
	MinY       float64
	MinZ       float64
	EdgeLength float64
}

var nodeHeaderSize = binary.Size(nodeHeader{})

// MaxDecodedNodeBytes bounds the decompressed body of a single encoded node.
const MaxDecodedNodeBytes = 1 << 30

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedNodeBytes))
	})
)

// MarshalNodeData encodes a node into a self describing byte slice.
func MarshalNodeData(d NodeData) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	enc, err := zstdEncoder()
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd encoder")
	}
	header := nodeHeader{
		Magic:      nodeMagic,
		Level:      d.Meta.ID.Level,
		Index:      d.Meta.ID.Index,
		Encoding:   uint8(d.Meta.Encoding),
		NumPoints:  d.Meta.NumPoints,
		MinX:       d.Meta.Cube.Min.X,
		MinY:       d.Meta.Cube.Min.Y,
		MinZ:       d.Meta.Cube.Min.Z,
		EdgeLength: d.Meta.Cube.EdgeLength,
	}
	var buf bytes.Buffer
	buf.Grow(nodeHeaderSize + len(d.Positions) + len(d.Colors))
	if err := binary.Write(&buf, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	body := make([]byte, 0, len(d.Positions)+len(d.Colors))
	body = append(append(body, d.Positions...), d.Colors...)
	return enc.EncodeAll(body, buf.Bytes()), nil
}

// UnmarshalNodeData decodes the output of MarshalNodeData and validates the result.
func UnmarshalNodeData(data []byte) (NodeData, error) {
	if len(data) < nodeHeaderSize {
		return NodeData{}, errors.Wrapf(ErrInvalidPayload, "encoded node of %d bytes is shorter than its header", len(data))
	}
	var header nodeHeader
	if err := binary.Read(bytes.NewReader(data[:nodeHeaderSize]), binary.LittleEndian, &header); err != nil {
		return NodeData{}, err
	}
	if header.Magic != nodeMagic {
		return NodeData{}, errors.Wrapf(ErrInvalidPayload, "bad node magic %q", header.Magic[:])
	}
	meta := NodeMeta{
		ID:        NodeID{Level: header.Level, Index: header.Index},
		Cube:      BoundingCube{Min: r3.Vector{X: header.MinX, Y: header.MinY, Z: header.MinZ}, EdgeLength: header.EdgeLength},
		NumPoints: header.NumPoints,
		Encoding:  PositionEncoding(header.Encoding),
	}
	if !meta.Encoding.Valid() || meta.NumPoints < 0 || meta.NumPoints > MaxNodePoints {
		return NodeData{}, errors.Wrapf(ErrInvalidPayload, "node %s header claims %d points of %s",
			meta.ID, meta.NumPoints, meta.Encoding)
	}
	size := meta.PositionBytes() + meta.ColorBytes()
	if size > MaxDecodedNodeBytes {
		return NodeData{}, errors.Wrapf(ErrInvalidPayload, "node %s body of %d bytes exceeds %d",
			meta.ID, size, MaxDecodedNodeBytes)
	}

	dec, err := zstdDecoder()
	if err != nil {
		return NodeData{}, errors.Wrap(err, "creating zstd decoder")
	}
	body, err := dec.DecodeAll(data[nodeHeaderSize:], make([]byte, 0, size))
	if err != nil {
		return NodeData{}, errors.Wrap(err, "decompressing node body")
	}
	if int64(len(body)) != size {
		return NodeData{}, errors.Wrapf(ErrInvalidPayload, "node %s body of %d bytes does not match %d points of %s",
			meta.ID, len(body), meta.NumPoints, meta.Encoding)
	}
	split := meta.PositionBytes()
	d := NodeData{
		Meta:      meta,
		Positions: body[:split:split],
		Colors:    body[split:],
	}
	return d, d.Validate()
}
