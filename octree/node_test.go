package octree

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestNumPointsForLevelOfDetail(t *testing.T) {
	meta := NodeMeta{NumPoints: 10, Encoding: EncodingFloat32}
	test.That(t, meta.NumPointsForLevelOfDetail(0), test.ShouldEqual, 10)
	test.That(t, meta.NumPointsForLevelOfDetail(1), test.ShouldEqual, 10)
	test.That(t, meta.NumPointsForLevelOfDetail(3), test.ShouldEqual, 4)
	test.That(t, meta.NumPointsForLevelOfDetail(100), test.ShouldEqual, 1)
	test.That(t, NodeMeta{}.NumPointsForLevelOfDetail(4), test.ShouldEqual, 0)
	huge := NodeMeta{NumPoints: math.MaxInt64}
	test.That(t, huge.NumPointsForLevelOfDetail(2), test.ShouldEqual, int64(math.MaxInt64/2+1))
}

func TestNodeDataValidate(t *testing.T) {
	meta := NodeMeta{ID: RootID, NumPoints: 4, Encoding: EncodingFloat32}
	good := NodeData{Meta: meta, Positions: make([]byte, 48), Colors: make([]byte, 12)}
	test.That(t, good.Validate(), test.ShouldBeNil)
	test.That(t, meta.PositionBytes(), test.ShouldEqual, 48)
	test.That(t, meta.ColorBytes(), test.ShouldEqual, 12)

	for name, bad := range map[string]NodeData{
		"short positions": {Meta: meta, Positions: make([]byte, 47), Colors: make([]byte, 12)},
		"long colors":     {Meta: meta, Positions: make([]byte, 48), Colors: make([]byte, 13)},
		"bad encoding":    {Meta: NodeMeta{NumPoints: 4, Encoding: 11}, Positions: make([]byte, 48), Colors: make([]byte, 12)},
		"negative count":  {Meta: NodeMeta{NumPoints: -1, Encoding: EncodingUint8}},
		"too many points": {Meta: NodeMeta{NumPoints: MaxNodePoints + 1, Encoding: EncodingFloat64}},
	} {
		t.Run(name, func(t *testing.T) {
			err := bad.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Is(err, ErrInvalidPayload), test.ShouldBeTrue)
		})
	}
}
