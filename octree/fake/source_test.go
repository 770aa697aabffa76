package fake

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/octreeview/octree"
)

func TestSource(t *testing.T) {
	ctx := context.Background()
	a := NewNode(octree.RootID, 5, octree.EncodingFloat32)
	b := NewNode(octree.RootID.Child(3), 2, octree.EncodingUint8)
	test.That(t, a.Validate(), test.ShouldBeNil)
	test.That(t, b.Validate(), test.ShouldBeNil)
	test.That(t, b.Meta.Cube, test.ShouldResemble, UnitCube.Octant(3))

	src := NewSource(a, b)
	got, err := src.Fetch(ctx, a.Meta.ID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, a)

	_, err = src.Fetch(ctx, octree.RootID.Child(7))
	test.That(t, errors.Is(err, octree.ErrNodeNotFound), test.ShouldBeTrue)

	errBoom := errors.New("boom")
	src.FailWith(b.Meta.ID, errBoom)
	_, err = src.Fetch(ctx, b.Meta.ID)
	test.That(t, err, test.ShouldEqual, errBoom)
	src.FailWith(b.Meta.ID, nil)
	_, err = src.Fetch(ctx, b.Meta.ID)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, src.FetchCount(b.Meta.ID), test.ShouldEqual, 2)
	test.That(t, src.TotalFetches(), test.ShouldEqual, 4)

	ids, err := src.NodeIDs(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids, test.ShouldHaveLength, 2)
	test.That(t, ids, test.ShouldContain, a.Meta.ID)
	test.That(t, ids, test.ShouldContain, b.Meta.ID)
}

func TestSourceBlockAndLatency(t *testing.T) {
	a := NewNode(octree.RootID, 1, octree.EncodingUint16)
	src := NewSource(a)

	release := src.Block(a.Meta.ID)
	done := make(chan error, 1)
	go func() {
		_, err := src.Fetch(context.Background(), a.Meta.ID)
		done <- err
	}()
	select {
	case <-done:
		t.Fatal("fetch returned before release")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	release()
	test.That(t, <-done, test.ShouldBeNil)

	src.Block(a.Meta.ID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := src.Fetch(ctx, a.Meta.ID)
	test.That(t, err, test.ShouldBeError, context.DeadlineExceeded)

	src = NewSource(a)
	src.SetLatency(time.Hour)
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = src.Fetch(ctx, a.Meta.ID)
	test.That(t, err, test.ShouldBeError, context.DeadlineExceeded)
}

func TestSourcePanic(t *testing.T) {
	a := NewNode(octree.RootID, 1, octree.EncodingUint16)
	src := NewSource(a)
	src.PanicOn(a.Meta.ID)
	test.That(t, func() { src.Fetch(context.Background(), a.Meta.ID) }, test.ShouldPanic)
}
