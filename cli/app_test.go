package cli

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	goutils "go.viam.com/utils"
	"go.viam.com/utils/testutils"

	"go.viam.com/octreeview/logging"
	"go.viam.com/octreeview/nodecache"
	"go.viam.com/octreeview/octree"
	"go.viam.com/octreeview/octree/remote"
	"go.viam.com/octreeview/octree/sqlitestore"
	"go.viam.com/octreeview/pointcloud"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of loggers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// tableRow matches a row of the bench summary table.
func tableRow(metric, value string) *regexp.Regexp {
	return regexp.MustCompile(`\|\s*` + regexp.QuoteMeta(metric) + `\s*\|\s*` + value + `\s*\|`)
}

func writeTestPCD(t *testing.T, dir string) string {
	t.Helper()
	cloud := pointcloud.New()
	for x := 0; x < 12; x++ {
		for y := 0; y < 12; y++ {
			for z := 0; z < 12; z++ {
				c := color.NRGBA{R: uint8(x * 20), G: uint8(y * 20), B: uint8(z * 20), A: 255}
				p := pointcloud.NewVector(float64(x)/10, float64(y)/10, float64(z)/10)
				test.That(t, cloud.Set(p, pointcloud.NewColoredData(c)), test.ShouldBeNil)
			}
		}
	}
	path := filepath.Join(dir, "cloud.pcd")
	f, err := os.Create(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pointcloud.ToPCD(cloud, f, pointcloud.PCDBinary), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)
	return path
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &syncBuffer{}, &syncBuffer{}
	err := NewApp(out, errOut).Run(append([]string{"octreeview"}, args...))
	return out.String(), errOut.String(), err
}

func importTestCloud(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "cloud.db")
	out, _, err := runApp(t, "import", "--pcd", writeTestPCD(t, dir), "--out", db, "--max-points", "100")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "imported 1728 points")
	return db
}

func TestImportAction(t *testing.T) {
	db := importTestCloud(t)

	store, err := sqlitestore.Open(context.Background(), db, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, store.Close(), test.ShouldBeNil)
	}()
	ids, err := store.NodeIDs(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(ids), test.ShouldBeGreaterThan, 8)
	test.That(t, ids[0], test.ShouldResemble, octree.RootID)

	root, err := store.Fetch(context.Background(), octree.RootID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, root.Meta.NumPoints, test.ShouldEqual, 100)
	test.That(t, root.Meta.Cube.EdgeLength, test.ShouldAlmostEqual, 1.1, 1e-6)

	t.Run("forced encoding", func(t *testing.T) {
		dir := t.TempDir()
		out, _, err := runApp(t, "import", "--pcd", writeTestPCD(t, dir), "--out", filepath.Join(dir, "f.db"),
			"--encoding", "float64")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "imported 1728 points")
	})

	t.Run("bad input", func(t *testing.T) {
		dir := t.TempDir()
		_, _, err := runApp(t, "import", "--pcd", filepath.Join(dir, "missing.pcd"), "--out", filepath.Join(dir, "x.db"))
		test.That(t, err, test.ShouldNotBeNil)

		_, _, err = runApp(t, "import", "--pcd", writeTestPCD(t, dir), "--out", filepath.Join(dir, "x.db"),
			"--encoding", "int4")
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestBenchAction(t *testing.T) {
	db := importTestCloud(t)

	t.Run("local database", func(t *testing.T) {
		out, _, err := runApp(t, "bench", "--db", db, "--frames", "20", "--interval", "1ms", "--max-bytes", "4KiB")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "20 frames in")
		test.That(t, tableRow("failed", "0").MatchString(out), test.ShouldBeTrue)
		test.That(t, tableRow("frame time p95", `[0-9.]+ms`).MatchString(out), test.ShouldBeTrue)
	})

	t.Run("config file", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "config.yaml")
		cfg := fmt.Sprintf("log_level: warn\nstats_interval: 1ms\ncache:\n  eviction: count\n  max_nodes: 3\n  seed: 7\n"+
			"source:\n  type: sqlite\n  path: %s\n", db)
		test.That(t, os.WriteFile(cfgPath, []byte(cfg), 0o600), test.ShouldBeNil)

		out, _, err := runApp(t, "bench", "--config", cfgPath, "--frames", "10", "--interval", "1ms")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "10 frames in")
		test.That(t, tableRow("resident nodes", "[0-3]").MatchString(out), test.ShouldBeTrue)
	})

	t.Run("remote server", func(t *testing.T) {
		store, err := sqlitestore.Open(context.Background(), db, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		defer func() {
			test.That(t, store.Close(), test.ShouldBeNil)
		}()
		srv := httptest.NewServer(remote.NewServer(store, logging.NewTestLogger(t)))
		defer srv.Close()

		url := "ws" + strings.TrimPrefix(srv.URL, "http") + remote.Path
		out, _, err := runApp(t, "bench", "--url", url, "--frames", "5", "--interval", "1ms")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "5 frames in")
	})

	t.Run("missing source", func(t *testing.T) {
		_, _, err := runApp(t, "bench")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "--db")
	})
}

func TestBenchTable(t *testing.T) {
	out := benchTable(nodecache.Stats{Loaded: 12, FetchFailures: 2, Resident: 7, UsedBytes: 2000}, []float64{1, 2, 3, 4, 10})
	test.That(t, tableRow("loaded", "12").MatchString(out), test.ShouldBeTrue)
	test.That(t, tableRow("failed", "2").MatchString(out), test.ShouldBeTrue)
	test.That(t, tableRow("resident nodes", "7").MatchString(out), test.ShouldBeTrue)
	test.That(t, tableRow("resident bytes", "2kB").MatchString(out), test.ShouldBeTrue)
	test.That(t, tableRow("frame time p50", `3\.000ms`).MatchString(out), test.ShouldBeTrue)

	// An empty run still renders.
	out = benchTable(nodecache.Stats{}, nil)
	test.That(t, tableRow("frame time p95", `0\.000ms`).MatchString(out), test.ShouldBeTrue)

	var buf bytes.Buffer
	warningf(&buf, "%d nodes failed to load", 2)
	test.That(t, buf.String(), test.ShouldContainSubstring, "Warning: ")
	test.That(t, buf.String(), test.ShouldContainSubstring, "2 nodes failed to load")
}

func TestServeAction(t *testing.T) {
	db := importTestCloud(t)
	port, err := goutils.TryReserveRandomPort()
	test.That(t, err, test.ShouldBeNil)
	addr := fmt.Sprintf("localhost:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, errOut := &syncBuffer{}, &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- NewApp(out, errOut).RunContext(ctx, []string{"octreeview", "serve", "--db", db, "--addr", addr})
	}()

	var client *remote.Client
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		var err error
		client, err = remote.Dial(ctx, "ws://"+addr+remote.Path, logging.NewTestLogger(t))
		test.That(tb, err, test.ShouldBeNil)
	})
	root, err := client.Fetch(ctx, octree.RootID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, root.Meta.NumPoints, test.ShouldEqual, 100)
	test.That(t, client.Close(), test.ShouldBeNil)

	cancel()
	test.That(t, <-done, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "serving")
}

func TestViewer(t *testing.T) {
	root := octree.BoundingCube{EdgeLength: 8}
	ids := []octree.NodeID{
		octree.RootID.Child(7).Child(7),
		octree.RootID,
		octree.RootID.Child(0).Child(0),
		octree.RootID.Child(7),
	}
	v := newViewer(root, ids)

	atStart := v.desired(0)
	test.That(t, atStart[0].id, test.ShouldResemble, octree.RootID)
	test.That(t, atStart[0].lod, test.ShouldEqual, 1)
	startIDs := make([]octree.NodeID, 0, len(atStart))
	for _, d := range atStart {
		startIDs = append(startIDs, d.id)
	}
	test.That(t, startIDs, test.ShouldContain, octree.RootID.Child(0).Child(0))
	test.That(t, startIDs, test.ShouldNotContain, octree.RootID.Child(7).Child(7))
	test.That(t, startIDs, test.ShouldContain, octree.RootID.Child(7))

	atEnd := v.desired(1)
	endIDs := make([]octree.NodeID, 0, len(atEnd))
	for _, d := range atEnd {
		endIDs = append(endIDs, d.id)
	}
	test.That(t, endIDs, test.ShouldContain, octree.RootID.Child(7).Child(7))
	test.That(t, endIDs, test.ShouldNotContain, octree.RootID.Child(0).Child(0))

	test.That(t, distanceToCube(r3.Vector{}, root), test.ShouldEqual, 0)
	test.That(t, distanceToCube(r3.Vector{X: -3, Y: -4}, root), test.ShouldAlmostEqual, 5)
}
