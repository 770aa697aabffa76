package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/docker/go-units"
	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"go.viam.com/octreeview/config"
	"go.viam.com/octreeview/logging"
	"go.viam.com/octreeview/nodecache"
	"go.viam.com/octreeview/octree"
)

// benchConfig merges the config file, if any, with the command line flags.
func benchConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.Path(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, err
		}
	}
	switch {
	case c.Path(flagDB) != "":
		cfg.Source = config.SourceConfig{Type: config.SourceTypeSQLite, Path: c.Path(flagDB)}
	case c.String(flagURL) != "":
		cfg.Source = config.SourceConfig{Type: config.SourceTypeRemote, URL: c.String(flagURL)}
	case cfg.Source.Type == "":
		return nil, errors.Errorf("one of --%s, --%s or --%s is required", flagConfig, flagDB, flagURL)
	}
	if maxBytes := c.String(flagMaxBytes); maxBytes != "" {
		cfg.Cache.MaxBytes = maxBytes
	}
	return cfg, cfg.Ensure()
}

// BenchAction is the corresponding action for 'bench'.
func BenchAction(c *cli.Context) (err error) {
	cfg, err := benchConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c, "bench")
	if cfg.LogLevel != "" && !c.Bool(flagDebug) {
		logger.SetLevel(cfg.Level())
	}
	if err := logging.UpdateConfig(cfg.LogConfig, logger); err != nil {
		return err
	}
	opts, err := cfg.Cache.Options()
	if err != nil {
		return err
	}

	source, err := openSource(c.Context, cfg.Source, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, source.Close())
	}()
	ids, err := source.NodeIDs(c.Context)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("source holds no nodes")
	}

	cache, err := nodecache.New(source, nodecache.HostViewBuilder{}, opts, logger.Sublogger("nodecache"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, cache.Close())
	}()
	if interval, _ := cfg.StatsIntervalDuration(); interval > 0 {
		reporter := nodecache.NewStatsReporter(cache, interval, clock.New(), logger.Sublogger("stats"))
		defer reporter.Close()
	}

	rootView, err := cache.Await(c.Context, octree.RootID)
	if err != nil {
		return errors.Wrap(err, "loading root node")
	}
	v := newViewer(rootView.Meta().Cube, ids)
	renderer := &countingRenderer{}
	frames := c.Int(flagFrames)
	limiter := rate.NewLimiter(rate.Every(c.Duration(flagInterval)), 1)
	frameTimes := make([]float64, 0, frames)

	start := time.Now()
	for frame := 0; frame < frames; frame++ {
		if err := limiter.Wait(c.Context); err != nil {
			return err
		}
		frameStart := time.Now()
		if _, err := cache.DrainCompleted(); err != nil {
			logger.Debugw("some nodes failed to load", "error", err)
		}
		desired := v.desired(float64(frame) / float64(max(frames-1, 1)))
		views, pending := cache.Resolve(lo.Map(desired, func(d desiredNode, _ int) octree.NodeID { return d.id }))
		lods := lo.SliceToMap(desired, func(d desiredNode) (octree.NodeID, int) { return d.id, d.lod })
		for _, view := range views {
			renderer.Draw(view, lods[view.Meta().ID], 1, 1)
		}
		frameTimes = append(frameTimes, float64(time.Since(frameStart).Microseconds())/1000)
		logger.Debugw("frame", "frame", frame, "desired", len(desired), "drawn", len(views), "pending", pending)
	}

	printf(c.App.Writer, "%d frames in %s, %d points drawn",
		frames, time.Since(start).Round(time.Millisecond), renderer.points)
	cacheStats := cache.Stats()
	printf(c.App.Writer, "%s", benchTable(cacheStats, frameTimes))
	if cacheStats.FetchFailures > 0 {
		warningf(c.App.ErrWriter, "%d nodes failed to load", cacheStats.FetchFailures)
	}
	return nil
}

// benchTable renders the frame time percentiles and cache counters of a run.
func benchTable(cacheStats nodecache.Stats, frameTimes []float64) string {
	// Both only fail on an empty run.
	median, _ := stats.Median(frameTimes)
	p95, _ := stats.Percentile(frameTimes, 95)

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"frame time p50", fmt.Sprintf("%.3fms", median)},
		{"frame time p95", fmt.Sprintf("%.3fms", p95)},
		{"hit rate", fmt.Sprintf("%.1f%%", 100*cacheStats.HitRate())},
		{"loaded", cacheStats.Loaded},
		{"failed", cacheStats.FetchFailures},
		{"evicted", cacheStats.Evictions},
		{"throttled", cacheStats.Throttled},
		{"resident nodes", cacheStats.Resident},
		{"resident bytes", units.HumanSize(float64(cacheStats.UsedBytes))},
	})
	return t.Render()
}

type desiredNode struct {
	id  octree.NodeID
	lod int
}

// viewer simulates a camera flying along the diagonal of the root cube. Nodes near the focus are
// wanted at full detail and farther ones at coarser levels of detail.
type viewer struct {
	root  octree.BoundingCube
	nodes []octree.NodeID
}

func newViewer(root octree.BoundingCube, ids []octree.NodeID) *viewer {
	nodes := slices.Clone(ids)
	// Coarse levels first so the most useful nodes win the in flight slots.
	slices.SortStableFunc(nodes, func(a, b octree.NodeID) int { return int(a.Level) - int(b.Level) })
	return &viewer{root: root, nodes: nodes}
}

// desired returns the nodes to draw at position t in [0, 1] along the path.
func (v *viewer) desired(t float64) []desiredNode {
	focus := v.root.Min.Add(v.root.Max().Sub(v.root.Min).Mul(t))
	radius := v.root.EdgeLength / 4
	return lo.FilterMap(v.nodes, func(id octree.NodeID, _ int) (desiredNode, bool) {
		cube := octree.CubeForNode(v.root, id)
		dist := distanceToCube(focus, cube)
		if id.Level > 1 && dist > radius {
			return desiredNode{}, false
		}
		return desiredNode{id: id, lod: 1 + int(4*dist/v.root.EdgeLength)}, true
	})
}

func distanceToCube(p r3.Vector, cube octree.BoundingCube) float64 {
	minV, maxV := cube.Min, cube.Max()
	clamped := r3.Vector{
		X: min(max(p.X, minV.X), maxV.X),
		Y: min(max(p.Y, minV.Y), maxV.Y),
		Z: min(max(p.Z, minV.Z), maxV.Z),
	}
	return p.Sub(clamped).Norm()
}

// countingRenderer stands in for a graphics backend and only counts what it would draw.
type countingRenderer struct {
	points int64
}

func (r *countingRenderer) Draw(view nodecache.View, levelOfDetail int, pointSize, gamma float32) int64 {
	n := view.Meta().NumPointsForLevelOfDetail(levelOfDetail)
	r.points += n
	return n
}

var _ nodecache.Renderer = (*countingRenderer)(nil)
