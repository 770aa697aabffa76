// Package nodecache keeps the octree nodes a viewer needs resident without ever blocking the render
// loop. Missing nodes are fetched by a single background loader, the number of outstanding fetches
// is capped, and resident views are bounded by a least recently used eviction policy.
package nodecache

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/octreeview/logging"
	"go.viam.com/octreeview/octree"
)

const awaitPollInterval = time.Millisecond

// Admission is the outcome of requesting a node.
type Admission int

const (
	// AdmissionResident means the node is already resident and nothing was requested.
	AdmissionResident Admission = iota
	// AdmissionInFlight means the node was already requested and its result is not consumed yet.
	AdmissionInFlight
	// AdmissionQueued means the node was handed to the loader.
	AdmissionQueued
	// AdmissionThrottled means the in flight limit was reached. The request was dropped and may be
	// repeated later.
	AdmissionThrottled
	// AdmissionClosed means the cache is closed.
	AdmissionClosed
)

func (a Admission) String() string {
	switch a {
	case AdmissionResident:
		return "resident"
	case AdmissionInFlight:
		return "in flight"
	case AdmissionQueued:
		return "queued"
	case AdmissionThrottled:
		return "throttled"
	case AdmissionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Cache maps node ids to resident views and streams missing nodes in from a DataSource.
//
// A Cache is owned by one goroutine, normally the render loop, and none of its methods block
// except Close. Only Stats may be called from other goroutines.
type Cache struct {
	logger  logging.Logger
	opts    Options
	builder ViewBuilder
	rng     *rand.Rand

	loader  *loader
	tracker *requestTracker
	lru     *simplelru.LRU[octree.NodeID, View]

	// errors from releasing evicted views, reported by the next DrainCompleted or Close.
	releaseErr error
	closed     bool

	stats statsCounters
}

// New starts a cache and its loader. A nil builder means HostViewBuilder.
func New(source octree.DataSource, builder ViewBuilder, opts Options, logger logging.Logger) (*Cache, error) {
	if source == nil {
		return nil, errors.New("node cache requires a data source")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	if builder == nil {
		builder = HostViewBuilder{}
	}

	c := &Cache{
		logger:  logger,
		opts:    opts,
		builder: builder,
		rng:     opts.Rand,
		tracker: newRequestTracker(opts.MaxInFlight),
	}
	size := math.MaxInt32
	if opts.Eviction == EvictByCount {
		size = opts.MaxNodes
	}
	lru, err := simplelru.NewLRU[octree.NodeID, View](size, c.onEvict)
	if err != nil {
		return nil, errors.Wrap(err, "creating node lru")
	}
	c.lru = lru
	c.loader = newLoader(source, opts.MaxInFlight, logger)
	logger.Debugw("node cache started", "eviction", opts.Eviction, "max_bytes", opts.MaxBytes,
		"max_nodes", opts.MaxNodes, "max_in_flight", opts.MaxInFlight)
	return c, nil
}

// onEvict runs for every view leaving the lru, whether evicted, replaced or purged on Close.
func (c *Cache) onEvict(id octree.NodeID, v View) {
	c.stats.usedBytes.Sub(v.OccupiedBytes())
	if err := v.Release(); err != nil {
		c.releaseErr = multierr.Append(c.releaseErr, errors.Wrapf(err, "releasing node %s", id))
	}
}

// DrainCompleted consumes every result the loader has ready without waiting for more. Loaded nodes
// are materialized and inserted, evicting as the policy requires. It reports whether any view was
// inserted, and returns the failures of this call combined; each is a *FetchError and its node may
// be requested again.
func (c *Cache) DrainCompleted() (bool, error) {
	if c.closed {
		return false, nil
	}
	inserted := false
	var errs error
	for {
		res, ok := c.loader.poll()
		if !ok {
			break
		}
		c.tracker.remove(res.id)
		if res.err == nil {
			var data octree.NodeData
			data, res.err = Materialize(res.data, c.rng)
			if res.err == nil {
				c.insert(res.id, c.builder.BuildView(data))
				inserted = true
				continue
			}
			res.err = &FetchError{ID: res.id, Err: res.err}
		}
		c.stats.fetchFailures.Inc()
		c.logger.Warnw("failed to load node", "node", res.id, "error", res.err)
		errs = multierr.Append(errs, res.err)
	}
	c.syncGauges()
	errs = multierr.Append(errs, c.releaseErr)
	c.releaseErr = nil
	return inserted, errs
}

func (c *Cache) insert(id octree.NodeID, v View) {
	if c.lru.Contains(id) {
		c.lru.Remove(id)
	}
	c.stats.usedBytes.Add(v.OccupiedBytes())
	c.stats.loaded.Inc()
	if evicted := c.lru.Add(id, v); evicted {
		c.stats.evictions.Inc()
	}
	c.logger.Debugw("node resident", "node", id, "bytes", v.OccupiedBytes())

	if c.opts.Eviction != EvictByBytes {
		return
	}
	// The entry just added is the newest, so it survives while anything older remains.
	for c.stats.usedBytes.Load() > c.opts.MaxBytes && c.lru.Len() > 1 {
		if oldest, _, ok := c.lru.RemoveOldest(); ok {
			c.stats.evictions.Inc()
			c.logger.Debugw("evicted node", "node", oldest)
		}
	}
}

// GetOrRequest returns the resident view for id and marks it most recently used. Otherwise it
// requests id and returns false.
func (c *Cache) GetOrRequest(id octree.NodeID) (View, bool) {
	if c.closed {
		return nil, false
	}
	if v, ok := c.lru.Get(id); ok {
		c.stats.hits.Inc()
		return v, true
	}
	c.stats.misses.Inc()
	c.Request(id)
	return nil, false
}

// Request admits id for loading unless it is resident, already in flight, or the in flight limit is
// reached. It never changes recency.
func (c *Cache) Request(id octree.NodeID) Admission {
	switch {
	case c.closed:
		return AdmissionClosed
	case c.lru.Contains(id):
		return AdmissionResident
	case c.tracker.contains(id):
		return AdmissionInFlight
	case c.tracker.full() || !c.loader.enqueue(id):
		c.stats.throttled.Inc()
		return AdmissionThrottled
	}
	c.tracker.add(id)
	c.stats.admitted.Inc()
	c.syncGauges()
	c.logger.Debugw("requested node", "node", id, "in_flight", c.tracker.len())
	return AdmissionQueued
}

// RequestAll requests every id, e.g. to prefetch a known working set, and returns how many were
// newly queued.
func (c *Cache) RequestAll(ids []octree.NodeID) int {
	queued := 0
	for _, id := range ids {
		if c.Request(id) == AdmissionQueued {
			queued++
		}
	}
	return queued
}

// Resolve calls GetOrRequest for each id and returns the resident views in input order along with
// how many ids are not resident yet.
func (c *Cache) Resolve(ids []octree.NodeID) ([]View, int) {
	views := make([]View, 0, len(ids))
	pending := 0
	for _, id := range ids {
		if v, ok := c.GetOrRequest(id); ok {
			views = append(views, v)
		} else {
			pending++
		}
	}
	return views, pending
}

// Await blocks until id is resident and returns its view, draining completed loads while it waits.
// It is meant for tools and tests, never for a render loop. A failed load of id is returned as its
// *FetchError. Other errors seen while waiting are only logged.
func (c *Cache) Await(ctx context.Context, id octree.NodeID) (View, error) {
	for {
		if c.closed {
			return nil, ErrClosed
		}
		if v, ok := c.GetOrRequest(id); ok {
			return v, nil
		}
		if _, err := c.DrainCompleted(); err != nil {
			var own *FetchError
			var others []error
			for _, e := range multierr.Errors(err) {
				var fetchErr *FetchError
				switch {
				case errors.As(e, &fetchErr) && fetchErr.ID == id:
					own = fetchErr
				case errors.As(e, &fetchErr):
					// DrainCompleted already logged it.
				default:
					others = append(others, e)
				}
			}
			if len(others) > 0 {
				c.logger.Warnw("errors while awaiting node", "node", id, "error", multierr.Combine(others...))
			}
			if own != nil {
				return nil, own
			}
		}
		if c.IsResident(id) {
			continue
		}
		if !goutils.SelectContextOrWait(ctx, awaitPollInterval) {
			return nil, ctx.Err()
		}
	}
}

// UsedBytes is the total OccupiedBytes of the resident views.
func (c *Cache) UsedBytes() int64 {
	return c.stats.usedBytes.Load()
}

// Len is the number of resident views.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// InFlight is the number of requested nodes whose results were not consumed yet.
func (c *Cache) InFlight() int {
	return c.tracker.len()
}

// IsResident reports whether id is resident without changing its recency.
func (c *Cache) IsResident(id octree.NodeID) bool {
	return c.lru.Contains(id)
}

// IsInFlight reports whether id was requested and its result not consumed yet.
func (c *Cache) IsInFlight(id octree.NodeID) bool {
	return c.tracker.contains(id)
}

// ResidentIDs lists the resident nodes from least to most recently used.
func (c *Cache) ResidentIDs() []octree.NodeID {
	return c.lru.Keys()
}

// Close stops the loader, abandoning any fetch in progress, and releases every resident view.
// Later calls do nothing.
func (c *Cache) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.loader.close()
	c.tracker.clear()
	c.lru.Purge()
	c.syncGauges()
	err := c.releaseErr
	c.releaseErr = nil
	c.logger.Debug("node cache closed")
	return err
}

func (c *Cache) syncGauges() {
	c.stats.resident.Store(int64(c.lru.Len()))
	c.stats.inFlight.Store(int64(c.tracker.len()))
}
