package nodecache

import (
	"context"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/octreeview/logging"
	"go.viam.com/octreeview/octree"
)

type loadResult struct {
	id   octree.NodeID
	data octree.NodeData
	err  error
}

// loader fetches requested nodes one at a time on its own goroutine. It only shares the two
// channels with the cache. Both are sized to the in flight limit, and every queued request and
// unconsumed result is in flight, so neither send ever blocks.
type loader struct {
	source   octree.DataSource
	requests chan octree.NodeID
	results  chan loadResult
	workers  *goutils.StoppableWorkers
	logger   logging.Logger
}

func newLoader(source octree.DataSource, capacity int, logger logging.Logger) *loader {
	l := &loader{
		source:   source,
		requests: make(chan octree.NodeID, capacity),
		results:  make(chan loadResult, capacity),
		logger:   logger,
	}
	l.workers = goutils.NewBackgroundStoppableWorkers(l.run)
	return l
}

func (l *loader) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-l.requests:
			if !ok {
				return
			}
			res := l.fetch(ctx, id)
			if ctx.Err() != nil {
				return
			}
			select {
			case l.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// fetch never fails the loader. Errors, invalid payloads and panics in the source all become a
// FetchError for id.
func (l *loader) fetch(ctx context.Context, id octree.NodeID) (res loadResult) {
	res.id = id
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("node source panicked", "node", id, "panic", r)
			res.data = octree.NodeData{}
			res.err = &FetchError{ID: id, Err: errors.Errorf("source panicked: %v", r)}
		}
	}()

	data, err := l.source.Fetch(ctx, id)
	if err == nil {
		err = data.Validate()
	}
	if err == nil && data.Meta.ID != id {
		err = errors.Wrapf(octree.ErrInvalidPayload, "source returned node %s", data.Meta.ID)
	}
	if err != nil {
		res.err = &FetchError{ID: id, Err: err}
		return res
	}
	res.data = data
	return res
}

// enqueue hands id to the loader without blocking.
func (l *loader) enqueue(id octree.NodeID) bool {
	select {
	case l.requests <- id:
		return true
	default:
		return false
	}
}

// poll returns a completed result if one is ready.
func (l *loader) poll() (loadResult, bool) {
	select {
	case res := <-l.results:
		return res, true
	default:
		return loadResult{}, false
	}
}

// close stops accepting requests, cancels the fetch in progress and waits for the loader to exit.
func (l *loader) close() {
	close(l.requests)
	l.workers.Stop()
}
