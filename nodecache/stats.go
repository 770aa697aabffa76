package nodecache

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/docker/go-units"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/octreeview/logging"
)

type statsCounters struct {
	hits          atomic.Int64
	misses        atomic.Int64
	admitted      atomic.Int64
	throttled     atomic.Int64
	loaded        atomic.Int64
	fetchFailures atomic.Int64
	evictions     atomic.Int64
	resident      atomic.Int64
	inFlight      atomic.Int64
	usedBytes     atomic.Int64
}

// Stats is a snapshot of a cache's counters. Hits through Evictions only grow; Resident, InFlight
// and UsedBytes describe the current state.
type Stats struct {
	Hits          int64
	Misses        int64
	Admitted      int64
	Throttled     int64
	Loaded        int64
	FetchFailures int64
	Evictions     int64
	Resident      int64
	InFlight      int64
	UsedBytes     int64
}

// Stats returns a snapshot of the counters. Unlike the rest of the Cache it may be called from any
// goroutine.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.stats.hits.Load(),
		Misses:        c.stats.misses.Load(),
		Admitted:      c.stats.admitted.Load(),
		Throttled:     c.stats.throttled.Load(),
		Loaded:        c.stats.loaded.Load(),
		FetchFailures: c.stats.fetchFailures.Load(),
		Evictions:     c.stats.evictions.Load(),
		Resident:      c.stats.resident.Load(),
		InFlight:      c.stats.inFlight.Load(),
		UsedBytes:     c.stats.usedBytes.Load(),
	}
}

// HitRate is the share of GetOrRequest calls that found a resident view.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// A StatsSource is anything reporting cache stats, normally a *Cache.
type StatsSource interface {
	Stats() Stats
}

// StatsReporter periodically logs a summary of a StatsSource.
type StatsReporter struct {
	workers *goutils.StoppableWorkers
}

// NewStatsReporter starts logging a summary of src every interval, measured on clk.
func NewStatsReporter(src StatsSource, interval time.Duration, clk clock.Clock, logger logging.Logger) *StatsReporter {
	ticker := clk.Ticker(interval)
	return &StatsReporter{workers: goutils.NewBackgroundStoppableWorkers(func(ctx context.Context) {
		defer ticker.Stop()
		oldState := src.Stats()
		for {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				newState := src.Stats()
				for _, line := range summary(oldState, newState, interval) {
					logger.Info(line)
				}
				oldState = newState
			}
		}
	})}
}

// Close stops the reporter.
func (r *StatsReporter) Close() {
	r.workers.Stop()
}

func perSecond(v int64, interval time.Duration) float64 {
	return float64(v) / interval.Seconds()
}

func summary(oldState, newState Stats, interval time.Duration) []string {
	return []string{
		fmt.Sprintf("resident nodes: %d, used: %s, in flight: %d",
			newState.Resident, units.HumanSize(float64(newState.UsedBytes)), newState.InFlight),
		fmt.Sprintf("loaded: %d, rate: %.2f/sec, failed: %d, evicted: %d",
			newState.Loaded, perSecond(newState.Loaded-oldState.Loaded, interval),
			newState.FetchFailures, newState.Evictions),
		fmt.Sprintf("hit rate: %.1f%%, requests admitted: %d, throttled: %d",
			100*newState.HitRate(), newState.Admitted, newState.Throttled),
	}
}
