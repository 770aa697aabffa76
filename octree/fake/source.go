// Package fake implements an in-memory octree DataSource with injectable latency, blocking and
// failures.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"go.viam.com/octreeview/octree"
)

// Source is an in-memory octree.DataSource and octree.Lister.
type Source struct {
	mu       sync.Mutex
	nodes    map[octree.NodeID]octree.NodeData
	failures map[octree.NodeID]error
	panics   map[octree.NodeID]bool
	gates    map[octree.NodeID]chan struct{}
	fetches  map[octree.NodeID]int
	latency  time.Duration
}

// NewSource returns a Source holding the given nodes.
func NewSource(nodes ...octree.NodeData) *Source {
	s := &Source{
		nodes:    map[octree.NodeID]octree.NodeData{},
		failures: map[octree.NodeID]error{},
		panics:   map[octree.NodeID]bool{},
		gates:    map[octree.NodeID]chan struct{}{},
		fetches:  map[octree.NodeID]int{},
	}
	for _, n := range nodes {
		s.Add(n)
	}
	return s
}

// Add stores or replaces a node.
func (s *Source) Add(d octree.NodeData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[d.Meta.ID] = d
}

// FailWith makes every fetch of id fail with err until cleared with a nil err.
func (s *Source) FailWith(id octree.NodeID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, id)
		return
	}
	s.failures[id] = err
}

// PanicOn makes fetches of id panic.
func (s *Source) PanicOn(id octree.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panics[id] = true
}

// SetLatency delays every fetch by d.
func (s *Source) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Block holds fetches of id until the returned release function is called or the fetch's context
// is done. Release may be called more than once.
func (s *Source) Block(id octree.NodeID) (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gates[id] = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[id] == gate {
				delete(s.gates, id)
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// FetchCount returns how many times id was fetched.
func (s *Source) FetchCount(id octree.NodeID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[id]
}

// TotalFetches returns how many fetches were made for any id.
func (s *Source) TotalFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.fetches {
		total += n
	}
	return total
}

// Fetch returns the stored node after applying any injected latency, gate or failure.
func (s *Source) Fetch(ctx context.Context, id octree.NodeID) (octree.NodeData, error) {
	s.mu.Lock()
	s.fetches[id]++
	latency := s.latency
	gate := s.gates[id]
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return octree.NodeData{}, ctx.Err()
		case <-timer.C:
		}
	}
	if gate != nil {
		select {
		case <-ctx.Done():
			return octree.NodeData{}, ctx.Err()
		case <-gate:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics[id] {
		panic(errors.Errorf("fake source panic fetching %s", id))
	}
	if err := s.failures[id]; err != nil {
		return octree.NodeData{}, err
	}
	d, ok := s.nodes[id]
	if !ok {
		return octree.NodeData{}, errors.Wrapf(octree.ErrNodeNotFound, "node %s", id)
	}
	return d, nil
}

// NodeIDs returns the stored node ids in no particular order.
func (s *Source) NodeIDs(ctx context.Context) ([]octree.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Keys(s.nodes), nil
}
