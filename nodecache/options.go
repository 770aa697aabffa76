package nodecache

import (
	"math/rand/v2"
	"strings"

	"github.com/pkg/errors"
)

// EvictionPolicy selects how the cache bounds its resident views.
type EvictionPolicy int

const (
	// EvictByBytes evicts least recently used views until the resident views occupy at most
	// MaxBytes. The view that was just inserted is never evicted, even if it alone exceeds the
	// budget.
	EvictByBytes EvictionPolicy = iota
	// EvictByCount keeps at most MaxNodes views. Node sizes vary with point count and encoding, so
	// this only approximates a memory budget.
	EvictByCount
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictByBytes:
		return "bytes"
	case EvictByCount:
		return "count"
	default:
		return "unknown"
	}
}

// ParseEvictionPolicy parses "bytes" or "count". The empty string selects EvictByBytes.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch strings.ToLower(s) {
	case "", "bytes":
		return EvictByBytes, nil
	case "count":
		return EvictByCount, nil
	default:
		return 0, errors.Errorf("unknown eviction policy %q", s)
	}
}

const (
	// DefaultMaxInFlight is the default bound on admitted but unconsumed requests.
	DefaultMaxInFlight = 10
	// DefaultMaxBytes is the default resident budget under EvictByBytes.
	DefaultMaxBytes int64 = 512 << 20
)

// Options configure a Cache. The zero value is usable and means a 512MiB byte budget with at most
// 10 requests in flight.
type Options struct {
	Eviction EvictionPolicy
	// MaxBytes is the resident budget under EvictByBytes; zero means DefaultMaxBytes.
	MaxBytes int64
	// MaxNodes is the entry bound under EvictByCount and is required there.
	MaxNodes int
	// MaxInFlight caps admitted requests whose results were not consumed yet; zero means
	// DefaultMaxInFlight.
	MaxInFlight int
	// Rand orders the points of each materialized node. Nil means a randomly seeded source.
	Rand *rand.Rand
}

// Validate checks the options after defaults are applied.
func (o Options) Validate() error {
	o = o.withDefaults()
	if o.MaxInFlight < 0 {
		return errors.Errorf("max in flight must be positive, got %d", o.MaxInFlight)
	}
	switch o.Eviction {
	case EvictByBytes:
		if o.MaxBytes < 0 {
			return errors.Errorf("max bytes must be positive, got %d", o.MaxBytes)
		}
	case EvictByCount:
		if o.MaxNodes <= 0 {
			return errors.Errorf("max nodes must be positive when evicting by count, got %d", o.MaxNodes)
		}
	default:
		return errors.Errorf("unknown eviction policy %d", o.Eviction)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.MaxInFlight == 0 {
		o.MaxInFlight = DefaultMaxInFlight
	}
	if o.Eviction == EvictByBytes && o.MaxBytes == 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return o
}

// NewSeededRand returns a deterministic source for Options.Rand.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}
