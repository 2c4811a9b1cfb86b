package engine

import (
	"github.com/dgraph-io/ristretto/v2"

	"github.com/hailam/kalahsolve/internal/storage"
)

// successorCache fronts repeated store.Get lookups during retrograde
// evaluation: every non-terminal position re-reads every one of its
// successors' records, and the same child is read by every parent that
// can reach it, so a hit-rate-aware cache meaningfully cuts Badger lookups
// on the hot path. Ristretto is already an indirect dependency of Badger
// itself (it backs Badger's internal block cache); this promotes it to a
// second, explicit use at the solver's own record layer.
type successorCache struct {
	cache *ristretto.Cache[uint64, storage.Record]
}

// newSuccessorCache builds a cache sized to maxCostBytes, using each
// record's packed-state length as an approximation of its cost.
func newSuccessorCache(maxCostBytes int64) (*successorCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[uint64, storage.Record]{
		NumCounters: maxCostBytes / 8, // ~1 counter per 8 bytes of budget
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &successorCache{cache: c}, nil
}

func (c *successorCache) Get(fp uint64) (storage.Record, bool) {
	if c == nil {
		return storage.Record{}, false
	}
	return c.cache.Get(fp)
}

func (c *successorCache) Set(fp uint64, rec storage.Record) {
	if c == nil {
		return
	}
	cost := int64(len(rec.PackedState)) + 32
	c.cache.Set(fp, rec, cost)
}

// Invalidate drops a cached record. The retrograde evaluator does not call
// it: getRecord caches only solved records, and solvePass stores each newly
// solved record with Set.
func (c *successorCache) Invalidate(fp uint64) {
	if c == nil {
		return
	}
	c.cache.Del(fp)
}

func (c *successorCache) Close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
