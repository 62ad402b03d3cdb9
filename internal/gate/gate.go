// Package gate bounds concurrent execution on the synchronous admission path.
package gate

import "golang.org/x/sync/semaphore"

// Gate is a non-blocking concurrency ceiling. Acquire fails immediately when
// all permits are held; synchronous callers are never made to wait for a slot.
type Gate struct {
	sem   *semaphore.Weighted
	limit int
}

// New creates a gate with the given permit count. A limit below 1 defaults to 1.
func New(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Acquire takes a permit if one is free. It never blocks.
func (g *Gate) Acquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns a permit. Callers must release on every exit path.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Limit returns the configured permit count.
func (g *Gate) Limit() int {
	return g.limit
}
