package dr

import "sync"

// planLocks serializes workflow execution per plan id. Two concurrent
// failovers (or a failover and a recovery) against the same plan must
// not interleave; different plans run independently.
type planLocks struct {
	mu     sync.Mutex
	active map[string]bool
}

func newPlanLocks() *planLocks {
	return &planLocks{active: make(map[string]bool)}
}

// tryAcquire takes the execution token for a plan. Returns false if an
// execution is already in flight.
func (pl *planLocks) tryAcquire(planID string) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.active[planID] {
		return false
	}
	pl.active[planID] = true
	return true
}

func (pl *planLocks) release(planID string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	delete(pl.active, planID)
}
