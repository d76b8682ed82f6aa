package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/HarborGuard/continuity/internal/dr"
)

// MemoryStore is an in-memory PlanStore for tests and single-node
// development
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*dr.RecoveryPlan
}

// NewMemoryStore creates an empty in-memory plan store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]*dr.RecoveryPlan)}
}

// Save stores or replaces a plan
func (m *MemoryStore) Save(_ context.Context, plan *dr.RecoveryPlan) error {
	if plan == nil || plan.ID == "" {
		return fmt.Errorf("plan with id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan
	return nil
}

// LoadAll returns every stored plan
func (m *MemoryStore) LoadAll(_ context.Context) ([]*dr.RecoveryPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plans := make([]*dr.RecoveryPlan, 0, len(m.plans))
	for _, p := range m.plans {
		plans = append(plans, p)
	}
	return plans, nil
}

// Delete removes a plan by id
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plans, id)
	return nil
}
