package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HarborGuard/continuity/internal/dr"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	plan := &dr.RecoveryPlan{ID: "p1", Name: "db-failover"}
	require.NoError(t, s.Save(ctx, plan))

	t.Run("load all", func(t *testing.T) {
		plans, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.Equal(t, "db-failover", plans[0].Name)
	})

	t.Run("save overwrites", func(t *testing.T) {
		updated := &dr.RecoveryPlan{ID: "p1", Name: "renamed"}
		require.NoError(t, s.Save(ctx, updated))

		plans, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.Equal(t, "renamed", plans[0].Name)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "p1"))
		plans, err := s.LoadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, plans)
	})

	t.Run("delete missing is a no-op", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "ghost"))
	})
}
