package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalStorage_SweepOrphanedChunks(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	payload := make([]byte, 12*1024*1024)
	_, err = rand.Read(payload)
	require.NoError(t, err)

	other := make([]byte, 12*1024*1024)
	_, err = rand.Read(other)
	require.NoError(t, err)

	kept, err := s.WriteIncremental(ctx, "db", "db/incremental/kept", bytes.NewReader(payload))
	require.NoError(t, err)
	dropped, err := s.WriteIncremental(ctx, "db", "db/incremental/dropped", bytes.NewReader(other))
	require.NoError(t, err)

	t.Run("all chunks referenced", func(t *testing.T) {
		removed, reclaimed, err := s.SweepOrphanedChunks(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.Zero(t, reclaimed)
	})

	t.Run("reclaims chunks after manifest delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, dropped.Location))

		removed, reclaimed, err := s.SweepOrphanedChunks(ctx)
		require.NoError(t, err)
		assert.Positive(t, removed)
		assert.Positive(t, reclaimed)

		// The surviving backup must still be readable
		rc, err := s.Read(ctx, kept.Location)
		require.NoError(t, err)
		defer func() { _ = rc.Close() }()

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("second sweep is a no-op", func(t *testing.T) {
		removed, _, err := s.SweepOrphanedChunks(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}
