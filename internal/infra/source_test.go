package infra

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileSource_Open(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(base, "dump.sql"), []byte("select 1"), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(base, "config"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(base, "config", "app.yaml"), []byte("port: 8080"), 0600))

	fs := NewFileSource(base, zap.NewNop())

	t.Run("single file", func(t *testing.T) {
		rc, err := fs.Open(ctx, "dump.sql")
		require.NoError(t, err)
		defer func() { _ = rc.Close() }()

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "select 1", string(got))
	})

	t.Run("directory streams as tar", func(t *testing.T) {
		rc, err := fs.Open(ctx, "config")
		require.NoError(t, err)
		defer func() { _ = rc.Close() }()

		tr := tar.NewReader(rc)
		header, err := tr.Next()
		require.NoError(t, err)
		assert.Equal(t, "app.yaml", header.Name)

		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		assert.Equal(t, "port: 8080", string(content))

		_, err = tr.Next()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("unknown scope", func(t *testing.T) {
		_, err := fs.Open(ctx, "missing")
		assert.Error(t, err)
	})

	t.Run("rejects empty scope", func(t *testing.T) {
		_, err := fs.Open(ctx, "")
		assert.Error(t, err)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		_, err := fs.Open(ctx, "../../etc/passwd")
		assert.Error(t, err)
	})
}
