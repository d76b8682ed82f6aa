package infra

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileSource reads backup data from the local filesystem. A scope
// names a file or directory under the base path; directories are
// streamed as tar archives.
type FileSource struct {
	basePath string
	logger   *zap.Logger
}

func NewFileSource(basePath string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{basePath: basePath, logger: logger}
}

func (fs *FileSource) Open(ctx context.Context, scope string) (io.ReadCloser, error) {
	path, err := fs.resolve(scope)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open scope %s: %w", scope, err)
	}

	if !info.IsDir() {
		return os.Open(path)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(fs.writeTar(ctx, path, pw))
	}()
	return pr, nil
}

// resolve maps a scope onto a path under basePath, rejecting traversal
func (fs *FileSource) resolve(scope string) (string, error) {
	if scope == "" {
		return "", fmt.Errorf("empty scope")
	}
	path := filepath.Join(fs.basePath, filepath.Clean("/"+scope))
	if !strings.HasPrefix(path, filepath.Clean(fs.basePath)+string(os.PathSeparator)) {
		return "", fmt.Errorf("scope %s escapes base path", scope)
	}
	return path, nil
}

func (fs *FileSource) writeTar(ctx context.Context, root string, w io.Writer) error {
	tw := tar.NewWriter(w)
	defer func() { _ = tw.Close() }()

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		_, err = io.Copy(tw, f)
		return err
	})
}
