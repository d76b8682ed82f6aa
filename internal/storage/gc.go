package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// SweepOrphanedChunks removes chunk objects no manifest references.
// Deleting a chunked backup only removes its manifest; this pass
// reclaims the chunks that are no longer reachable from any manifest.
// Returns the number of chunks removed and the bytes reclaimed.
func (s *LocalStorage) SweepOrphanedChunks(ctx context.Context) (int, int64, error) {
	referenced, err := s.referencedChunks(ctx)
	if err != nil {
		return 0, 0, err
	}

	var removed int
	var reclaimed int64
	objectsDir := filepath.Join(s.basePath, "objects")

	err = filepath.WalkDir(objectsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		hash := d.Name()
		if referenced[hash] {
			return nil
		}

		var size int64
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("remove orphaned chunk", zap.String("hash", hash), zap.Error(err))
			return nil
		}
		removed++
		reclaimed += size
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	if removed > 0 {
		s.logger.Info("orphaned chunks swept",
			zap.Int("removed", removed),
			zap.Int64("reclaimed_bytes", reclaimed))
	}
	return removed, reclaimed, nil
}

// referencedChunks walks every manifest and collects live chunk hashes
func (s *LocalStorage) referencedChunks(ctx context.Context) (map[string]bool, error) {
	referenced := make(map[string]bool)

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(path, manifestSuffix) {
			return nil
		}

		m, err := s.loadManifest(path)
		if err != nil {
			// An unreadable manifest pins nothing, but must not make the
			// sweep delete chunks it may still reference
			return err
		}
		for _, entry := range m.Chunks {
			referenced[entry.Hash] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return referenced, nil
}
