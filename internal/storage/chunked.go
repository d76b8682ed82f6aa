package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/restic/chunker"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/dr"
)

// chunkerPol is a fixed polynomial so the same content always produces
// the same chunks across restarts
const chunkerPol = chunker.Pol(0x3DA3358B4DC173)

const manifestSuffix = ".manifest"

// manifest describes the chunks composing one incremental backup
type manifest struct {
	Scope  string       `json:"scope"`
	Chunks []chunkEntry `json:"chunks"`
}

type chunkEntry struct {
	Hash string `json:"hash"`
	Size int    `json:"size"`
}

// WriteIncremental stores only chunks not already present in the
// object store, deduplicating against every previous backup of any
// scope. The returned size is the delta actually written; the checksum
// covers the full plaintext stream.
func (s *LocalStorage) WriteIncremental(ctx context.Context, scope, path string, data io.Reader) (*dr.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plaintext, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("read backup data: %w", err)
	}
	total := sha256.Sum256(plaintext)

	ck := chunker.New(bytes.NewReader(plaintext), chunkerPol)
	buf := make([]byte, chunker.MaxSize)

	m := manifest{Scope: scope}
	var delta int64
	for {
		c, err := ck.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chunk backup data: %w", err)
		}

		sum := sha256.Sum256(c.Data)
		hash := hex.EncodeToString(sum[:])
		m.Chunks = append(m.Chunks, chunkEntry{Hash: hash, Size: int(c.Length)})

		written, err := s.writeObject(hash, c.Data)
		if err != nil {
			return nil, err
		}
		delta += written
	}

	doc, err := json.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(path)) + manifestSuffix
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	if err := os.WriteFile(fullPath, doc, 0600); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	s.logger.Debug("incremental backup written",
		zap.String("scope", scope),
		zap.Int("chunks", len(m.Chunks)),
		zap.Int64("delta_bytes", delta))

	return &dr.WriteResult{
		SizeBytes: delta,
		Checksum:  hex.EncodeToString(total[:]),
		Location:  fullPath,
	}, nil
}

// writeObject stores one chunk under its hash unless already present.
// Returns the number of bytes written (0 for a dedup hit).
func (s *LocalStorage) writeObject(hash string, data []byte) (int64, error) {
	dir := filepath.Join(s.basePath, "objects", hash[:2])
	objectPath := filepath.Join(dir, hash)

	if _, err := os.Stat(objectPath); err == nil {
		return 0, nil
	}

	blob, err := s.encode(data)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return 0, fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(objectPath, blob, 0600); err != nil {
		return 0, fmt.Errorf("write chunk object: %w", err)
	}
	return int64(len(blob)), nil
}

func (s *LocalStorage) loadManifest(location string) (*manifest, error) {
	doc, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// readManifest reassembles a chunked backup from its manifest
func (s *LocalStorage) readManifest(location string) (io.ReadCloser, error) {
	m, err := s.loadManifest(location)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	for _, entry := range m.Chunks {
		blob, err := os.ReadFile(filepath.Join(s.basePath, "objects", entry.Hash[:2], entry.Hash))
		if err != nil {
			return nil, fmt.Errorf("read chunk %s: %w", entry.Hash, err)
		}
		plain, err := s.decode(blob)
		if err != nil {
			return nil, fmt.Errorf("decode chunk %s: %w", entry.Hash, err)
		}
		sum := sha256.Sum256(plain)
		if hex.EncodeToString(sum[:]) != entry.Hash {
			return nil, fmt.Errorf("chunk %s corrupt", entry.Hash)
		}
		out.Write(plain)
	}
	return io.NopCloser(bytes.NewReader(out.Bytes())), nil
}

func isManifest(location string) bool {
	return strings.HasSuffix(location, manifestSuffix)
}
