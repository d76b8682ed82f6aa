package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/HarborGuard/continuity/internal/dr"
)

// LocalStorage implements dr.BackupStorage on the local filesystem.
// Blobs pass through an optional zstd + chacha20poly1305 pipeline; the
// recorded checksum is always of the plaintext, so verification is
// independent of the storage encoding.
type LocalStorage struct {
	basePath string
	logger   *zap.Logger

	compress bool
	key      []byte // nil disables encryption
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// LocalOption configures LocalStorage
type LocalOption func(*LocalStorage)

// WithCompression enables zstd compression of stored blobs
func WithCompression() LocalOption {
	return func(s *LocalStorage) { s.compress = true }
}

// WithEncryption enables chacha20poly1305 encryption with a 32-byte key
func WithEncryption(key []byte) LocalOption {
	return func(s *LocalStorage) { s.key = key }
}

// NewLocalStorage creates a filesystem-backed backup storage
func NewLocalStorage(basePath string, logger *zap.Logger, opts ...LocalOption) (*LocalStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	s := &LocalStorage{basePath: basePath, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	if s.key != nil && len(s.key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(s.key))
	}

	if s.compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		s.encoder = enc
		s.decoder = dec
	}

	return s, nil
}

// Write stores a blob and returns its plaintext checksum, stored size
// and location
func (s *LocalStorage) Write(ctx context.Context, path string, data io.Reader) (*dr.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plaintext, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("read backup data: %w", err)
	}

	sum := sha256.Sum256(plaintext)
	blob, err := s.encode(plaintext)
	if err != nil {
		return nil, err
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	// Write-then-rename so a crashed write never leaves a torn blob
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, blob, 0600); err != nil {
		return nil, fmt.Errorf("write backup blob: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		return nil, fmt.Errorf("finalize backup blob: %w", err)
	}

	s.logger.Debug("backup blob written",
		zap.String("path", path),
		zap.Int("plain_bytes", len(plaintext)),
		zap.Int("stored_bytes", len(blob)))

	return &dr.WriteResult{
		SizeBytes: int64(len(blob)),
		Checksum:  hex.EncodeToString(sum[:]),
		Location:  fullPath,
	}, nil
}

// Read retrieves and decodes a blob by location
func (s *LocalStorage) Read(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if isManifest(location) {
		return s.readManifest(location)
	}

	blob, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read backup blob: %w", err)
	}

	plaintext, err := s.decode(blob)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(plaintext)), nil
}

// Delete removes a blob by location. For chunked backups only the
// manifest is removed; chunk objects may be shared with other backups
// and are left for a separate garbage-collection pass.
func (s *LocalStorage) Delete(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete backup blob: %w", err)
	}
	return nil
}

// Checksum recomputes the plaintext checksum of a stored blob
func (s *LocalStorage) Checksum(ctx context.Context, location string) (string, error) {
	rc, err := s.Read(ctx, location)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("checksum backup blob: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *LocalStorage) encode(plaintext []byte) ([]byte, error) {
	blob := plaintext
	if s.compress {
		blob = s.encoder.EncodeAll(blob, nil)
	}
	if s.key != nil {
		aead, err := chacha20poly1305.New(s.key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		nonce := make([]byte, aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, fmt.Errorf("generate nonce: %w", err)
		}
		// Nonce prefixes the ciphertext
		blob = aead.Seal(nonce, nonce, blob, nil)
	}
	return blob, nil
}

func (s *LocalStorage) decode(blob []byte) ([]byte, error) {
	if s.key != nil {
		aead, err := chacha20poly1305.New(s.key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		if len(blob) < aead.NonceSize() {
			return nil, fmt.Errorf("blob shorter than nonce")
		}
		nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
		plain, err := aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, fmt.Errorf("decrypt backup blob: %w", err)
		}
		blob = plain
	}
	if s.compress {
		plain, err := s.decoder.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress backup blob: %w", err)
		}
		blob = plain
	}
	return blob, nil
}
