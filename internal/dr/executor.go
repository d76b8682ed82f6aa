package dr

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/events"
)

// BackupRequest describes a single backup to execute
type BackupRequest struct {
	Name      string            `json:"name"`
	Type      BackupType        `json:"type"`
	Scope     string            `json:"scope"`
	Target    string            `json:"target,omitempty"`
	Retention time.Duration     `json:"retention,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// BackupExecutor executes backup requests against the storage
// collaborator and keeps the catalog of produced backups.
type BackupExecutor struct {
	storage BackupStorage
	source  DataSource
	clock   Clock
	logger  *zap.Logger
	bus     events.Bus

	backups map[string]*Backup
	mu      sync.RWMutex
}

// NewBackupExecutor creates a backup executor
func NewBackupExecutor(storage BackupStorage, source DataSource, clock Clock, bus events.Bus, logger *zap.Logger) *BackupExecutor {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackupExecutor{
		storage: storage,
		source:  source,
		clock:   clock,
		logger:  logger,
		bus:     bus,
		backups: make(map[string]*Backup),
	}
}

// Execute runs one backup. Storage failures produce a failed Backup
// record rather than an error, so callers can continue processing
// other jobs.
func (be *BackupExecutor) Execute(ctx context.Context, req BackupRequest) *Backup {
	now := be.clock.Now()
	backup := &Backup{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Type:      req.Type,
		Scope:     req.Scope,
		Target:    req.Target,
		Status:    BackupPending,
		StartedAt: now,
		Retention: req.Retention,
		Metadata:  req.Metadata,
	}
	if backup.Type == "" {
		backup.Type = BackupFull
	}
	if backup.Retention <= 0 {
		backup.Retention = 30 * 24 * time.Hour
	}

	// The record enters the shared catalog only once terminal, so
	// concurrent readers never observe in-place mutation.
	backup.Status = BackupInProgress
	if err := be.write(ctx, backup); err != nil {
		be.fail(ctx, backup, err)
		return backup
	}

	done := be.clock.Now()
	backup.Status = BackupCompleted
	backup.CompletedAt = &done
	be.store(backup)

	be.publish(ctx, events.BackupCompleted, backup)
	be.logger.Info("backup completed",
		zap.String("backup_id", backup.ID),
		zap.String("scope", backup.Scope),
		zap.Int64("size_bytes", backup.SizeBytes))
	return backup
}

func (be *BackupExecutor) write(ctx context.Context, backup *Backup) error {
	if be.storage == nil {
		return fmt.Errorf("storage not configured")
	}
	if be.source == nil {
		return fmt.Errorf("data source not configured")
	}

	data, err := be.source.Open(ctx, backup.Scope)
	if err != nil {
		return CollaboratorError{Collaborator: "source", Err: err}
	}
	defer func() { _ = data.Close() }()

	path := backupPath(backup)

	var result *WriteResult
	incremental, supportsIncremental := be.storage.(IncrementalStorage)
	if backup.Type != BackupFull && supportsIncremental {
		result, err = incremental.WriteIncremental(ctx, backup.Scope, path, data)
	} else {
		result, err = be.storage.Write(ctx, path, data)
	}
	if err != nil {
		return CollaboratorError{Collaborator: "storage", Err: err}
	}

	backup.SizeBytes = result.SizeBytes
	backup.Checksum = result.Checksum
	backup.Location = result.Location
	return nil
}

func (be *BackupExecutor) store(backup *Backup) {
	be.mu.Lock()
	be.backups[backup.ID] = backup
	be.mu.Unlock()
}

func (be *BackupExecutor) fail(ctx context.Context, backup *Backup, err error) {
	done := be.clock.Now()
	backup.Status = BackupFailed
	backup.CompletedAt = &done
	backup.Error = err.Error()
	be.store(backup)

	be.publish(ctx, events.BackupFailed, backup)
	be.logger.Error("backup failed",
		zap.String("backup_id", backup.ID),
		zap.String("scope", backup.Scope),
		zap.Error(err))
}

// Verify re-reads a completed backup and compares its stored checksum
func (be *BackupExecutor) Verify(ctx context.Context, id string) (bool, error) {
	backup, err := be.Get(id)
	if err != nil {
		return false, err
	}
	if backup.Status != BackupCompleted {
		return false, fmt.Errorf("backup %s not completed: %s", id, backup.Status)
	}

	verifier, ok := be.storage.(interface {
		Checksum(ctx context.Context, location string) (string, error)
	})
	if !ok {
		// Fall back to a readability check
		rc, err := be.storage.Read(ctx, backup.Location)
		if err != nil {
			return false, CollaboratorError{Collaborator: "storage", Err: err}
		}
		_, err = io.Copy(io.Discard, rc)
		_ = rc.Close()
		return err == nil, err
	}

	sum, err := verifier.Checksum(ctx, backup.Location)
	if err != nil {
		return false, CollaboratorError{Collaborator: "storage", Err: err}
	}
	return strings.EqualFold(sum, backup.Checksum), nil
}

// Get returns a backup by id
func (be *BackupExecutor) Get(id string) (*Backup, error) {
	be.mu.RLock()
	defer be.mu.RUnlock()

	backup, ok := be.backups[id]
	if !ok {
		return nil, ErrBackupNotFound(id)
	}
	return backup, nil
}

// List returns all backups, newest first
func (be *BackupExecutor) List() []*Backup {
	be.mu.RLock()
	defer be.mu.RUnlock()

	backups := make([]*Backup, 0, len(be.backups))
	for _, b := range be.backups {
		backups = append(backups, b)
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].StartedAt.After(backups[j].StartedAt)
	})
	return backups
}

// RemoveExpired deletes backups older than their retention window.
// Backups for which keep returns true (e.g. referenced by an in-flight
// recovery) are never removed. Returns the number removed.
func (be *BackupExecutor) RemoveExpired(ctx context.Context, now time.Time, keep func(id string) bool) int {
	be.mu.Lock()
	var expired []*Backup
	for _, b := range be.backups {
		if b.CompletedAt == nil {
			continue
		}
		if now.Sub(*b.CompletedAt) <= b.Retention {
			continue
		}
		if keep != nil && keep(b.ID) {
			continue
		}
		expired = append(expired, b)
	}
	for _, b := range expired {
		delete(be.backups, b.ID)
	}
	be.mu.Unlock()

	removed := 0
	for _, b := range expired {
		if b.Location != "" && be.storage != nil {
			if err := be.storage.Delete(ctx, b.Location); err != nil {
				be.logger.Warn("delete expired backup blob",
					zap.String("backup_id", b.ID), zap.Error(err))
			}
		}
		removed++
	}

	if removed > 0 {
		be.logger.Info("expired backups removed", zap.Int("count", removed))
	}
	return removed
}

// SweepChunks runs the storage's orphaned-chunk collection if the
// storage supports chunked backups. No-op otherwise.
func (be *BackupExecutor) SweepChunks(ctx context.Context) {
	sweeper, ok := be.storage.(interface {
		SweepOrphanedChunks(ctx context.Context) (int, int64, error)
	})
	if !ok {
		return
	}
	removed, reclaimed, err := sweeper.SweepOrphanedChunks(ctx)
	if err != nil {
		be.logger.Warn("chunk sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		be.logger.Info("chunk sweep reclaimed storage",
			zap.Int("chunks", removed),
			zap.Int64("bytes", reclaimed))
	}
}

func (be *BackupExecutor) publish(ctx context.Context, kind events.EventType, backup *Backup) {
	if be.bus == nil {
		return
	}
	_ = be.bus.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		Timestamp: be.clock.Now(),
		Metadata: map[string]string{
			"backup_id": backup.ID,
			"scope":     backup.Scope,
			"type":      string(backup.Type),
		},
	})
}

func backupPath(b *Backup) string {
	ts := b.StartedAt.UTC().Format("20060102-150405")
	return fmt.Sprintf("%s/%s/%s-%s", b.Scope, b.Type, ts, b.ID)
}
