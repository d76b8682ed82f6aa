package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/dr"
)

// PostgresConfig holds database connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// PostgresStore persists recovery plans in PostgreSQL. Plans are
// stored as JSON documents keyed by id; the engine owns all structure,
// the database only provides durability.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore opens a connection and ensures the schema exists
func NewPostgresStore(cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS recovery_plans (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			document   JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create recovery_plans table: %w", err)
	}
	return nil
}

// Save upserts a plan document
func (s *PostgresStore) Save(ctx context.Context, plan *dr.RecoveryPlan) error {
	doc, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", plan.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recovery_plans (id, name, document, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		plan.ID, plan.Name, doc, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}
	return nil
}

// LoadAll returns every stored plan
func (s *PostgresStore) LoadAll(ctx context.Context) ([]*dr.RecoveryPlan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM recovery_plans ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var plans []*dr.RecoveryPlan
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		var plan dr.RecoveryPlan
		if err := json.Unmarshal(doc, &plan); err != nil {
			s.logger.Warn("skipping undecodable plan document", zap.Error(err))
			continue
		}
		plans = append(plans, &plan)
	}
	return plans, rows.Err()
}

// Delete removes a plan by id
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recovery_plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete plan %s: %w", id, err)
	}
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
