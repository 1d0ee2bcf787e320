// Package postgres implements domain.Store on PostgreSQL. It is the store
// for multi-replica deployments, where sticky-assignment atomicity comes
// from the unique constraint on (experiment_id, user_id).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidbz/howl/internal/domain"
)

// Config contains PostgreSQL connection settings.
type Config struct {
	DSN string `env:"POSTGRES_DSN"`
}

// Store wraps the connection pool and provides the persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by a connection pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema. An advisory lock keeps concurrent replicas
// from racing on DDL.
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Release()

	const migrationLockID int64 = 0x484F_574C // "HOWL"
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID)

	schema := `
	CREATE TABLE IF NOT EXISTS model_versions (
		domain          TEXT NOT NULL,
		name            TEXT NOT NULL,
		base_model      TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		traffic_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		position        BIGSERIAL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (domain, name)
	);

	CREATE TABLE IF NOT EXISTS experiments (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		primary_metric  TEXT NOT NULL,
		status          TEXT NOT NULL,
		min_sample_size INTEGER NOT NULL DEFAULT 0,
		auto_optimize   BOOLEAN NOT NULL DEFAULT FALSE,
		winner_id       TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at      TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS experiment_variants (
		id              TEXT PRIMARY KEY,
		experiment_id   TEXT NOT NULL REFERENCES experiments(id),
		name            TEXT NOT NULL,
		config          JSONB,
		traffic_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_control      BOOLEAN NOT NULL DEFAULT FALSE,
		position        BIGSERIAL
	);

	CREATE TABLE IF NOT EXISTS assignments (
		experiment_id TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		variant_id    TEXT NOT NULL,
		assigned_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (experiment_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS result_records (
		id            BIGSERIAL PRIMARY KEY,
		experiment_id TEXT NOT NULL,
		variant_id    TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		success       BOOLEAN NOT NULL,
		latency_ms    BIGINT NOT NULL DEFAULT 0,
		cost          DOUBLE PRECISION NOT NULL DEFAULT 0,
		satisfaction  DOUBLE PRECISION NOT NULL DEFAULT 0,
		converted     BOOLEAN NOT NULL DEFAULT FALSE,
		recorded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_result_records_experiment
		ON result_records (experiment_id, variant_id);
	`

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// UpsertVersion creates or updates a version keyed by (domain, name).
func (s *Store) UpsertVersion(ctx context.Context, version domain.ModelVersion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO model_versions (domain, name, base_model, status, traffic_percent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (domain, name) DO UPDATE SET
			base_model = EXCLUDED.base_model,
			status = EXCLUDED.status,
			traffic_percent = EXCLUDED.traffic_percent,
			updated_at = EXCLUDED.updated_at`,
		version.Domain, version.Name, version.BaseModel, string(version.Status),
		version.TrafficPercent, version.CreatedAt, version.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting version: %w", err)
	}
	return nil
}

// ListVersions returns a domain's versions in insertion order.
func (s *Store) ListVersions(ctx context.Context, taskDomain string) ([]domain.ModelVersion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT domain, name, base_model, status, traffic_percent, created_at, updated_at
		FROM model_versions
		WHERE domain = $1
		ORDER BY position`, taskDomain)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.ModelVersion
	for rows.Next() {
		var v domain.ModelVersion
		var status string
		if err := rows.Scan(&v.Domain, &v.Name, &v.BaseModel, &status, &v.TrafficPercent, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		v.Status = domain.VersionStatus(status)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// RollbackVersion retires fromVersion and activates toVersion in one
// transaction.
func (s *Store) RollbackVersion(ctx context.Context, taskDomain, fromVersion, toVersion string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning rollback transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	retire := func(name string, status domain.VersionStatus, traffic float64) error {
		tag, execErr := tx.Exec(ctx, `
			UPDATE model_versions
			SET status = $1, traffic_percent = $2, updated_at = NOW()
			WHERE domain = $3 AND name = $4`,
			string(status), traffic, taskDomain, name)
		if execErr != nil {
			return execErr
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("version %q in domain %q: %w", name, taskDomain, domain.ErrVersionNotFound)
		}
		return nil
	}

	if err := retire(fromVersion, domain.VersionStatusRetired, 0); err != nil {
		return err
	}
	if err := retire(toVersion, domain.VersionStatusActive, 100); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateExperiment persists an experiment and its variants in one
// transaction.
func (s *Store) CreateExperiment(ctx context.Context, exp *domain.Experiment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO experiments (id, name, primary_metric, status, min_sample_size, auto_optimize, winner_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		exp.ID, exp.Name, string(exp.PrimaryMetric), string(exp.Status),
		exp.MinSampleSize, exp.AutoOptimize, nullable(exp.WinnerID), exp.CreatedAt, exp.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting experiment: %w", err)
	}

	for _, v := range exp.Variants {
		_, err = tx.Exec(ctx, `
			INSERT INTO experiment_variants (id, experiment_id, name, config, traffic_percent, is_control)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			v.ID, exp.ID, v.Name, v.Config, v.TrafficPercent, v.IsControl)
		if err != nil {
			return fmt.Errorf("inserting variant %q: %w", v.Name, err)
		}
	}
	return tx.Commit(ctx)
}

// GetExperiment retrieves an experiment with its variants.
func (s *Store) GetExperiment(ctx context.Context, experimentID string) (*domain.Experiment, error) {
	var exp domain.Experiment
	var metric, status string
	var winnerID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, primary_metric, status, min_sample_size, auto_optimize, winner_id, created_at, expires_at
		FROM experiments
		WHERE id = $1`, experimentID).
		Scan(&exp.ID, &exp.Name, &metric, &status, &exp.MinSampleSize, &exp.AutoOptimize, &winnerID, &exp.CreatedAt, &exp.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("experiment %q: %w", experimentID, domain.ErrExperimentNotFound)
		}
		return nil, fmt.Errorf("querying experiment: %w", err)
	}
	exp.PrimaryMetric = domain.Metric(metric)
	exp.Status = domain.ExperimentStatus(status)
	if winnerID != nil {
		exp.WinnerID = *winnerID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, config, traffic_percent, is_control
		FROM experiment_variants
		WHERE experiment_id = $1
		ORDER BY position`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("querying variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.Name, &v.Config, &v.TrafficPercent, &v.IsControl); err != nil {
			return nil, fmt.Errorf("scanning variant: %w", err)
		}
		exp.Variants = append(exp.Variants, v)
	}
	return &exp, rows.Err()
}

// UpdateTraffic replaces the traffic percentages for an experiment's
// variants in one transaction.
func (s *Store) UpdateTraffic(ctx context.Context, experimentID string, traffic map[string]float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning traffic transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for variantID, pct := range traffic {
		_, err = tx.Exec(ctx, `
			UPDATE experiment_variants
			SET traffic_percent = $1
			WHERE experiment_id = $2 AND id = $3`,
			pct, experimentID, variantID)
		if err != nil {
			return fmt.Errorf("updating traffic for variant %q: %w", variantID, err)
		}
	}
	return tx.Commit(ctx)
}

// GetOrCreateAssignment inserts the candidate unless a row already exists
// for (experiment_id, user_id), then reads back whichever row won. The
// unique constraint makes concurrent first-time calls converge on a single
// assignment.
func (s *Store) GetOrCreateAssignment(ctx context.Context, candidate domain.Assignment) (domain.Assignment, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assignments (experiment_id, user_id, variant_id, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (experiment_id, user_id) DO NOTHING`,
		candidate.ExperimentID, candidate.UserID, candidate.VariantID, candidate.AssignedAt)
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("inserting assignment: %w", err)
	}

	var winner domain.Assignment
	err = s.pool.QueryRow(ctx, `
		SELECT experiment_id, user_id, variant_id, assigned_at
		FROM assignments
		WHERE experiment_id = $1 AND user_id = $2`,
		candidate.ExperimentID, candidate.UserID).
		Scan(&winner.ExperimentID, &winner.UserID, &winner.VariantID, &winner.AssignedAt)
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("reading assignment: %w", err)
	}
	return winner, nil
}

// AppendResult appends an outcome record.
func (s *Store) AppendResult(ctx context.Context, record domain.ResultRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO result_records (experiment_id, variant_id, user_id, success, latency_ms, cost, satisfaction, converted, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ExperimentID, record.VariantID, record.UserID, record.Success,
		record.LatencyMs, record.Cost, record.Satisfaction, record.Converted, record.RecordedAt)
	if err != nil {
		return fmt.Errorf("appending result: %w", err)
	}
	return nil
}

// AggregateVariantStats rolls up results per variant in the experiment's
// variant order.
func (s *Store) AggregateVariantStats(ctx context.Context, experimentID string) ([]domain.VariantStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			v.id,
			v.name,
			v.traffic_percent,
			COUNT(r.id),
			COUNT(r.id) FILTER (WHERE r.success),
			COUNT(r.id) FILTER (WHERE r.converted),
			COALESCE(AVG(r.latency_ms), 0),
			COALESCE(AVG(r.cost), 0),
			COALESCE(AVG(r.satisfaction), 0)
		FROM experiment_variants v
		LEFT JOIN result_records r ON r.variant_id = v.id AND r.experiment_id = v.experiment_id
		WHERE v.experiment_id = $1
		GROUP BY v.id, v.name, v.traffic_percent, v.position
		ORDER BY v.position`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("aggregating variant stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.VariantStats
	for rows.Next() {
		var vs domain.VariantStats
		if err := rows.Scan(&vs.VariantID, &vs.VariantName, &vs.TrafficPercent,
			&vs.Samples, &vs.Successes, &vs.Conversions,
			&vs.AvgLatencyMs, &vs.AvgCost, &vs.AvgSatisfaction); err != nil {
			return nil, fmt.Errorf("scanning variant stats: %w", err)
		}
		if vs.Samples > 0 {
			vs.SuccessRate = float64(vs.Successes) / float64(vs.Samples)
			vs.ConversionRate = float64(vs.Conversions) / float64(vs.Samples)
		}
		stats = append(stats, vs)
	}
	if len(stats) == 0 {
		return nil, fmt.Errorf("experiment %q: %w", experimentID, domain.ErrExperimentNotFound)
	}
	return stats, rows.Err()
}

// CompleteExperiment marks an experiment completed with a winner.
func (s *Store) CompleteExperiment(ctx context.Context, experimentID, winnerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE experiments
		SET status = $1, winner_id = $2
		WHERE id = $3`,
		string(domain.ExperimentStatusCompleted), winnerID, experimentID)
	if err != nil {
		return fmt.Errorf("completing experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("experiment %q: %w", experimentID, domain.ErrExperimentNotFound)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
