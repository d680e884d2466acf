// internal/store/store.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/attempt"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists attempt outcomes to PostgreSQL. It implements attempt.OutcomeSink.
type Store struct {
	pool  DBPool
	table string
	log   *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, table string, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if table == "" {
		table = "application_outcomes"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
		log:   logger.Named("store"),
	}, nil
}

// Connect opens a pgx pool for url and wraps it in a Store. The caller closes the pool.
func Connect(ctx context.Context, url, table string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, table, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// EnsureSchema creates the outcomes table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            attempt_id    TEXT PRIMARY KEY,
            job_reference TEXT NOT NULL,
            applied       BOOLEAN NOT NULL,
            reason        TEXT NOT NULL,
            state         TEXT NOT NULL,
            iterations    INTEGER NOT NULL,
            duration_ms   BIGINT NOT NULL,
            finished_at   TIMESTAMPTZ NOT NULL
        );`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create outcomes table: %w", err)
	}
	return nil
}

// Emit inserts one outcome. Re-emitting the same attempt is a no-op.
func (s *Store) Emit(ctx context.Context, o attempt.Outcome) error {
	finished := o.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	query := fmt.Sprintf(`
        INSERT INTO %s (attempt_id, job_reference, applied, reason, state, iterations, duration_ms, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (attempt_id) DO NOTHING;`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		o.AttemptID, o.JobReference, o.Applied, o.Reason, o.State,
		o.Iterations, o.Duration.Milliseconds(), finished.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert outcome for %s: %w", o.JobReference, err)
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug("Outcome already recorded.", zap.String("attempt_id", o.AttemptID))
	}
	return nil
}

// AppliedJobs returns the job references with at least one successful attempt.
func (s *Store) AppliedJobs(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`
        SELECT DISTINCT job_reference
        FROM %s
        WHERE applied
        ORDER BY job_reference ASC;`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied jobs: %w", err)
	}
	defer rows.Close()

	var jobs []string
	for rows.Next() {
		var job string
		if err := rows.Scan(&job); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return jobs, nil
}
