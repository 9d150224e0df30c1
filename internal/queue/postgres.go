package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cookalert/internal/db"
)

// PostgresSchema creates the delayed_jobs table. Applied by EnsureSchema when
// DB_AUTO_MIGRATE is on.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS delayed_jobs (
    key              TEXT PRIMARY KEY,
    payload          BYTEA NOT NULL,
    not_before       TIMESTAMPTZ NOT NULL,
    attempt          INT NOT NULL DEFAULT 0,
    max_attempts     INT NOT NULL DEFAULT 1,
    backoff_type     TEXT NOT NULL DEFAULT 'exponential',
    backoff_delay_ms BIGINT NOT NULL DEFAULT 0,
    backoff_max_ms   BIGINT NOT NULL DEFAULT 0,
    generation       BIGINT NOT NULL DEFAULT 1,
    status           TEXT NOT NULL DEFAULT 'scheduled',
    locked_by        TEXT,
    locked_at        TIMESTAMPTZ,
    last_error       TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_delayed_jobs_due ON delayed_jobs (status, not_before);
`

const jobColumns = `key, payload, not_before, attempt, max_attempts, backoff_type,
    backoff_delay_ms, backoff_max_ms, generation, status,
    COALESCE(locked_by, ''), locked_at, COALESCE(last_error, ''), created_at, updated_at`

// claimedColumns is jobColumns qualified for the UPDATE ... FROM cte form.
const claimedColumns = `j.key, j.payload, j.not_before, j.attempt, j.max_attempts, j.backoff_type,
    j.backoff_delay_ms, j.backoff_max_ms, j.generation, j.status,
    COALESCE(j.locked_by, ''), j.locked_at, COALESCE(j.last_error, ''), j.created_at, j.updated_at`

// PostgresBackend stores jobs in the delayed_jobs table. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never take the same row.
type PostgresBackend struct {
	db db.DBTX
}

// NewPostgresBackend creates a backend over a pool or transaction.
func NewPostgresBackend(conn db.DBTX) *PostgresBackend {
	return &PostgresBackend{db: conn}
}

// EnsureSchema applies PostgresSchema.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("create delayed_jobs schema: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Upsert(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO delayed_jobs (
			key, payload, not_before, attempt, max_attempts, backoff_type,
			backoff_delay_ms, backoff_max_ms, generation, status, created_at, updated_at
		) VALUES ($1, $2, $3, 0, $4, $5, $6, $7, 1, 'scheduled', $8, $8)
		ON CONFLICT (key) DO UPDATE SET
			payload          = EXCLUDED.payload,
			not_before       = EXCLUDED.not_before,
			attempt          = 0,
			max_attempts     = EXCLUDED.max_attempts,
			backoff_type     = EXCLUDED.backoff_type,
			backoff_delay_ms = EXCLUDED.backoff_delay_ms,
			backoff_max_ms   = EXCLUDED.backoff_max_ms,
			generation       = delayed_jobs.generation + 1,
			status           = 'scheduled',
			locked_by        = NULL,
			locked_at        = NULL,
			last_error       = NULL,
			updated_at       = EXCLUDED.updated_at
		RETURNING generation`

	err := b.db.QueryRow(ctx, query,
		job.Key,
		job.Payload,
		job.NotBefore,
		job.MaxAttempts,
		string(job.Backoff.Type),
		job.Backoff.Delay.Milliseconds(),
		job.Backoff.Max.Milliseconds(),
		job.UpdatedAt,
	).Scan(&job.Generation)
	if err != nil {
		return fmt.Errorf("upsert delayed job: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Remove(ctx context.Context, key string) (bool, error) {
	tag, err := b.db.Exec(ctx, `DELETE FROM delayed_jobs WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete delayed job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (b *PostgresBackend) Claim(ctx context.Context, owner string, now, leaseExpiredBefore time.Time) (*Job, error) {
	query := `
		WITH cte AS (
			SELECT key
			FROM delayed_jobs
			WHERE (status = 'scheduled' AND not_before <= $2)
			   OR (status = 'running' AND locked_at < $3)
			ORDER BY not_before ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE delayed_jobs j
		SET status = 'running', locked_by = $1, locked_at = $2, updated_at = $2
		FROM cte
		WHERE j.key = cte.key
		RETURNING ` + claimedColumns

	job, err := scanJob(b.db.QueryRow(ctx, query, owner, now, leaseExpiredBefore))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim delayed job: %w", err)
	}
	return job, nil
}

// fenced executes a statement guarded by generation and lease owner and maps
// zero affected rows to ErrStaleJob.
func (b *PostgresBackend) fenced(ctx context.Context, op, query string, args ...any) error {
	tag, err := b.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s delayed job: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleJob
	}
	return nil
}

func (b *PostgresBackend) Complete(ctx context.Context, job *Job) error {
	return b.fenced(ctx, "complete", `
		DELETE FROM delayed_jobs
		WHERE key = $1 AND generation = $2 AND status = 'running' AND locked_by = $3`,
		job.Key, job.Generation, job.LockedBy)
}

func (b *PostgresBackend) Retry(ctx context.Context, job *Job, now, runAt time.Time, reason string) error {
	return b.fenced(ctx, "retry", `
		UPDATE delayed_jobs
		SET status = 'scheduled', attempt = $4, not_before = $5, last_error = $6,
		    locked_by = NULL, locked_at = NULL, updated_at = $7
		WHERE key = $1 AND generation = $2 AND status = 'running' AND locked_by = $3`,
		job.Key, job.Generation, job.LockedBy, job.Attempt+1, runAt, reason, now)
}

func (b *PostgresBackend) Bury(ctx context.Context, job *Job, now time.Time, reason string) error {
	return b.fenced(ctx, "bury", `
		UPDATE delayed_jobs
		SET status = 'failed', attempt = $4, last_error = $5,
		    locked_by = NULL, locked_at = NULL, updated_at = $6
		WHERE key = $1 AND generation = $2 AND status = 'running' AND locked_by = $3`,
		job.Key, job.Generation, job.LockedBy, job.Attempt+1, reason, now)
}

func (b *PostgresBackend) Get(ctx context.Context, key string) (*Job, error) {
	job, err := scanJob(b.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM delayed_jobs WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delayed job: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j           Job
		backoffType string
		status      string
		delayMs     int64
		maxMs       int64
		lockedAt    *time.Time
	)
	err := row.Scan(
		&j.Key,
		&j.Payload,
		&j.NotBefore,
		&j.Attempt,
		&j.MaxAttempts,
		&backoffType,
		&delayMs,
		&maxMs,
		&j.Generation,
		&status,
		&j.LockedBy,
		&lockedAt,
		&j.LastError,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Backoff = Backoff{
		Type:  BackoffType(backoffType),
		Delay: time.Duration(delayMs) * time.Millisecond,
		Max:   time.Duration(maxMs) * time.Millisecond,
	}
	j.Status = Status(status)
	if lockedAt != nil {
		j.LockedAt = *lockedAt
	}
	return &j, nil
}

var _ Backend = (*PostgresBackend)(nil)
