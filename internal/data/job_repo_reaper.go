package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/data/pgxutil"
)

// Advisory lock namespace for sweeper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 1000 is reserved for ticketpress sweeper operations.
const (
	advisoryLockSweeperMajor   = 1000
	advisoryLockSweeperRequeue = 1 // minor key for RequeueStale
	advisoryLockSweeperExpire  = 2 // minor key for ExpireOldJobs
	advisoryLockSweeperPurge   = 3 // minor key for PurgeExpired
)

// RequeueStale returns jobs whose lease expired while a worker owned them to
// queued. Clearing the lease in the same statement that flips the status
// makes the requeue happen at most once per expiry: a second sweep no longer
// matches the row. Attempts are not incremented here; a crashed worker is
// not the spec's fault.
// Uses advisory locks to prevent concurrent sweeper instances from conflicting.
func (r *JobRepo) RequeueStale(ctx context.Context, params core.RequeueStaleParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockSweeperMajor, advisoryLockSweeperRequeue).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
				UPDATE vector_jobs
				SET status = 'queued',
					lease_expires_at = NULL,
					updated_at = $1
				WHERE id IN (
					SELECT id FROM vector_jobs
					WHERE status IN ('rendering', 'assembling')
					  AND lease_expires_at IS NOT NULL
					  AND lease_expires_at < $1
					ORDER BY lease_expires_at
					LIMIT $2
				)
			`, currentTime.UTC(), params.BatchSize)
			if err != nil {
				return fmt.Errorf("requeue stale jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// ExpireOldJobs transitions jobs older than the retention window to expired
// and returns the row count plus the artifact keys the terminal rows held so
// the caller can reclaim object storage. Two kinds of rows match: terminal
// jobs past retention, and queued jobs that aged past retention without a
// live lease (workers down longer than the window). Jobs a worker currently
// owns never match.
// Uses advisory locks to prevent concurrent sweeper instances from conflicting.
func (r *JobRepo) ExpireOldJobs(ctx context.Context, params core.ExpireOldJobsParams) (int64, []string, error) {
	if params.BatchSize <= 0 {
		return 0, nil, errors.New("batch size must be greater than zero")
	}
	if params.Retention <= 0 {
		return 0, nil, errors.New("retention must be greater than zero")
	}

	var rowsExpired int64
	var artifactKeys []string
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockSweeperMajor, advisoryLockSweeperExpire).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			currentTime := r.timeProvider.Now()
			cutoffTime := currentTime.Add(-params.Retention)

			// The CTE captures the artifact key before the UPDATE nulls it.
			rows, err := tx.QueryContext(ctx, `
				WITH stale AS (
					SELECT id, result_artifact_key FROM vector_jobs
					WHERE (
						(status IN ('done', 'failed') AND COALESCE(completed_at, updated_at) < $2)
						OR (status = 'queued'
							AND created_at < $2
							AND (lease_expires_at IS NULL OR lease_expires_at < $1))
					)
					ORDER BY COALESCE(completed_at, created_at)
					LIMIT $3
					FOR UPDATE SKIP LOCKED
				)
				UPDATE vector_jobs j
				SET status = 'expired',
					result_artifact_key = NULL,
					updated_at = $1
				FROM stale
				WHERE j.id = stale.id
				RETURNING stale.result_artifact_key
			`, currentTime.UTC(), cutoffTime.UTC(), params.BatchSize)
			if err != nil {
				return fmt.Errorf("expire old jobs: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				var key sql.NullString
				if err := rows.Scan(&key); err != nil {
					return fmt.Errorf("scan artifact key: %w", err)
				}
				rowsExpired++
				if key.Valid && key.String != "" {
					artifactKeys = append(artifactKeys, key.String)
				}
			}
			return rows.Err()
		},
	})
	if err != nil {
		return 0, nil, err
	}
	return rowsExpired, artifactKeys, nil
}

// PurgeExpired deletes expired jobs older than maxAge outright.
// Processes up to batchSize rows per call to prevent long locks and I/O spikes.
// Uses advisory locks to prevent concurrent sweeper instances from conflicting.
func (r *JobRepo) PurgeExpired(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if maxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockSweeperMajor, advisoryLockSweeperPurge).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			cutoffTime := r.timeProvider.Now().Add(-maxAge).UTC()

			res, err := tx.ExecContext(ctx, `
				DELETE FROM vector_jobs
				WHERE id IN (
					SELECT id FROM vector_jobs
					WHERE status = 'expired'
					  AND updated_at < $1
					ORDER BY updated_at
					LIMIT $2
				)
			`, cutoffTime, batchSize)
			if err != nil {
				return fmt.Errorf("purge expired jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
