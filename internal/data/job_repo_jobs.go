package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/data/pgxutil"
	"github.com/ticketpress/ticketpress/internal/domain/model"
)

const defaultRetryDelaySeconds = 30

func (r *JobRepo) retryDelay() time.Duration {
	if r.cfg.RetryDelaySeconds > 0 {
		return time.Duration(r.cfg.RetryDelaySeconds) * time.Second
	}
	return defaultRetryDelaySeconds * time.Second
}

// jobNotifyChannel is the pg_notify channel workers listen on for new jobs.
const jobNotifyChannel = "vector_job_added"

// SQL used by ReserveNext to atomically reserve the next job. The CTE with
// FOR UPDATE SKIP LOCKED guarantees at most one worker wins a given row.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM vector_jobs
    WHERE status = 'queued' AND scheduled_at <= $1
    ORDER BY scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE vector_jobs j
  SET
    status = 'rendering',
    lease_expires_at = $2,
    updated_at = $3
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.status, j.spec, j.svg_digest, j.attempts, j.max_attempts, j.last_error, j.lease_expires_at, j.result_artifact_key, j.scheduled_at, j.created_at, j.updated_at, j.completed_at`

// Create inserts a new job in queued state and notifies listening workers
// inside the same transaction, so a wake signal never precedes its row.
func (r *JobRepo) Create(ctx context.Context, params core.CreateJobParams) (*model.VectorJob, error) {
	if params.SVGDigest == "" {
		return nil, errors.New("svg digest is required")
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = 3
	}

	spec, err := json.Marshal(params.Spec)
	if err != nil {
		return nil, fmt.Errorf("marshal job spec: %w", err)
	}

	var job *model.VectorJob
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()
			rows, qerr := tx.Query(ctx, `
              INSERT INTO vector_jobs(status, spec, svg_digest, max_attempts, scheduled_at)
              VALUES ('queued', $1, $2, $3, $4)
              RETURNING `+jobColumns, spec, params.SVGDigest, params.MaxAttempts, now)
			if qerr != nil {
				return fmt.Errorf("insert job: %w", qerr)
			}
			j, cerr := collectJobFromRows(rows)
			rows.Close()
			if cerr != nil {
				return fmt.Errorf("collect job: %w", cerr)
			}

			if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobNotifyChannel, j.ID.String()); execErr != nil {
				return fmt.Errorf("send job notification: %w", execErr)
			}
			job = j
			return nil
		},
	})
	if txErr != nil {
		return nil, txErr
	}
	return job, nil
}

// collectJobFromRows collects a single job from pgx rows using pgx v5 helpers.
func collectJobFromRows(rows pgx.Rows) (*model.VectorJob, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	spec                        []byte
	lastError, artifactKey      sql.NullString
	leaseExpiresAt, completedAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.VectorJob) error {
	return scanner.Scan(
		&job.ID,
		&job.Status,
		&d.spec,
		&job.SVGDigest,
		&job.Attempts,
		&job.MaxAttempts,
		&d.lastError,
		&d.leaseExpiresAt,
		&d.artifactKey,
		&job.ScheduledAt,
		&job.CreatedAt,
		&job.UpdatedAt,
		&d.completedAt,
	)
}

func (d *jobRowData) apply(job *model.VectorJob) error {
	if len(d.spec) > 0 {
		if err := json.Unmarshal(d.spec, &job.Spec); err != nil {
			return fmt.Errorf("unmarshal job spec: %w", err)
		}
	}
	job.LastError = cloneNullableString(d.lastError)
	job.ResultArtifactKey = cloneNullableString(d.artifactKey)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.VectorJob, error) {
	job := &model.VectorJob{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// ReserveNext reserves the next queued job for processing under a lease.
func (r *JobRepo) ReserveNext(ctx context.Context, leaseSeconds int) (*model.VectorJob, error) {
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}

	var job *model.VectorJob
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now()
			leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				reserveNextUpdateSQL,
				currentTime.UTC(),
				leaseExpiresAt.UTC(),
				currentTime.UTC(),
			)
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on a job the worker currently owns.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	query := `
		UPDATE vector_jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status IN ('rendering', 'assembling')
	`

	res, err := r.DB.ExecContext(ctx, query, jobID, leaseExpiration, currentTime)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkAssembling transitions rendering → assembling. The status guard keeps
// the transition exclusive to the lease holder: a requeued job is back in
// queued and no longer matches.
func (r *JobRepo) MarkAssembling(ctx context.Context, jobID string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE vector_jobs
		SET status = 'assembling',
		    updated_at = $2
		WHERE id = $1 AND status = 'rendering'
	`, jobID, currentTime)
	if err != nil {
		return false, fmt.Errorf("mark assembling: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark assembling rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Complete marks a job done and records the stored artifact key.
func (r *JobRepo) Complete(ctx context.Context, jobID, artifactKey string) (bool, error) {
	if artifactKey == "" {
		return false, errors.New("artifact key is required")
	}
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE vector_jobs
		SET status = 'done',
		    result_artifact_key = $2,
		    completed_at = $3,
		    updated_at = $3,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status IN ('rendering', 'assembling')
	`, jobID, artifactKey, currentTime)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Fail records a failure. Terminal failures (content errors, exhausted
// retries) go straight to failed; transient ones return the job to queued
// with the backoff applied to scheduled_at. The attempts increment and the
// status decision happen in one statement so concurrent sweeps cannot
// double-count.
func (r *JobRepo) Fail(ctx context.Context, params core.FailJobParams) (bool, error) {
	currentTime := r.timeProvider.Now()
	backoff := params.Backoff
	if backoff <= 0 {
		backoff = r.retryDelay()
	}
	retryScheduledAt := currentTime.Add(backoff)

	query := `
      UPDATE vector_jobs
      SET
        last_error = $2,
        attempts = attempts + 1,
        status = CASE WHEN $3::boolean OR attempts + 1 >= max_attempts THEN 'failed' ELSE 'queued' END,
        completed_at = CASE WHEN $3::boolean OR attempts + 1 >= max_attempts THEN $4::timestamptz ELSE NULL END,
        lease_expires_at = NULL,
        scheduled_at = CASE WHEN $3::boolean OR attempts + 1 >= max_attempts THEN scheduled_at
                            ELSE $5::timestamptz END,
        updated_at = $4
      WHERE id = $1 AND status IN ('rendering', 'assembling')
      RETURNING status
    `

	var status string
	if err := r.DB.QueryRowContext(ctx, query, params.ID, params.ErrMsg, params.Terminal,
		currentTime.UTC(), retryScheduledAt.UTC()).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("fail job: %w", err)
	}

	if r.logger != nil && status == string(model.JobStatusFailed) {
		r.logger.WarnContext(ctx, "job failed terminally", "job_id", params.ID, "error", params.ErrMsg)
	}
	return true, nil
}

// Stats returns counts of jobs in each lifecycle state.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'queued')     AS queued,
    count(*) FILTER (WHERE status = 'rendering')  AS rendering,
    count(*) FILTER (WHERE status = 'assembling') AS assembling,
    count(*) FILTER (WHERE status = 'done')       AS done,
    count(*) FILTER (WHERE status = 'failed')     AS failed,
    count(*) FILTER (WHERE status = 'expired')    AS expired
  FROM vector_jobs
  `).Scan(
		&s.Queued,
		&s.Rendering,
		&s.Assembling,
		&s.Done,
		&s.Failed,
		&s.Expired,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification blocks until a new-job notification arrives or the
// context is canceled.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	quoted := pgx.Identifier{jobNotifyChannel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", jobNotifyChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.VectorJob, error) {
	var job *model.VectorJob
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM vector_jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}
