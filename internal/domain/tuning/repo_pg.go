package tuning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CDCgov/RecordLinker-sub000/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the PostgreSQL-backed tuning job repository. The
// single-active-job invariant lives in a partial unique index over
// PENDING/RUNNING rows; a violation surfaces here as ErrConflict.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, job *Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode tuning params: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx,
		`INSERT INTO tuning_job (id, status, params, started_at) VALUES ($1, $2, $3, $4)`,
		job.ID, job.Status, params, job.StartedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert tuning job: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	var params, results []byte
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, status, params, results, details, started_at, finished_at
		 FROM tuning_job WHERE id = $1`, id).
		Scan(&job.ID, &job.Status, &params, &results, &job.Details, &job.StartedAt, &job.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, &job.Params); err != nil {
		return nil, fmt.Errorf("decode tuning job %s params: %w", job.ID, err)
	}
	if len(results) > 0 {
		job.Results = &Results{}
		if err := json.Unmarshal(results, job.Results); err != nil {
			return nil, fmt.Errorf("decode tuning job %s results: %w", job.ID, err)
		}
	}
	return &job, nil
}

func (r *repoPG) MarkRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE tuning_job SET status = $2 WHERE id = $1 AND status = $3`,
		id, StatusRunning, StatusPending)
	if err != nil {
		return fmt.Errorf("mark tuning job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Complete(ctx context.Context, id uuid.UUID, results *Results) error {
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode tuning results: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE tuning_job SET status = $2, results = $3, finished_at = now()
		 WHERE id = $1`,
		id, StatusCompleted, encoded)
	if err != nil {
		return fmt.Errorf("complete tuning job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE tuning_job SET status = $2, details = $3, finished_at = now()
		 WHERE id = $1`,
		id, StatusFailed, reason)
	if err != nil {
		return fmt.Errorf("fail tuning job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) FailStale(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE tuning_job SET status = $1, details = $2, finished_at = now()
		 WHERE status IN ($3, $4) AND started_at < now() - ($5 * interval '1 second')`,
		StatusFailed, reason, StatusPending, StatusRunning, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("fail stale tuning jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
