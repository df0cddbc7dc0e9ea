package tuning

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists tuning jobs. The single-active-job invariant is
// enforced by the database (partial unique index over active statuses), not
// in memory.
type Repository interface {
	// Create inserts a PENDING job; ErrConflict when another job is
	// PENDING or RUNNING.
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id uuid.UUID) (*Job, error)
	// MarkRunning transitions a PENDING job to RUNNING.
	MarkRunning(ctx context.Context, id uuid.UUID) error
	// Complete records results and transitions to COMPLETED.
	Complete(ctx context.Context, id uuid.UUID, results *Results) error
	// Fail records a reason and transitions to FAILED.
	Fail(ctx context.Context, id uuid.UUID, reason string) error
	// FailStale marks every PENDING/RUNNING job started more than
	// olderThan ago as FAILED with the given reason, returning how many
	// were reaped.
	FailStale(ctx context.Context, olderThan time.Duration, reason string) (int64, error)
}
