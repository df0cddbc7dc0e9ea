package tuning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/mpi"
)

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[uuid.UUID]*Job{}}
}

func (m *memJobRepo) Create(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Status == StatusPending || j.Status == StatusRunning {
			return ErrConflict
		}
	}
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memJobRepo) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (m *memJobRepo) MarkRunning(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusPending {
		return ErrNotFound
	}
	j.Status = StatusRunning
	return nil
}

func (m *memJobRepo) Complete(ctx context.Context, id uuid.UUID, results *Results) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.Results = results
	j.FinishedAt = &now
	return nil
}

func (m *memJobRepo) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Details = &reason
	j.FinishedAt = &now
	return nil
}

func (m *memJobRepo) FailStale(ctx context.Context, olderThan time.Duration, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, j := range m.jobs {
		if (j.Status == StatusPending || j.Status == StatusRunning) && now.Sub(j.StartedAt) > olderThan {
			j.Status = StatusFailed
			r := reason
			j.Details = &r
			j.FinishedAt = &now
			n++
		}
	}
	return n, nil
}

// samplerRepo satisfies mpi.Repository for tuning tests: only the pair
// samplers matter.
type samplerRepo struct {
	mpi.Repository

	trueMatches []mpi.RecordPair
	nonMatches  []mpi.RecordPair
	sampleErr   error
	delay       time.Duration
}

func (s *samplerRepo) SampleTrueMatchPairs(ctx context.Context, limit int) ([]mpi.RecordPair, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.sampleErr != nil {
		return nil, s.sampleErr
	}
	return s.trueMatches, nil
}

func (s *samplerRepo) SampleNonMatchPairs(ctx context.Context, limit int) ([]mpi.RecordPair, error) {
	if s.sampleErr != nil {
		return nil, s.sampleErr
	}
	return s.nonMatches, nil
}

type stubAlgoRepo struct {
	algo *algorithm.Algorithm
}

func (s *stubAlgoRepo) List(ctx context.Context) ([]*algorithm.Algorithm, error) { return nil, nil }
func (s *stubAlgoRepo) GetByLabel(ctx context.Context, label string) (*algorithm.Algorithm, error) {
	if s.algo == nil {
		return nil, algorithm.ErrNotFound
	}
	return s.algo, nil
}
func (s *stubAlgoRepo) GetDefault(ctx context.Context) (*algorithm.Algorithm, error) {
	if s.algo == nil {
		return nil, algorithm.ErrNotFound
	}
	return s.algo, nil
}
func (s *stubAlgoRepo) Create(ctx context.Context, a *algorithm.Algorithm) error { return nil }
func (s *stubAlgoRepo) Update(ctx context.Context, a *algorithm.Algorithm) error { return nil }
func (s *stubAlgoRepo) Delete(ctx context.Context, label string) error           { return nil }
func (s *stubAlgoRepo) ClearDefault(ctx context.Context) error                   { return nil }

func passthroughTx(ctx context.Context, _ pgx.TxIsoLevel, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(jobs Repository, sampler mpi.Repository, timeout time.Duration) *Service {
	algos := algorithm.NewService(&stubAlgoRepo{}, passthroughTx, zerolog.Nop())
	return NewService(jobs, sampler, algos, timeout, zerolog.Nop())
}

func samplePairs() ([]mpi.RecordPair, []mpi.RecordPair) {
	same := mpi.RecordPair{named("alice"), named("alice")}
	diff := mpi.RecordPair{named("alice"), named("bob")}
	return []mpi.RecordPair{same, same}, []mpi.RecordPair{diff, diff}
}

func TestStartCompletesJob(t *testing.T) {
	jobs := newMemJobRepo()
	trueMatches, nonMatches := samplePairs()
	svc := newTestService(jobs, &samplerRepo{trueMatches: trueMatches, nonMatches: nonMatches}, time.Minute)

	job, err := svc.Start(context.Background(), Params{TrueMatchSample: 10, NonMatchSample: 10})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Status != StatusPending {
		t.Errorf("initial status = %q, want PENDING", job.Status)
	}
	svc.Wait()

	final, err := svc.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED (details: %v)", final.Status, final.Details)
	}
	if final.Results == nil || len(final.Results.LogOdds) == 0 {
		t.Error("completed job has no results")
	}
	if final.FinishedAt == nil || final.FinishedAt.Before(final.StartedAt) {
		t.Errorf("finished_at = %v, started_at = %v", final.FinishedAt, final.StartedAt)
	}
}

func TestStartSecondActiveJobConflicts(t *testing.T) {
	jobs := newMemJobRepo()
	trueMatches, nonMatches := samplePairs()
	sampler := &samplerRepo{trueMatches: trueMatches, nonMatches: nonMatches, delay: 200 * time.Millisecond}
	svc := newTestService(jobs, sampler, time.Minute)

	if _, err := svc.Start(context.Background(), Params{TrueMatchSample: 10, NonMatchSample: 10}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := svc.Start(context.Background(), Params{TrueMatchSample: 10, NonMatchSample: 10})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second Start err = %v, want ErrConflict", err)
	}
	svc.Wait()
}

func TestJobTimesOut(t *testing.T) {
	jobs := newMemJobRepo()
	trueMatches, nonMatches := samplePairs()
	sampler := &samplerRepo{trueMatches: trueMatches, nonMatches: nonMatches, delay: time.Second}
	svc := newTestService(jobs, sampler, 20*time.Millisecond)

	job, err := svc.Start(context.Background(), Params{TrueMatchSample: 10, NonMatchSample: 10})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()

	final, err := svc.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != StatusFailed {
		t.Fatalf("status = %q, want FAILED", final.Status)
	}
	if final.Details == nil || *final.Details != "job timed out" {
		t.Errorf("details = %v, want \"job timed out\"", final.Details)
	}
}

func TestJobFailureRecordsReason(t *testing.T) {
	jobs := newMemJobRepo()
	sampler := &samplerRepo{sampleErr: errors.New("mpi unavailable")}
	svc := newTestService(jobs, sampler, time.Minute)

	job, err := svc.Start(context.Background(), Params{TrueMatchSample: 10, NonMatchSample: 10})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	svc.Wait()

	final, _ := svc.Get(context.Background(), job.ID)
	if final.Status != StatusFailed {
		t.Fatalf("status = %q, want FAILED", final.Status)
	}
	if final.Details == nil || *final.Details != "mpi unavailable" {
		t.Errorf("details = %v", final.Details)
	}
}

func TestReapStale(t *testing.T) {
	jobs := newMemJobRepo()
	stale := &Job{
		ID:        uuid.New(),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC().Add(-3 * time.Hour),
	}
	jobs.jobs[stale.ID] = stale

	trueMatches, nonMatches := samplePairs()
	svc := newTestService(jobs, &samplerRepo{trueMatches: trueMatches, nonMatches: nonMatches}, time.Minute)
	if err := svc.ReapStale(context.Background(), 2*time.Hour); err != nil {
		t.Fatalf("ReapStale: %v", err)
	}

	reaped, _ := svc.Get(context.Background(), stale.ID)
	if reaped.Status != StatusFailed {
		t.Fatalf("status = %q, want FAILED", reaped.Status)
	}
	if reaped.Details == nil || *reaped.Details != "canceled incomplete job" {
		t.Errorf("details = %v, want \"canceled incomplete job\"", reaped.Details)
	}
}

func TestStartValidatesParams(t *testing.T) {
	svc := newTestService(newMemJobRepo(), &samplerRepo{}, time.Minute)
	if _, err := svc.Start(context.Background(), Params{}); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}
