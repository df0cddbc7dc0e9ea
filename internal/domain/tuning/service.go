package tuning

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/mpi"
)

// Failure reasons recorded on the job row. Callers poll the job; failures
// never propagate as request errors.
const (
	reasonTimedOut = "job timed out"
	reasonStale    = "canceled incomplete job"
)

// Service starts and supervises tuning jobs. A job samples labeled pairs
// from the MPI, computes log-odds, and recommends pass windows, all in a
// background goroutine bounded by a deadline.
type Service struct {
	repo    Repository
	mpiRepo mpi.Repository
	algos   *algorithm.Service
	timeout time.Duration
	logger  zerolog.Logger

	wg sync.WaitGroup
}

func NewService(repo Repository, mpiRepo mpi.Repository, algos *algorithm.Service, timeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		mpiRepo: mpiRepo,
		algos:   algos,
		timeout: timeout,
		logger:  logger,
	}
}

// ReapStale fails any PENDING/RUNNING job older than staleAfter. Called once
// at startup: a job that survived a restart has no goroutine driving it.
func (s *Service) ReapStale(ctx context.Context, staleAfter time.Duration) error {
	n, err := s.repo.FailStale(ctx, staleAfter, reasonStale)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn().Int64("jobs", n).Msg("canceled incomplete tuning jobs")
	}
	return nil
}

// Start creates a PENDING job and launches its worker. ErrConflict when
// another job is active.
func (s *Service) Start(ctx context.Context, params Params) (*Job, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	job := &Job{
		ID:        uuid.New(),
		Status:    StatusPending,
		Params:    params,
		StartedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(job)
	}()
	return job, nil
}

// Get returns the job for status polling.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// Wait blocks until all running workers finish. Used by shutdown and tests.
func (s *Service) Wait() { s.wg.Wait() }

// execute drives one job to COMPLETED or FAILED. It owns the job's context:
// the deadline covers sampling and computation together.
func (s *Service) execute(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.repo.MarkRunning(ctx, job.ID); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("tuning job failed to start")
		return
	}

	results, err := s.compute(ctx, job.Params)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = reasonTimedOut
		}
		// Record the failure with a fresh context; the job's own may be
		// the thing that expired.
		failCtx, failCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer failCancel()
		if ferr := s.repo.Fail(failCtx, job.ID, reason); ferr != nil {
			s.logger.Error().Err(ferr).Str("job_id", job.ID.String()).Msg("could not record tuning failure")
		}
		s.logger.Warn().Str("job_id", job.ID.String()).Str("reason", reason).Msg("tuning job failed")
		return
	}

	if err := s.repo.Complete(ctx, job.ID, results); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("could not record tuning results")
		return
	}
	s.logger.Info().
		Str("job_id", job.ID.String()).
		Int("true_match_pairs", results.TrueMatchPairs).
		Int("non_match_pairs", results.NonMatchPairs).
		Msg("tuning job completed")
}

func (s *Service) compute(ctx context.Context, params Params) (*Results, error) {
	trueMatches, err := s.mpiRepo.SampleTrueMatchPairs(ctx, params.TrueMatchSample)
	if err != nil {
		return nil, err
	}
	nonMatches, err := s.mpiRepo.SampleNonMatchPairs(ctx, params.NonMatchSample)
	if err != nil {
		return nil, err
	}

	var algo *algorithm.Algorithm
	loaded, err := s.algos.Get(ctx, params.Algorithm)
	switch {
	case err == nil:
		algo = loaded
	case errors.Is(err, algorithm.ErrNotFound) && params.Algorithm == "":
		// No default algorithm: log-odds are still worth computing, there
		// is just nothing to recommend windows for.
	default:
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return run(trueMatches, nonMatches, algo), nil
}
