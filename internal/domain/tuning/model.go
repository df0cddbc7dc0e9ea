// Package tuning recomputes per-feature log-odds and recommends match
// windows from labeled record pairs sampled out of the MPI. Jobs run in the
// background under a deadline; at most one job is active at a time.
package tuning

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
)

var (
	ErrNotFound = errors.New("tuning job not found")
	// ErrConflict is returned when a job is started while another is
	// still PENDING or RUNNING.
	ErrConflict   = errors.New("a tuning job is already active")
	ErrValidation = errors.New("tuning validation failed")
)

// Status is the lifecycle state of a tuning job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Params configures one tuning run.
type Params struct {
	// TrueMatchSample and NonMatchSample bound how many labeled pairs are
	// drawn from the MPI for each class.
	TrueMatchSample int `json:"true_match_sample"`
	NonMatchSample  int `json:"non_match_sample"`
	// Algorithm is the label whose passes get window recommendations;
	// empty selects the default.
	Algorithm string `json:"algorithm,omitempty"`
}

func (p Params) Validate() error {
	if p.TrueMatchSample <= 0 || p.NonMatchSample <= 0 {
		return ErrValidation
	}
	return nil
}

// PassRecommendation is the suggested window for one algorithm pass.
type PassRecommendation struct {
	PassIndex int              `json:"pass_index"`
	Window    algorithm.Window `json:"possible_match_window"`
}

// Results is the output of a completed job.
type Results struct {
	MProbs          map[string]float64   `json:"m_probs"`
	UProbs          map[string]float64   `json:"u_probs"`
	LogOdds         map[string]float64   `json:"log_odds"`
	Recommendations []PassRecommendation `json:"recommendations,omitempty"`
	TrueMatchPairs  int                  `json:"true_match_pairs"`
	NonMatchPairs   int                  `json:"non_match_pairs"`
}

// Job is one tuning run. A COMPLETED or FAILED job always has FinishedAt set
// at or after StartedAt; Details carries the failure reason.
type Job struct {
	ID         uuid.UUID  `json:"id"`
	Status     Status     `json:"status"`
	Params     Params     `json:"params"`
	Results    *Results   `json:"results,omitempty"`
	Details    *string    `json:"details,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
