package linkage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/mpi"
	"github.com/CDCgov/RecordLinker-sub000/internal/platform/db"
	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

// ErrNoAlgorithm is returned when neither the requested label nor a default
// algorithm exists.
var ErrNoAlgorithm = errors.New("no algorithm found")

// Prediction is the outcome of a link request.
type Prediction string

const (
	PredictionMatch         Prediction = "match"
	PredictionPossibleMatch Prediction = "possible_match"
	PredictionNoMatch       Prediction = "no_match"
)

// Grade classifies a person's best score against a pass window.
type Grade string

const (
	GradeCertain      Grade = "certain"
	GradePossible     Grade = "possible"
	GradeCertainlyNot Grade = "certainly-not"
)

func gradeRank(g Grade) int {
	switch g {
	case GradeCertain:
		return 2
	case GradePossible:
		return 1
	default:
		return 0
	}
}

// gradeScore places a normalized score in a window: [0, lower) is
// certainly-not, [lower, upper) possible, [upper, 1] certain.
func gradeScore(score float64, w algorithm.Window) Grade {
	switch {
	case score >= w.Upper:
		return GradeCertain
	case score >= w.Lower:
		return GradePossible
	default:
		return GradeCertainlyNot
	}
}

// PersonResult reports how one candidate person scored.
type PersonResult struct {
	PersonReferenceID uuid.UUID `json:"person_reference_id"`
	AccumulatedPoints float64   `json:"accumulated_points"`
	RMS               float64   `json:"rms"`
	MMT               float64   `json:"mmt"`
	CMT               float64   `json:"cmt"`
	Grade             Grade     `json:"match_grade"`
}

// LinkResponse is the outcome of linking one record.
type LinkResponse struct {
	Prediction         Prediction     `json:"prediction"`
	PersonReferenceID  *uuid.UUID     `json:"person_reference_id,omitempty"`
	PatientReferenceID uuid.UUID      `json:"patient_reference_id"`
	Results            []PersonResult `json:"results"`
}

// Engine runs the multi-pass probabilistic match and owns the read-then-write
// transaction of a link request.
type Engine struct {
	repo   mpi.Repository
	algos  *algorithm.Service
	inTx   db.TxRunner
	logger zerolog.Logger
}

func NewEngine(repo mpi.Repository, algos *algorithm.Service, inTx db.TxRunner, logger zerolog.Logger) *Engine {
	return &Engine{repo: repo, algos: algos, inTx: inTx, logger: logger}
}

// candidate is one person's standing after all passes: the best score seen
// and the window of the pass that produced it.
type candidate struct {
	personID          int64
	personReferenceID uuid.UUID
	grade             Grade
	score             float64
	window            algorithm.Window
	maxPoints         float64
}

// better orders candidates by grade first, score second.
func (c candidate) better(o candidate) bool {
	if gradeRank(c.grade) != gradeRank(o.grade) {
		return gradeRank(c.grade) > gradeRank(o.grade)
	}
	return c.score > o.score
}

// Link evaluates record against the MPI under the named algorithm (default
// when label is empty), inserts the record as a new patient, and attaches it
// per the prediction. All reads and writes share one repeatable-read
// transaction so concurrent links over the same PII observe each other.
func (e *Engine) Link(ctx context.Context, record *pii.Record, label string, extPatientID, extPersonID *string) (*LinkResponse, error) {
	algo, err := e.algos.Get(ctx, label)
	if err != nil {
		if errors.Is(err, algorithm.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrNoAlgorithm, label)
		}
		return nil, err
	}

	record.Normalize()
	cleaned := CleanRecord(record, algo.Context.SkipValues)

	var resp *LinkResponse
	err = e.inTx(ctx, pgx.RepeatableRead, func(ctx context.Context) error {
		candidates, err := e.scoreCandidates(ctx, cleaned, algo)
		if err != nil {
			return err
		}
		resp, err = e.decide(ctx, record, algo, candidates, extPatientID, extPersonID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("prediction", string(resp.Prediction)).
		Str("patient_reference_id", resp.PatientReferenceID.String()).
		Int("candidates", len(resp.Results)).
		Msg("link complete")
	return resp, nil
}

// scoreCandidates runs every pass and returns each candidate person's best
// standing across passes.
func (e *Engine) scoreCandidates(ctx context.Context, cleaned *pii.Record, algo *algorithm.Algorithm) (map[int64]candidate, error) {
	best := map[int64]candidate{}

	for _, pass := range algo.Passes {
		vals, skip := blockingValues(cleaned, pass, algo.Context.Advanced.MaxMissingAllowedProportion)
		if skip {
			continue
		}
		patients, err := e.repo.GetBlockData(ctx, vals)
		if err != nil {
			return nil, fmt.Errorf("get block data: %w", err)
		}
		if len(patients) == 0 {
			continue
		}

		maxPoints := passMaxPoints(pass, algo)

		// Group per person, score each patient, collapse to the median.
		byPerson := map[int64][]*mpi.Patient{}
		for _, p := range patients {
			if p.PersonID == nil {
				continue
			}
			byPerson[*p.PersonID] = append(byPerson[*p.PersonID], p)
		}
		for personID, cluster := range byPerson {
			var scores []float64
			for _, p := range cluster {
				scores = append(scores, scorePatient(cleaned, p.Record, pass, algo, maxPoints))
			}
			clusterScore := median(scores)

			cand := candidate{
				personID:  personID,
				grade:     gradeScore(clusterScore, pass.PossibleMatchWindow),
				score:     clusterScore,
				window:    pass.PossibleMatchWindow,
				maxPoints: maxPoints,
			}
			if ref := cluster[0].PersonReferenceID; ref != nil {
				cand.personReferenceID = *ref
			}
			if prev, ok := best[personID]; !ok || cand.better(prev) {
				best[personID] = cand
			}
		}
	}
	return best, nil
}

// blockingValues derives per-key values for a pass. skip is true when too
// many keys are underivable for the record to be usable in this pass.
func blockingValues(record *pii.Record, pass algorithm.Pass, maxMissing float64) (map[pii.BlockingKey][]string, bool) {
	vals := map[pii.BlockingKey][]string{}
	missing := 0
	for _, key := range pass.BlockingKeys {
		kv := record.BlockingValues(key)
		if len(kv) == 0 {
			missing++
			continue
		}
		vals[key] = kv
	}
	if float64(missing)/float64(len(pass.BlockingKeys)) > maxMissing {
		return nil, true
	}
	if len(vals) == 0 {
		return nil, true
	}
	return vals, false
}

// passMaxPoints is the sum of log-odds over the pass's probabilistic
// evaluators; deterministic evaluators contribute no points.
func passMaxPoints(pass algorithm.Pass, algo *algorithm.Algorithm) float64 {
	total := 0.0
	for _, ev := range pass.Evaluators {
		if ev.Func.Probabilistic() {
			w, _ := algo.LogOddsFor(ev.Feature)
			total += w
		}
	}
	return total
}

// scorePatient runs every evaluator of a pass against one stored record and
// normalizes the result to [0, 1].
func scorePatient(incoming, stored *pii.Record, pass algorithm.Pass, algo *algorithm.Algorithm, maxPoints float64) float64 {
	if stored == nil {
		return 0
	}
	missingProp := algo.Context.Advanced.MissingFieldPointsProportion

	total := 0.0
	exactHits := 0
	for _, ev := range pass.Evaluators {
		logOdds, _ := algo.LogOddsFor(ev.Feature)
		res := evaluate(ev, logOdds, incoming, stored)
		if res.Missing {
			total += missingProp * logOdds
			continue
		}
		total += res.Value
		if res.Value == 1.0 {
			exactHits++
		}
	}

	if maxPoints == 0 {
		// Deterministic pass: fraction of evaluators that fully agreed.
		return float64(exactHits) / float64(len(pass.Evaluators))
	}
	score := total / maxPoints
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ScorePair scores one record pair under a single pass with no cluster
// aggregation. Overriding log-odds (when non-nil) replace the algorithm's
// own weights, so the tuning engine can score passes with freshly computed
// odds before they are persisted.
func ScorePair(a, b *pii.Record, pass algorithm.Pass, algo *algorithm.Algorithm, logOdds map[string]float64) float64 {
	scoped := algo
	if logOdds != nil {
		clone := *algo
		clone.Context.LogOdds = logOdds
		scoped = &clone
	}
	return scorePatient(a, b, pass, scoped, passMaxPoints(pass, scoped))
}

// median collapses a cluster's patient scores; an even count averages the two
// middle values.
func median(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sort.Float64s(scores)
	mid := len(scores) / 2
	if len(scores)%2 == 1 {
		return scores[mid]
	}
	return (scores[mid-1] + scores[mid]) / 2
}

// decide grades the candidates, inserts the incoming record, and attaches it
// to the chosen or a new person.
func (e *Engine) decide(ctx context.Context, record *pii.Record, algo *algorithm.Algorithm, candidates map[int64]candidate, extPatientID, extPersonID *string) (*LinkResponse, error) {
	var certain, possible []candidate
	var results []PersonResult
	for _, cand := range candidates {
		switch cand.grade {
		case GradeCertain:
			certain = append(certain, cand)
		case GradePossible:
			possible = append(possible, cand)
		default:
			continue
		}
		results = append(results, PersonResult{
			PersonReferenceID: cand.personReferenceID,
			AccumulatedPoints: cand.score * cand.maxPoints,
			RMS:               cand.score,
			MMT:               cand.window.Lower,
			CMT:               cand.window.Upper,
			Grade:             cand.grade,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].RMS > results[j].RMS })

	prediction := PredictionNoMatch
	var matched *candidate
	switch {
	case len(certain) == 1:
		prediction = PredictionMatch
		matched = &certain[0]
	case len(certain) > 1:
		if algo.Context.IncludeMultipleMatches {
			sort.Slice(certain, func(i, j int) bool { return certain[i].better(certain[j]) })
			prediction = PredictionMatch
			matched = &certain[0]
		}
		// Multiple certain matches without include_multiple_matches is
		// ambiguous; treat as possible and leave resolution to review.
		if matched == nil {
			prediction = PredictionPossibleMatch
		}
	case len(possible) > 0:
		prediction = PredictionPossibleMatch
	}

	var person *mpi.Person
	if matched != nil {
		person = &mpi.Person{ID: matched.personID, ReferenceID: matched.personReferenceID}
	} else {
		created, err := e.repo.CreatePerson(ctx)
		if err != nil {
			return nil, fmt.Errorf("create person: %w", err)
		}
		person = created
	}

	patient, err := e.repo.InsertPatient(ctx, record, &person.ID, extPatientID, extPersonID, nil)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}

	resp := &LinkResponse{
		Prediction:         prediction,
		PatientReferenceID: patient.ReferenceID,
		Results:            results,
	}
	if prediction == PredictionMatch {
		ref := person.ReferenceID
		resp.PersonReferenceID = &ref
	}
	if resp.Results == nil {
		resp.Results = []PersonResult{}
	}
	return resp, nil
}
