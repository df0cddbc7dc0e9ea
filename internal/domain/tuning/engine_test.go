package tuning

import (
	"math"
	"testing"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/mpi"
	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

func named(given string) *pii.Record {
	return &pii.Record{Name: []pii.Name{{Given: []string{given}, Family: "X"}}}
}

func pair(a, b string) mpi.RecordPair {
	return mpi.RecordPair{named(a), named(b)}
}

// Six true-match pairs with 5 first-name agreements; six non-match pairs
// with 1 agreement. Laplace smoothing gives m = 6/7, u = 2/7, and
// log_odds = ln(3) ≈ 1.0986.
func labeledPairs() (trueMatches, nonMatches []mpi.RecordPair) {
	trueMatches = []mpi.RecordPair{
		pair("alice", "alice"),
		pair("bob", "bob"),
		pair("carol", "carol"),
		pair("dan", "dan"),
		pair("erin", "erin"),
		pair("frank", "francis"),
	}
	nonMatches = []mpi.RecordPair{
		pair("alice", "bob"),
		pair("carol", "dan"),
		pair("erin", "frank"),
		pair("grace", "heidi"),
		pair("ivan", "judy"),
		pair("mallory", "mallory"),
	}
	return trueMatches, nonMatches
}

func TestComputeLogOdds(t *testing.T) {
	trueMatches, nonMatches := labeledPairs()
	mProbs, uProbs, logOdds := computeLogOdds(trueMatches, nonMatches)

	if got, want := mProbs["FIRST_NAME"], 6.0/7.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("m_prob[FIRST_NAME] = %g, want %g", got, want)
	}
	if got, want := uProbs["FIRST_NAME"], 2.0/7.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("u_prob[FIRST_NAME] = %g, want %g", got, want)
	}
	if got := logOdds["FIRST_NAME"]; math.Abs(got-1.0986) > 0.001 {
		t.Errorf("log_odds[FIRST_NAME] = %g, want ≈1.0986", got)
	}
}

func TestComputeLogOddsSmoothingNeverZero(t *testing.T) {
	// All features silent on every pair: agreement 0, smoothed to 1/(n+1).
	trueMatches := []mpi.RecordPair{
		{&pii.Record{}, &pii.Record{}},
		{&pii.Record{}, &pii.Record{}},
	}
	mProbs, uProbs, logOdds := computeLogOdds(trueMatches, trueMatches)
	for f, m := range mProbs {
		if m <= 0 || uProbs[f] <= 0 {
			t.Errorf("probabilities for %s not smoothed: m=%g u=%g", f, m, uProbs[f])
		}
		if logOdds[f] != 0 {
			t.Errorf("identical classes should give zero log odds for %s, got %g", f, logOdds[f])
		}
	}
}

func TestCalculableFeaturesExcludeComposites(t *testing.T) {
	for _, f := range calculableFeatures() {
		switch f.Attribute {
		case pii.AttrGivenName, pii.AttrName, pii.AttrSuffix:
			t.Errorf("composite feature %s must not be calculable", f.Attribute)
		}
	}
}

func TestRecommendWindowSeparatedClasses(t *testing.T) {
	trueScores := []float64{0.85, 0.9, 0.95, 1.0}
	nonScores := []float64{0.1, 0.2, 0.4}

	w := recommendWindow(trueScores, nonScores)
	if w.Lower < 0 || w.Upper > 1 || w.Lower > w.Upper {
		t.Fatalf("window (%g, %g) out of bounds", w.Lower, w.Upper)
	}
	// Lower sits just under the weakest true match, above every non-match.
	if w.Lower <= 0.4 || w.Lower >= 0.85 {
		t.Errorf("lower = %g, want in (0.4, 0.85)", w.Lower)
	}
	if w.Upper < 0.85 || w.Upper > 1 {
		t.Errorf("upper = %g, want in [0.85, 1]", w.Upper)
	}
}

func TestRecommendWindowOverlappingClasses(t *testing.T) {
	// Complete overlap: every true score is at or below the best non-match.
	trueScores := []float64{0.5, 0.6, 0.7}
	nonScores := []float64{0.65, 0.7, 0.75}

	w := recommendWindow(trueScores, nonScores)
	if w.Lower < 0 || w.Upper > 1 || w.Lower > w.Upper {
		t.Errorf("window (%g, %g) out of bounds", w.Lower, w.Upper)
	}
}

func TestRunProducesRecommendationPerPass(t *testing.T) {
	trueMatches, nonMatches := labeledPairs()
	algo := &algorithm.Algorithm{
		Label: "tune-target",
		Context: algorithm.Context{
			LogOdds:  map[string]float64{"FIRST_NAME": 1.0},
			Advanced: algorithm.DefaultAdvanced(),
		},
		Passes: []algorithm.Pass{
			{
				BlockingKeys: []pii.BlockingKey{pii.BlockFirstName},
				Evaluators: []algorithm.Evaluator{
					{Feature: pii.Feature{Attribute: pii.AttrFirstName}, Func: algorithm.FuncProbabilisticExact},
				},
				PossibleMatchWindow: algorithm.Window{Lower: 0.5, Upper: 0.9},
			},
		},
	}

	results := run(trueMatches, nonMatches, algo)
	if results.TrueMatchPairs != 6 || results.NonMatchPairs != 6 {
		t.Errorf("pair counts = %d/%d", results.TrueMatchPairs, results.NonMatchPairs)
	}
	if len(results.Recommendations) != 1 {
		t.Fatalf("recommendations = %+v, want one", results.Recommendations)
	}
	rec := results.Recommendations[0]
	if rec.PassIndex != 0 {
		t.Errorf("pass index = %d", rec.PassIndex)
	}
	w := rec.Window
	if w.Lower < 0 || w.Upper > 1 || w.Lower > w.Upper {
		t.Errorf("window (%g, %g) violates 0 <= lower <= upper <= 1", w.Lower, w.Upper)
	}
}

func TestRunWithoutAlgorithm(t *testing.T) {
	trueMatches, nonMatches := labeledPairs()
	results := run(trueMatches, nonMatches, nil)
	if results.Recommendations != nil {
		t.Errorf("recommendations = %+v, want none", results.Recommendations)
	}
	if len(results.LogOdds) == 0 {
		t.Error("log odds missing")
	}
}
