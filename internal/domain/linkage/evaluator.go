package linkage

import (
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

// Result is one evaluator outcome. Missing means both records were silent on
// the feature; the pass scorer decides what that is worth. Value is only
// meaningful when Missing is false.
type Result struct {
	Missing bool
	Value   float64
}

// evaluate runs one configured evaluator against a record pair. It is total
// for validated configs: every branch returns a Result, never panics.
// logOdds is the weight for the evaluator's feature (0 for deterministic
// functions, which ignore it).
func evaluate(ev algorithm.Evaluator, logOdds float64, a, b *pii.Record) Result {
	left := a.FieldIter(ev.Feature)
	right := b.FieldIter(ev.Feature)
	if len(left) == 0 && len(right) == 0 {
		return Result{Missing: true}
	}

	switch ev.Func {
	case algorithm.FuncExactMatchAny:
		if anyExact(left, right) {
			return Result{Value: 1}
		}
		return Result{Value: 0}

	case algorithm.FuncExactMatchAll:
		if multisetEqual(left, right) {
			return Result{Value: 1}
		}
		return Result{Value: 0}

	case algorithm.FuncFuzzyMatch:
		sim := similarityFor(ev.Measure())
		if maxSimilarity(left, right, sim) >= ev.Threshold() {
			return Result{Value: 1}
		}
		return Result{Value: 0}

	case algorithm.FuncProbabilisticExact:
		if anyExact(left, right) {
			return Result{Value: logOdds}
		}
		return Result{Value: 0}

	case algorithm.FuncProbabilisticFuzzy:
		sim := similarityFor(ev.Measure())
		best := maxSimilarity(left, right, sim)
		if best < ev.Threshold() {
			return Result{Value: 0}
		}
		return Result{Value: best * logOdds}
	}
	// Unreachable for validated configs.
	return Result{Value: 0}
}

// ExactAgreement reports whether feature f agrees exactly between two
// records. missing is true when both sides are silent on the feature; agree
// is only meaningful when missing is false. The tuning engine uses this to
// estimate per-feature agreement frequencies.
func ExactAgreement(a, b *pii.Record, f pii.Feature) (agree, missing bool) {
	left := a.FieldIter(f)
	right := b.FieldIter(f)
	if len(left) == 0 && len(right) == 0 {
		return false, true
	}
	return anyExact(left, right), false
}

func anyExact(left, right []string) bool {
	if len(left) == 0 || len(right) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(left))
	for _, v := range left {
		seen[v] = struct{}{}
	}
	for _, v := range right {
		if _, ok := seen[v]; ok {
			return true
		}
	}
	return false
}

func multisetEqual(left, right []string) bool {
	if len(left) != len(right) {
		return false
	}
	counts := make(map[string]int, len(left))
	for _, v := range left {
		counts[v]++
	}
	for _, v := range right {
		counts[v]--
		if counts[v] < 0 {
			return false
		}
	}
	return true
}

func maxSimilarity(left, right []string, sim similarityFunc) float64 {
	best := 0.0
	for _, a := range left {
		for _, b := range right {
			if s := sim(a, b); s > best {
				best = s
			}
		}
	}
	return best
}
