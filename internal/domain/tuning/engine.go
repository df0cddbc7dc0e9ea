package tuning

import (
	"math"
	"sort"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/linkage"
	"github.com/CDCgov/RecordLinker-sub000/internal/domain/mpi"
	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

// windowEpsilon nudges the recommended lower bound just under the weakest
// true-match score.
const windowEpsilon = 0.001

// calculableFeatures are the features whose agreement frequencies are
// estimated. GIVEN_NAME, NAME, and SUFFIX are composites of other features
// and would double-count.
func calculableFeatures() []pii.Feature {
	var out []pii.Feature
	for _, attr := range pii.Features() {
		switch attr {
		case pii.AttrGivenName, pii.AttrName, pii.AttrSuffix:
			continue
		}
		out = append(out, pii.Feature{Attribute: attr})
	}
	return out
}

// agreementProbs estimates, per feature, the probability of exact agreement
// across the labeled pairs, Laplace-smoothed so no probability is ever zero:
// p = (agreements + 1) / (pairs + 1). Pairs missing the feature on both
// sides count as disagreements (missing weight zero).
func agreementProbs(pairs []mpi.RecordPair) map[string]float64 {
	out := make(map[string]float64)
	for _, f := range calculableFeatures() {
		agreements := 0
		for _, pair := range pairs {
			agree, missing := linkage.ExactAgreement(pair[0], pair[1], f)
			if !missing && agree {
				agreements++
			}
		}
		out[f.String()] = float64(agreements+1) / float64(len(pairs)+1)
	}
	return out
}

// computeLogOdds derives per-feature weights from the two labeled classes:
// log_odds = ln(m/u), the evidence a feature agreement carries.
func computeLogOdds(trueMatches, nonMatches []mpi.RecordPair) (mProbs, uProbs, logOdds map[string]float64) {
	mProbs = agreementProbs(trueMatches)
	uProbs = agreementProbs(nonMatches)
	logOdds = make(map[string]float64, len(mProbs))
	for f, m := range mProbs {
		logOdds[f] = math.Log(m / uProbs[f])
	}
	return mProbs, uProbs, logOdds
}

// recommendWindow proposes a (lower, upper) band separating the two score
// distributions: lower sits at the stronger of the best non-match score and
// just under the weakest true-match score; upper at the first true-match
// score above lower. When the classes overlap completely, both bounds shrink
// toward the true-match median.
func recommendWindow(trueScores, nonScores []float64) algorithm.Window {
	trueSorted := append([]float64(nil), trueScores...)
	nonSorted := append([]float64(nil), nonScores...)
	sort.Float64s(trueSorted)
	sort.Float64s(nonSorted)

	lower := 0.0
	if len(nonSorted) > 0 {
		lower = nonSorted[len(nonSorted)-1]
	}
	if len(trueSorted) > 0 {
		if m := trueSorted[0] - windowEpsilon; m > lower {
			lower = m
		}
	}

	upper := lower
	found := false
	for _, s := range trueSorted {
		if s > lower {
			upper = s
			found = true
			break
		}
	}
	if !found && len(trueSorted) > 0 {
		mid := trueSorted[len(trueSorted)/2]
		if len(trueSorted)%2 == 0 {
			mid = (trueSorted[len(trueSorted)/2-1] + trueSorted[len(trueSorted)/2]) / 2
		}
		upper = mid
		if lower > upper {
			lower = upper
		}
	}

	return clampWindow(algorithm.Window{Lower: lower, Upper: upper})
}

func clampWindow(w algorithm.Window) algorithm.Window {
	if w.Lower < 0 {
		w.Lower = 0
	}
	if w.Upper > 1 {
		w.Upper = 1
	}
	if w.Lower > w.Upper {
		w.Lower = w.Upper
	}
	return w
}

// run executes the whole tuning computation: agreement frequencies, log-odds,
// and per-pass window recommendations for the given algorithm (nil skips
// recommendations).
func run(trueMatches, nonMatches []mpi.RecordPair, algo *algorithm.Algorithm) *Results {
	mProbs, uProbs, logOdds := computeLogOdds(trueMatches, nonMatches)
	results := &Results{
		MProbs:         mProbs,
		UProbs:         uProbs,
		LogOdds:        logOdds,
		TrueMatchPairs: len(trueMatches),
		NonMatchPairs:  len(nonMatches),
	}
	if algo == nil {
		return results
	}
	for i, pass := range algo.Passes {
		trueScores := make([]float64, 0, len(trueMatches))
		for _, pair := range trueMatches {
			trueScores = append(trueScores, linkage.ScorePair(pair[0], pair[1], pass, algo, logOdds))
		}
		nonScores := make([]float64, 0, len(nonMatches))
		for _, pair := range nonMatches {
			nonScores = append(nonScores, linkage.ScorePair(pair[0], pair[1], pass, algo, logOdds))
		}
		results.Recommendations = append(results.Recommendations, PassRecommendation{
			PassIndex: i,
			Window:    recommendWindow(trueScores, nonScores),
		})
	}
	return results
}
