// Package linkage implements the probabilistic matching engine: string
// similarity, per-feature evaluators, skip-value cleaning, multi-pass
// scoring with cluster aggregation, and the link operation itself.
package linkage

import (
	"strings"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
)

// similarityFunc computes a normalized similarity in [0, 1].
type similarityFunc func(a, b string) float64

// similarityFor resolves a measure to its function. Measures are validated
// at config load; an unknown value here falls back to Jaro-Winkler.
func similarityFor(m algorithm.SimilarityMeasure) similarityFunc {
	switch m {
	case algorithm.MeasureLevenshtein:
		return levenshteinSimilarity
	case algorithm.MeasureDamerauLevenshtein:
		return damerauLevenshteinSimilarity
	default:
		return jaroWinklerSimilarity
	}
}

// jaroWinklerSimilarity computes the Jaro-Winkler similarity between two
// strings (case-insensitive). Returns a value between 0.0 and 1.0.
func jaroWinklerSimilarity(s1, s2 string) float64 {
	s1 = strings.ToLower(s1)
	s2 = strings.ToLower(s2)

	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}
	if s1 == s2 {
		return 1.0
	}

	s1Len := len(s1)
	s2Len := len(s2)

	maxDist := s1Len
	if s2Len > maxDist {
		maxDist = s2Len
	}
	maxDist = maxDist/2 - 1
	if maxDist < 0 {
		maxDist = 0
	}

	s1Matches := make([]bool, s1Len)
	s2Matches := make([]bool, s2Len)

	matches := 0
	transpositions := 0

	for i := 0; i < s1Len; i++ {
		start := i - maxDist
		if start < 0 {
			start = 0
		}
		end := i + maxDist + 1
		if end > s2Len {
			end = s2Len
		}

		for j := start; j < end; j++ {
			if s2Matches[j] || s1[i] != s2[j] {
				continue
			}
			s1Matches[i] = true
			s2Matches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	k := 0
	for i := 0; i < s1Len; i++ {
		if !s1Matches[i] {
			continue
		}
		for !s2Matches[k] {
			k++
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}

	jaro := (float64(matches)/float64(s1Len) +
		float64(matches)/float64(s2Len) +
		float64(matches-transpositions/2)/float64(matches)) / 3.0

	// Winkler adjustment: boost for common prefix (up to 4 chars).
	prefixLen := 0
	maxPrefix := 4
	if s1Len < maxPrefix {
		maxPrefix = s1Len
	}
	if s2Len < maxPrefix {
		maxPrefix = s2Len
	}
	for i := 0; i < maxPrefix; i++ {
		if s1[i] == s2[i] {
			prefixLen++
		} else {
			break
		}
	}

	return jaro + float64(prefixLen)*0.1*(1.0-jaro)
}

// levenshteinSimilarity normalizes edit distance by the longer length.
func levenshteinSimilarity(s1, s2 string) float64 {
	s1 = strings.ToLower(s1)
	s2 = strings.ToLower(s2)
	if s1 == s2 {
		return 1.0
	}
	longest := len(s1)
	if len(s2) > longest {
		longest = len(s2)
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshteinDistance(s1, s2))/float64(longest)
}

func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}

// damerauLevenshteinSimilarity additionally counts adjacent transpositions
// as a single edit (the restricted, optimal-string-alignment variant).
func damerauLevenshteinSimilarity(s1, s2 string) float64 {
	s1 = strings.ToLower(s1)
	s2 = strings.ToLower(s2)
	if s1 == s2 {
		return 1.0
	}
	longest := len(s1)
	if len(s2) > longest {
		longest = len(s2)
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(damerauLevenshteinDistance(s1, s2))/float64(longest)
}

func damerauLevenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	rows := len(s1) + 1
	cols := len(s2) + 1
	d := make([][]int, rows)
	for i := range d {
		d[i] = make([]int, cols)
		d[i][0] = i
	}
	for j := 0; j < cols; j++ {
		d[0][j] = j
	}

	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			d[i][j] = min3(d[i][j-1]+1, d[i-1][j]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && s1[i-1] == s2[j-2] && s1[i-2] == s2[j-1] {
				if t := d[i-2][j-2] + 1; t < d[i][j] {
					d[i][j] = t
				}
			}
		}
	}
	return d[rows-1][cols-1]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
