package linkage

import (
	"math"
	"testing"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
)

func approx(t *testing.T, got, want, tol float64, label string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %g, want %g (±%g)", label, got, want, tol)
	}
}

func TestJaroWinklerSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
		tol  float64
	}{
		{"", "", 0, 0},
		{"shepard", "", 0, 0},
		{"shepard", "shepard", 1, 0},
		{"SHEPARD", "shepard", 1, 0},
		{"martha", "marhta", 0.9611, 0.001},
		{"dwayne", "duane", 0.84, 0.001},
		{"dixon", "dicksonx", 0.8133, 0.001},
		{"john", "jon", 0.9333, 0.001},
		{"abc", "xyz", 0, 0},
	}
	for _, tt := range tests {
		approx(t, jaroWinklerSimilarity(tt.a, tt.b), tt.want, tt.tol,
			"jaroWinkler("+tt.a+","+tt.b+")")
	}
}

func TestLevenshteinSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"kitten", "kitten", 1},
		{"kitten", "sitting", 1 - 3.0/7.0},
		{"abc", "", 0},
		{"ab", "ba", 0}, // two substitutions over length 2
	}
	for _, tt := range tests {
		approx(t, levenshteinSimilarity(tt.a, tt.b), tt.want, 1e-9,
			"levenshtein("+tt.a+","+tt.b+")")
	}
}

func TestDamerauLevenshteinSimilarity(t *testing.T) {
	// A transposition counts as one edit, not two.
	approx(t, damerauLevenshteinSimilarity("ab", "ba"), 0.5, 1e-9, "damerau(ab,ba)")
	approx(t, damerauLevenshteinSimilarity("ca", "abc"), 0.0, 1e-9, "damerau(ca,abc)")
	approx(t, damerauLevenshteinSimilarity("same", "same"), 1, 1e-9, "damerau(same,same)")
}

func TestSimilarityBounds(t *testing.T) {
	pairs := [][2]string{
		{"alejandro", "aelxdrano"},
		{"villanueva", "villanueve"},
		{"a", "completely different"},
		{"", "x"},
	}
	funcs := map[string]similarityFunc{
		"jaroWinkler": jaroWinklerSimilarity,
		"levenshtein": levenshteinSimilarity,
		"damerau":     damerauLevenshteinSimilarity,
	}
	for name, f := range funcs {
		for _, p := range pairs {
			s := f(p[0], p[1])
			if s < 0 || s > 1 {
				t.Errorf("%s(%q, %q) = %g, out of [0,1]", name, p[0], p[1], s)
			}
		}
	}
}

func TestSimilarityFor(t *testing.T) {
	// Distinguishable on a transposition: JW and Damerau score "ab"/"ba"
	// differently from plain Levenshtein.
	lev := similarityFor(algorithm.MeasureLevenshtein)("ab", "ba")
	dam := similarityFor(algorithm.MeasureDamerauLevenshtein)("ab", "ba")
	if lev >= dam {
		t.Errorf("levenshtein %g should be below damerau %g on a transposition", lev, dam)
	}
	jw := similarityFor(algorithm.MeasureJaroWinkler)("martha", "marhta")
	approx(t, jw, 0.9611, 0.001, "similarityFor(JaroWinkler)")
}
