// Package algorithm stores user-managed linkage configurations: ordered
// passes of blocking keys and evaluators, skip values, log-odds weights, and
// the advanced thresholds the matching engine reads. Configurations are
// validated in full before any write; the engine assumes a loaded Algorithm
// is well-formed.
package algorithm

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

var (
	ErrNotFound   = errors.New("algorithm not found")
	ErrConflict   = errors.New("algorithm conflict")
	ErrValidation = errors.New("algorithm validation failed")
)

var labelPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// EvaluatorFunc is the closed set of comparison functions. Config strings
// are validated against this set at write time, never resolved lazily.
type EvaluatorFunc string

const (
	FuncExactMatchAny      EvaluatorFunc = "EXACT_MATCH_ANY"
	FuncExactMatchAll      EvaluatorFunc = "EXACT_MATCH_ALL"
	FuncFuzzyMatch         EvaluatorFunc = "FUZZY_MATCH"
	FuncProbabilisticExact EvaluatorFunc = "COMPARE_PROBABILISTIC_EXACT_MATCH"
	FuncProbabilisticFuzzy EvaluatorFunc = "COMPARE_PROBABILISTIC_FUZZY_MATCH"
)

func (f EvaluatorFunc) valid() bool {
	switch f {
	case FuncExactMatchAny, FuncExactMatchAll, FuncFuzzyMatch,
		FuncProbabilisticExact, FuncProbabilisticFuzzy:
		return true
	}
	return false
}

// Probabilistic reports whether the function weights its result by a
// log-odds entry for the feature.
func (f EvaluatorFunc) Probabilistic() bool {
	return f == FuncProbabilisticExact || f == FuncProbabilisticFuzzy
}

// Fuzzy reports whether the function compares values by string similarity.
func (f EvaluatorFunc) Fuzzy() bool {
	return f == FuncFuzzyMatch || f == FuncProbabilisticFuzzy
}

// SimilarityMeasure names a normalized string-similarity function.
type SimilarityMeasure string

const (
	MeasureJaroWinkler        SimilarityMeasure = "JaroWinkler"
	MeasureLevenshtein        SimilarityMeasure = "Levenshtein"
	MeasureDamerauLevenshtein SimilarityMeasure = "DamerauLevenshtein"
)

func (m SimilarityMeasure) valid() bool {
	switch m {
	case MeasureJaroWinkler, MeasureLevenshtein, MeasureDamerauLevenshtein:
		return true
	}
	return false
}

// Defaults applied when a fuzzy evaluator omits them.
const (
	DefaultFuzzyThreshold = 0.9
	DefaultFuzzyMeasure   = MeasureJaroWinkler
)

// Evaluator is one per-feature comparison within a pass.
type Evaluator struct {
	Feature             pii.Feature        `json:"feature"`
	Func                EvaluatorFunc      `json:"func"`
	FuzzyMatchThreshold *float64           `json:"fuzzy_match_threshold,omitempty"`
	FuzzyMatchMeasure   *SimilarityMeasure `json:"fuzzy_match_measure,omitempty"`
}

// Threshold returns the configured fuzzy threshold or the default.
func (e Evaluator) Threshold() float64 {
	if e.FuzzyMatchThreshold != nil {
		return *e.FuzzyMatchThreshold
	}
	return DefaultFuzzyThreshold
}

// Measure returns the configured similarity measure or the default.
func (e Evaluator) Measure() SimilarityMeasure {
	if e.FuzzyMatchMeasure != nil {
		return *e.FuzzyMatchMeasure
	}
	return DefaultFuzzyMeasure
}

// Window is a possible-match band: scores in [Lower, Upper) are possible
// matches, scores in [Upper, 1] are certain.
type Window struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func (w Window) validate() error {
	if w.Lower < 0 || w.Upper > 1 || w.Lower > w.Upper {
		return fmt.Errorf("%w: possible_match_window must satisfy 0 <= lower <= upper <= 1, got (%g, %g)",
			ErrValidation, w.Lower, w.Upper)
	}
	return nil
}

// Pass is one blocking-plus-evaluation stage of an algorithm.
type Pass struct {
	BlockingKeys        []pii.BlockingKey `json:"blocking_keys"`
	Evaluators          []Evaluator       `json:"evaluators"`
	PossibleMatchWindow Window            `json:"possible_match_window"`
	Kwargs              map[string]any    `json:"kwargs,omitempty"`
}

// SkipValue scrubs incoming records before matching: any value of Feature
// matching one of the case-insensitive globs is treated as absent.
type SkipValue struct {
	// Feature is a parseable feature name or "*" for all features.
	Feature string   `json:"feature"`
	Values  []string `json:"values"`
}

// Advanced carries the tunable engine thresholds.
type Advanced struct {
	// MaxMissingAllowedProportion bounds how many of a pass's blocking keys
	// may be underivable before the pass is skipped.
	MaxMissingAllowedProportion float64 `json:"max_missing_allowed_proportion"`
	// MissingFieldPointsProportion is the fraction of a feature's log-odds
	// granted when both sides are silent on the feature.
	MissingFieldPointsProportion float64 `json:"missing_field_points_proportion"`
}

// DefaultAdvanced are the thresholds used when a config omits them.
func DefaultAdvanced() Advanced {
	return Advanced{
		MaxMissingAllowedProportion:  0.5,
		MissingFieldPointsProportion: 0.5,
	}
}

// Context is the pass-independent part of an algorithm configuration.
type Context struct {
	IncludeMultipleMatches bool               `json:"include_multiple_matches"`
	SkipValues             []SkipValue        `json:"skip_values,omitempty"`
	LogOdds                map[string]float64 `json:"log_odds,omitempty"`
	Advanced               Advanced           `json:"advanced"`
}

// Algorithm is a named, user-managed linkage configuration. At most one
// algorithm is the default at any time (DB-enforced).
type Algorithm struct {
	ID          int64   `json:"-"`
	Label       string  `json:"label"`
	Description *string `json:"description,omitempty"`
	IsDefault   bool    `json:"is_default"`
	Context     Context `json:"algorithm_context"`
	Passes      []Pass  `json:"passes"`
}

// LogOddsFor looks up the weight for a feature, falling back from the typed
// form (IDENTIFIER:MR) to the bare attribute.
func (a *Algorithm) LogOddsFor(f pii.Feature) (float64, bool) {
	if v, ok := a.Context.LogOdds[f.String()]; ok {
		return v, true
	}
	if f.Suffix != "" {
		v, ok := a.Context.LogOdds[f.Attribute]
		return v, ok
	}
	return 0, false
}

// Validate checks the whole configuration. It is called before every write;
// the matching engine relies on loaded algorithms having passed it.
func (a *Algorithm) Validate() error {
	if !labelPattern.MatchString(a.Label) {
		return fmt.Errorf("%w: label %q must be a lowercase hyphenated slug", ErrValidation, a.Label)
	}
	if len(a.Passes) == 0 {
		return fmt.Errorf("%w: at least one pass is required", ErrValidation)
	}
	adv := a.Context.Advanced
	if adv.MaxMissingAllowedProportion < 0 || adv.MaxMissingAllowedProportion > 1 {
		return fmt.Errorf("%w: max_missing_allowed_proportion must be in [0,1]", ErrValidation)
	}
	if adv.MissingFieldPointsProportion < 0 || adv.MissingFieldPointsProportion > 1 {
		return fmt.Errorf("%w: missing_field_points_proportion must be in [0,1]", ErrValidation)
	}
	for _, sv := range a.Context.SkipValues {
		if sv.Feature != "*" {
			if _, err := pii.ParseFeature(sv.Feature); err != nil {
				return fmt.Errorf("%w: skip value feature: %v", ErrValidation, err)
			}
		}
		if len(sv.Values) == 0 {
			return fmt.Errorf("%w: skip value for %q has no patterns", ErrValidation, sv.Feature)
		}
	}
	for f := range a.Context.LogOdds {
		if _, err := pii.ParseFeature(f); err != nil {
			return fmt.Errorf("%w: log_odds feature: %v", ErrValidation, err)
		}
	}
	for i, pass := range a.Passes {
		if err := a.validatePass(i, pass); err != nil {
			return err
		}
	}
	return nil
}

func (a *Algorithm) validatePass(i int, pass Pass) error {
	if len(pass.BlockingKeys) == 0 {
		return fmt.Errorf("%w: pass %d has no blocking keys", ErrValidation, i)
	}
	for _, k := range pass.BlockingKeys {
		if !k.Valid() {
			return fmt.Errorf("%w: pass %d: unknown blocking key %d", ErrValidation, i, int(k))
		}
	}
	if len(pass.Evaluators) == 0 {
		return fmt.Errorf("%w: pass %d has no evaluators", ErrValidation, i)
	}
	if err := pass.PossibleMatchWindow.validate(); err != nil {
		return fmt.Errorf("pass %d: %w", i, err)
	}
	for _, ev := range pass.Evaluators {
		if _, err := pii.ParseFeature(ev.Feature.String()); err != nil {
			return fmt.Errorf("%w: pass %d: %v", ErrValidation, i, err)
		}
		if !ev.Func.valid() {
			return fmt.Errorf("%w: pass %d: unknown evaluator func %q", ErrValidation, i, ev.Func)
		}
		if ev.Func.Fuzzy() {
			t := ev.Threshold()
			if t <= 0 || t > 1 {
				return fmt.Errorf("%w: pass %d: fuzzy_match_threshold must be in (0,1], got %g",
					ErrValidation, i, t)
			}
			if !ev.Measure().valid() {
				return fmt.Errorf("%w: pass %d: unknown similarity measure %q",
					ErrValidation, i, ev.Measure())
			}
		}
		// Probabilistic evaluators fail here, at config load, when their
		// feature has no weight; the engine never checks at compare time.
		if ev.Func.Probabilistic() {
			if _, ok := a.LogOddsFor(ev.Feature); !ok {
				return fmt.Errorf("%w: pass %d: no log_odds entry for feature %s",
					ErrValidation, i, ev.Feature)
			}
		}
	}
	return nil
}
