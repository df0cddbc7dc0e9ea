package linkage

import (
	"testing"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

func recordWithName(given, family string) *pii.Record {
	return &pii.Record{Name: []pii.Name{{Given: []string{given}, Family: family}}}
}

func feat(attr string) pii.Feature { return pii.Feature{Attribute: attr} }

func TestExactMatchAny(t *testing.T) {
	ev := algorithm.Evaluator{Feature: feat(pii.AttrFirstName), Func: algorithm.FuncExactMatchAny}

	a := &pii.Record{Name: []pii.Name{{Given: []string{"John", "Quincy"}}}}
	b := &pii.Record{Name: []pii.Name{{Given: []string{"Quincy"}}}}
	if res := evaluate(ev, 0, a, b); res.Missing || res.Value != 1 {
		t.Errorf("overlapping given names: %+v", res)
	}

	c := &pii.Record{Name: []pii.Name{{Given: []string{"Jane"}}}}
	if res := evaluate(ev, 0, a, c); res.Missing || res.Value != 0 {
		t.Errorf("disjoint given names: %+v", res)
	}
}

func TestExactMatchAll(t *testing.T) {
	ev := algorithm.Evaluator{Feature: feat(pii.AttrFirstName), Func: algorithm.FuncExactMatchAll}

	a := &pii.Record{Name: []pii.Name{{Given: []string{"John", "Quincy"}}}}
	b := &pii.Record{Name: []pii.Name{{Given: []string{"Quincy", "John"}}}}
	if res := evaluate(ev, 0, a, b); res.Value != 1 {
		t.Errorf("order-insensitive equality: %+v", res)
	}

	c := &pii.Record{Name: []pii.Name{{Given: []string{"John"}}}}
	if res := evaluate(ev, 0, a, c); res.Value != 0 {
		t.Errorf("subset is not equality: %+v", res)
	}
}

func TestFuzzyMatchThreshold(t *testing.T) {
	threshold := 0.9
	ev := algorithm.Evaluator{
		Feature:             feat(pii.AttrFirstName),
		Func:                algorithm.FuncFuzzyMatch,
		FuzzyMatchThreshold: &threshold,
	}

	// jaroWinkler("john", "jon") ≈ 0.933 ≥ 0.9
	if res := evaluate(ev, 0, recordWithName("John", "X"), recordWithName("Jon", "X")); res.Value != 1 {
		t.Errorf("jon/john above threshold: %+v", res)
	}
	if res := evaluate(ev, 0, recordWithName("John", "X"), recordWithName("Mary", "X")); res.Value != 0 {
		t.Errorf("john/mary below threshold: %+v", res)
	}
}

func TestProbabilisticExact(t *testing.T) {
	ev := algorithm.Evaluator{Feature: feat(pii.AttrLastName), Func: algorithm.FuncProbabilisticExact}
	logOdds := 6.35

	if res := evaluate(ev, logOdds, recordWithName("A", "Shepard"), recordWithName("B", "Shepard")); res.Value != logOdds {
		t.Errorf("agreeing family: %+v", res)
	}
	if res := evaluate(ev, logOdds, recordWithName("A", "Shepard"), recordWithName("B", "Smith")); res.Value != 0 {
		t.Errorf("disagreeing family: %+v", res)
	}
}

func TestProbabilisticFuzzyScalesByMaxSimilarity(t *testing.T) {
	ev := algorithm.Evaluator{Feature: feat(pii.AttrFirstName), Func: algorithm.FuncProbabilisticFuzzy}
	logOdds := 6.85

	res := evaluate(ev, logOdds, recordWithName("John", "X"), recordWithName("Jon", "X"))
	if res.Missing {
		t.Fatal("unexpected missing")
	}
	sim := jaroWinklerSimilarity("john", "jon")
	if want := sim * logOdds; res.Value != want {
		t.Errorf("Value = %g, want %g", res.Value, want)
	}

	// Below threshold scores zero, not a scaled similarity.
	res = evaluate(ev, logOdds, recordWithName("John", "X"), recordWithName("Wilhelmina", "X"))
	if res.Value != 0 {
		t.Errorf("below-threshold value = %g, want 0", res.Value)
	}
}

func TestMissingOnBothSides(t *testing.T) {
	ev := algorithm.Evaluator{Feature: feat(pii.AttrPhone), Func: algorithm.FuncProbabilisticExact}
	res := evaluate(ev, 3.0, &pii.Record{}, &pii.Record{})
	if !res.Missing {
		t.Errorf("both silent on PHONE should be Missing: %+v", res)
	}

	// One-sided absence is a disagreement, not missing.
	withPhone := &pii.Record{Telecom: []pii.Telecom{{Value: "4125550100", System: "phone"}}}
	res = evaluate(ev, 3.0, withPhone, &pii.Record{})
	if res.Missing || res.Value != 0 {
		t.Errorf("one-sided phone: %+v", res)
	}
}
