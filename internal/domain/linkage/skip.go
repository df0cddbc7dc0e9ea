package linkage

import (
	"path"
	"strings"

	"github.com/CDCgov/RecordLinker-sub000/internal/domain/algorithm"
	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

// CleanRecord returns a deep copy of record with every value matching a skip
// pattern blanked out. The original record is never mutated, and cleaning is
// idempotent: blanked values produce no canonical strings, so patterns cannot
// re-match them.
func CleanRecord(record *pii.Record, skips []algorithm.SkipValue) *pii.Record {
	out := record.Clone()
	if len(skips) == 0 {
		return out
	}
	for _, skip := range skips {
		if skip.Feature == "*" {
			for _, attr := range pii.Features() {
				clearMatching(out, pii.Feature{Attribute: attr}, skip.Values)
			}
			continue
		}
		// Validated at config load; unparseable features cannot reach here.
		f, err := pii.ParseFeature(skip.Feature)
		if err != nil {
			continue
		}
		clearMatching(out, f, skip.Values)
	}
	return out
}

// matchesAny reports whether the canonical (lowercased) value matches any of
// the case-insensitive glob patterns.
func matchesAny(value string, patterns []string) bool {
	if value == "" {
		return false
	}
	value = strings.ToLower(value)
	for _, p := range patterns {
		if ok, err := path.Match(strings.ToLower(p), value); err == nil && ok {
			return true
		}
	}
	return false
}

// clearMatching blanks out the atomic values of feature f that match any
// pattern, mirroring the canonical forms FieldIter emits.
func clearMatching(r *pii.Record, f pii.Feature, patterns []string) {
	switch f.Attribute {
	case pii.AttrBirthDate:
		if r.BirthDate != nil && matchesAny(r.BirthDate.String(), patterns) {
			r.BirthDate = nil
		}
	case pii.AttrSex:
		var canon string
		switch r.Sex {
		case pii.SexMale:
			canon = "m"
		case pii.SexFemale:
			canon = "f"
		case pii.SexUnknown:
			canon = "u"
		}
		if matchesAny(canon, patterns) {
			r.Sex = ""
		}
	case pii.AttrMRN:
		for i := range r.Identifiers {
			if r.Identifiers[i].Type == pii.IdentifierTypeMR && matchesAny(r.Identifiers[i].Value, patterns) {
				r.Identifiers[i].Value = ""
			}
		}
	case pii.AttrFirstName:
		for i := range r.Name {
			for j := range r.Name[i].Given {
				if matchesAny(r.Name[i].Given[j], patterns) {
					r.Name[i].Given[j] = ""
				}
			}
		}
	case pii.AttrGivenName:
		for i := range r.Name {
			joined := strings.Join(r.Name[i].Given, " ")
			if matchesAny(joined, patterns) {
				r.Name[i].Given = nil
			}
		}
	case pii.AttrLastName:
		for i := range r.Name {
			if matchesAny(r.Name[i].Family, patterns) {
				r.Name[i].Family = ""
			}
		}
	case pii.AttrName:
		for i := range r.Name {
			parts := append(append([]string(nil), r.Name[i].Given...), r.Name[i].Family)
			composed := strings.TrimSpace(strings.Join(parts, " "))
			if matchesAny(composed, patterns) {
				r.Name[i].Given = nil
				r.Name[i].Family = ""
			}
		}
	case pii.AttrSuffix:
		for i := range r.Name {
			for j := range r.Name[i].Suffix {
				if matchesAny(r.Name[i].Suffix[j], patterns) {
					r.Name[i].Suffix[j] = ""
				}
			}
		}
	case pii.AttrAddress:
		for i := range r.Address {
			if len(r.Address[i].Line) > 0 && matchesAny(r.Address[i].Line[0], patterns) {
				r.Address[i].Line[0] = ""
			}
		}
	case pii.AttrCity:
		for i := range r.Address {
			if matchesAny(r.Address[i].City, patterns) {
				r.Address[i].City = ""
			}
		}
	case pii.AttrState:
		for i := range r.Address {
			if matchesAny(r.Address[i].State, patterns) {
				r.Address[i].State = ""
			}
		}
	case pii.AttrZip:
		for i := range r.Address {
			zip := r.Address[i].PostalCode
			if len(zip) > 5 {
				zip = zip[:5]
			}
			if matchesAny(zip, patterns) {
				r.Address[i].PostalCode = ""
			}
		}
	case pii.AttrCounty:
		for i := range r.Address {
			if matchesAny(r.Address[i].County, patterns) {
				r.Address[i].County = ""
			}
		}
	case pii.AttrRace:
		var kept []string
		for _, race := range r.Race {
			if !matchesAny(race, patterns) {
				kept = append(kept, race)
			}
		}
		r.Race = kept
	case pii.AttrTelecom:
		for i := range r.Telecom {
			if matchesAny(r.Telecom[i].Value, patterns) {
				r.Telecom[i].Value = ""
			}
		}
	case pii.AttrPhone:
		for i := range r.Telecom {
			if r.Telecom[i].System == "phone" && matchesAny(r.Telecom[i].Value, patterns) {
				r.Telecom[i].Value = ""
			}
		}
	case pii.AttrEmail:
		for i := range r.Telecom {
			if r.Telecom[i].System == "email" && matchesAny(r.Telecom[i].Value, patterns) {
				r.Telecom[i].Value = ""
			}
		}
	case pii.AttrIdentifier:
		for i := range r.Identifiers {
			id := r.Identifiers[i]
			if f.Suffix != "" && id.Type != f.Suffix {
				continue
			}
			if id.Value == "" {
				continue
			}
			canon := id.Value + ":" + id.Authority + ":" + string(id.Type)
			if matchesAny(canon, patterns) {
				r.Identifiers[i].Value = ""
			}
		}
	}
}
