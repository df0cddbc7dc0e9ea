package pii

import (
	"fmt"
	"strings"
)

var sexAliases = map[string]Sex{
	"m": SexMale, "male": SexMale,
	"f": SexFemale, "female": SexFemale,
	"u": SexUnknown, "unknown": SexUnknown,
	"other": SexUnknown, "o": SexUnknown,
}

// NormalizeSex maps common sex encodings onto the closed enum. An unset value
// stays unset: a record that never stated a sex must remain missing on the
// SEX feature, not fold to UNKNOWN. Unrecognized non-empty values fold to
// UNKNOWN rather than erroring; sex is never load-bearing enough to reject a
// record over.
func NormalizeSex(s string) Sex {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if sex, ok := sexAliases[s]; ok {
		return sex
	}
	return SexUnknown
}

var stateCodes = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY", "district of columbia": "DC",
	"puerto rico": "PR", "guam": "GU", "american samoa": "AS",
	"virgin islands": "VI", "northern mariana islands": "MP",
}

// NormalizeState resolves a state name to its two-letter code where possible.
// Already-two-letter inputs are uppercased and passed through; anything else
// unresolvable is returned trimmed as-is.
func NormalizeState(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 2 {
		return strings.ToUpper(s)
	}
	if code, ok := stateCodes[strings.ToLower(s)]; ok {
		return code
	}
	return s
}

// digitsOf returns only the digit characters of s.
func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeSSN reformats nine-digit SSN values to XXX-XX-XXXX. Values that do
// not contain exactly nine digits are returned trimmed but otherwise intact.
func normalizeSSN(v string) string {
	v = strings.TrimSpace(v)
	digits := digitsOf(v)
	if len(digits) == 9 {
		return fmt.Sprintf("%s-%s-%s", digits[0:3], digits[3:5], digits[5:9])
	}
	return v
}

// Normalize applies the canonicalization contracts in place: sex folding,
// identifier trimming and SSN reformatting, state code resolution. BirthDate
// is already canonical by construction (ParseDate). Normalize is idempotent.
func (r *Record) Normalize() {
	r.ExternalID = strings.TrimSpace(r.ExternalID)
	r.Sex = NormalizeSex(string(r.Sex))
	for i := range r.Name {
		r.Name[i].Family = strings.TrimSpace(r.Name[i].Family)
		for j := range r.Name[i].Given {
			r.Name[i].Given[j] = strings.TrimSpace(r.Name[i].Given[j])
		}
		for j := range r.Name[i].Suffix {
			r.Name[i].Suffix[j] = strings.TrimSpace(r.Name[i].Suffix[j])
		}
	}
	for i := range r.Address {
		a := &r.Address[i]
		for j := range a.Line {
			a.Line[j] = strings.TrimSpace(a.Line[j])
		}
		a.City = strings.TrimSpace(a.City)
		a.State = NormalizeState(a.State)
		a.PostalCode = strings.TrimSpace(a.PostalCode)
		a.County = strings.TrimSpace(a.County)
		a.Country = strings.TrimSpace(a.Country)
	}
	for i := range r.Telecom {
		r.Telecom[i].Value = strings.TrimSpace(r.Telecom[i].Value)
		r.Telecom[i].System = strings.ToLower(strings.TrimSpace(r.Telecom[i].System))
	}
	for i := range r.Identifiers {
		id := &r.Identifiers[i]
		id.Value = strings.TrimSpace(id.Value)
		id.Authority = strings.TrimSpace(id.Authority)
		id.Type = IdentifierType(strings.ToUpper(strings.TrimSpace(string(id.Type))))
		if id.Type == IdentifierTypeSS {
			id.Value = normalizeSSN(id.Value)
		}
	}
	for i := range r.Race {
		r.Race[i] = strings.TrimSpace(r.Race[i])
	}
}
