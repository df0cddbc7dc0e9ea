package pii

import (
	"fmt"
	"strings"
)

// Feature names a comparable attribute of a Record. IDENTIFIER may carry a
// typed suffix ("IDENTIFIER:MR") restricting it to one identifier type.
type Feature struct {
	Attribute string
	Suffix    IdentifierType // only set for IDENTIFIER
}

// Feature attributes.
const (
	AttrBirthDate  = "BIRTHDATE"
	AttrSex        = "SEX"
	AttrMRN        = "MRN"
	AttrFirstName  = "FIRST_NAME"
	AttrLastName   = "LAST_NAME"
	AttrAddress    = "ADDRESS"
	AttrCity       = "CITY"
	AttrState      = "STATE"
	AttrZip        = "ZIP"
	AttrGivenName  = "GIVEN_NAME"
	AttrName       = "NAME"
	AttrSuffix     = "SUFFIX"
	AttrCounty     = "COUNTY"
	AttrRace       = "RACE"
	AttrTelecom    = "TELECOM"
	AttrPhone      = "PHONE"
	AttrEmail      = "EMAIL"
	AttrIdentifier = "IDENTIFIER"
)

var featureAttributes = map[string]bool{
	AttrBirthDate: true, AttrSex: true, AttrMRN: true, AttrFirstName: true,
	AttrLastName: true, AttrAddress: true, AttrCity: true, AttrState: true,
	AttrZip: true, AttrGivenName: true, AttrName: true, AttrSuffix: true,
	AttrCounty: true, AttrRace: true, AttrTelecom: true, AttrPhone: true,
	AttrEmail: true, AttrIdentifier: true,
}

// Features returns every parseable feature attribute (without identifier
// suffixes), in a stable order.
func Features() []string {
	return []string{
		AttrBirthDate, AttrSex, AttrMRN, AttrFirstName, AttrLastName,
		AttrAddress, AttrCity, AttrState, AttrZip, AttrGivenName, AttrName,
		AttrSuffix, AttrCounty, AttrRace, AttrTelecom, AttrPhone, AttrEmail,
		AttrIdentifier,
	}
}

// ParseFeature parses "ATTRIBUTE" or "IDENTIFIER:SUFFIX". This is the single
// validation point for feature strings; configs are parsed through here at
// load time so evaluators never see an unknown feature.
func ParseFeature(s string) (Feature, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	attr, suffix, hasSuffix := strings.Cut(s, ":")
	if !featureAttributes[attr] {
		return Feature{}, fmt.Errorf("unknown feature %q", s)
	}
	f := Feature{Attribute: attr}
	if hasSuffix {
		if attr != AttrIdentifier {
			return Feature{}, fmt.Errorf("feature %q does not accept a suffix", attr)
		}
		if suffix == "" {
			return Feature{}, fmt.Errorf("empty identifier suffix in %q", s)
		}
		f.Suffix = IdentifierType(suffix)
	}
	return f, nil
}

// String renders the parseable form of the feature.
func (f Feature) String() string {
	if f.Suffix != "" {
		return f.Attribute + ":" + string(f.Suffix)
	}
	return f.Attribute
}

func (f Feature) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Feature) UnmarshalText(b []byte) error {
	parsed, err := ParseFeature(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// appendNonEmpty lowercases v and appends it unless empty.
func appendNonEmpty(out []string, v string) []string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return out
	}
	return append(out, v)
}

// identifierString is the canonical comparison form of an identifier:
// "<value>:<authority>:<type>". Skip-value patterns match against this too.
func identifierString(id Identifier) string {
	return fmt.Sprintf("%s:%s:%s", id.Value, id.Authority, id.Type)
}

// FieldIter yields the lowercased canonical string values for a feature, in
// input order. Empty strings are never yielded. For ADDRESS only the first
// line of each address participates.
func (r *Record) FieldIter(f Feature) []string {
	var out []string
	switch f.Attribute {
	case AttrBirthDate:
		if r.BirthDate != nil && !r.BirthDate.IsZero() {
			out = append(out, r.BirthDate.String())
		}
	case AttrSex:
		switch r.Sex {
		case SexMale:
			out = append(out, "m")
		case SexFemale:
			out = append(out, "f")
		case SexUnknown:
			out = append(out, "u")
		}
	case AttrMRN:
		for _, id := range r.Identifiers {
			if id.Type == IdentifierTypeMR {
				out = appendNonEmpty(out, id.Value)
			}
		}
	case AttrFirstName:
		for _, n := range r.Name {
			for _, g := range n.Given {
				out = appendNonEmpty(out, g)
			}
		}
	case AttrGivenName:
		for _, n := range r.Name {
			joined := strings.Join(n.Given, " ")
			out = appendNonEmpty(out, joined)
		}
	case AttrLastName:
		for _, n := range r.Name {
			out = appendNonEmpty(out, n.Family)
		}
	case AttrName:
		for _, n := range r.Name {
			parts := append(append([]string(nil), n.Given...), n.Family)
			composed := strings.TrimSpace(strings.Join(parts, " "))
			out = appendNonEmpty(out, composed)
		}
	case AttrSuffix:
		for _, n := range r.Name {
			for _, s := range n.Suffix {
				out = appendNonEmpty(out, s)
			}
		}
	case AttrAddress:
		for _, a := range r.Address {
			if len(a.Line) > 0 {
				out = appendNonEmpty(out, a.Line[0])
			}
		}
	case AttrCity:
		for _, a := range r.Address {
			out = appendNonEmpty(out, a.City)
		}
	case AttrState:
		for _, a := range r.Address {
			out = appendNonEmpty(out, a.State)
		}
	case AttrZip:
		for _, a := range r.Address {
			zip := a.PostalCode
			if len(zip) > 5 {
				zip = zip[:5]
			}
			out = appendNonEmpty(out, zip)
		}
	case AttrCounty:
		for _, a := range r.Address {
			out = appendNonEmpty(out, a.County)
		}
	case AttrRace:
		for _, race := range r.Race {
			out = appendNonEmpty(out, race)
		}
	case AttrTelecom:
		for _, t := range r.Telecom {
			out = appendNonEmpty(out, t.Value)
		}
	case AttrPhone:
		for _, t := range r.Telecom {
			if t.System == "phone" {
				out = appendNonEmpty(out, t.Value)
			}
		}
	case AttrEmail:
		for _, t := range r.Telecom {
			if t.System == "email" {
				out = appendNonEmpty(out, t.Value)
			}
		}
	case AttrIdentifier:
		for _, id := range r.Identifiers {
			if f.Suffix != "" && id.Type != f.Suffix {
				continue
			}
			if id.Value == "" {
				continue
			}
			out = appendNonEmpty(out, identifierString(id))
		}
	}
	return out
}
