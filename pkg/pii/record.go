// Package pii holds the canonical in-memory representation of patient
// demographics used by the matching pipeline. A Record is what gets stored in
// the patient data column, what evaluators compare, and what blocking keys are
// derived from. All derivation here is pure; nothing in this package touches
// the database.
package pii

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Sex is the normalized administrative sex of a record.
type Sex string

const (
	SexMale    Sex = "MALE"
	SexFemale  Sex = "FEMALE"
	SexUnknown Sex = "UNKNOWN"
)

// Date is a calendar date without a time component. The zero value means
// "not set".
type Date struct {
	Year  int
	Month int
	Day   int
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

// String renders the canonical YYYY-MM-DD form.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// dateLayouts are the accepted input formats, tried in order. The first is
// the canonical form.
var dateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

// ParseDate parses ISO and common locale date strings. Dates after today are
// rejected; a birth date in the future is always bad data.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.After(time.Now()) {
			return Date{}, fmt.Errorf("date %q is in the future", s)
		}
		return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, nil
	}
	return Date{}, fmt.Errorf("unparseable date %q", s)
}

// Name is a single name entry on a record.
type Name struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

// Address is a single address entry. Only the first line participates in
// matching; subsequent lines are informational.
type Address struct {
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postal_code,omitempty"`
	County     string   `json:"county,omitempty"`
	Country    string   `json:"country,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// Telecom is a phone number, email address, or similar contact point.
type Telecom struct {
	Value  string `json:"value,omitempty"`
	System string `json:"system,omitempty"`
	Use    string `json:"use,omitempty"`
}

// IdentifierType classifies an identifier (HL7 v2 table 0203 codes).
type IdentifierType string

const (
	IdentifierTypeMR  IdentifierType = "MR" // medical record number
	IdentifierTypeSS  IdentifierType = "SS" // social security number
	IdentifierTypeDL  IdentifierType = "DL" // driver's license
	IdentifierTypePPN IdentifierType = "PPN"
	IdentifierTypeMA  IdentifierType = "MA"
	IdentifierTypeMC  IdentifierType = "MC"
	IdentifierTypePI  IdentifierType = "PI"
	IdentifierTypeNI  IdentifierType = "NI"
)

// Identifier is a typed external identifier such as an MRN or SSN.
type Identifier struct {
	Type      IdentifierType `json:"type,omitempty"`
	Value     string         `json:"value,omitempty"`
	Authority string         `json:"authority,omitempty"`
}

// Record is the canonical PII payload for a patient observation. All fields
// are optional; multi-valued fields keep their input order.
type Record struct {
	ExternalID  string       `json:"external_id,omitempty"`
	BirthDate   *Date        `json:"birth_date,omitempty"`
	Sex         Sex          `json:"sex,omitempty"`
	Name        []Name       `json:"name,omitempty"`
	Address     []Address    `json:"address,omitempty"`
	Telecom     []Telecom    `json:"telecom,omitempty"`
	Identifiers []Identifier `json:"identifiers,omitempty"`
	Race        []string     `json:"race,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		ExternalID: r.ExternalID,
		Sex:        r.Sex,
	}
	if r.BirthDate != nil {
		bd := *r.BirthDate
		out.BirthDate = &bd
	}
	for _, n := range r.Name {
		out.Name = append(out.Name, Name{
			Family: n.Family,
			Given:  append([]string(nil), n.Given...),
			Suffix: append([]string(nil), n.Suffix...),
		})
	}
	for _, a := range r.Address {
		cp := a
		cp.Line = append([]string(nil), a.Line...)
		if a.Latitude != nil {
			lat := *a.Latitude
			cp.Latitude = &lat
		}
		if a.Longitude != nil {
			lon := *a.Longitude
			cp.Longitude = &lon
		}
		out.Address = append(out.Address, cp)
	}
	out.Telecom = append([]Telecom(nil), r.Telecom...)
	out.Identifiers = append([]Identifier(nil), r.Identifiers...)
	out.Race = append([]string(nil), r.Race...)
	return out
}
