// Package fhir adapts incoming FHIR payloads to the canonical PII record.
// Only the Patient resource is consumed; everything else in a bundle is
// ignored.
package fhir

import (
	"errors"
	"strings"

	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

// ErrNoPatientResource is returned when a bundle holds no Patient resource.
var ErrNoPatientResource = errors.New("bundle contains no Patient resource")

// BundleToRecord extracts the first Patient resource from a FHIR bundle and
// converts it. A bare Patient resource (resourceType "Patient" at the top
// level) is accepted too.
func BundleToRecord(bundle map[string]any) (*pii.Record, error) {
	if bundle == nil {
		return nil, ErrNoPatientResource
	}
	if str(bundle["resourceType"]) == "Patient" {
		return patientToRecord(bundle), nil
	}
	entries, _ := bundle["entry"].([]any)
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		resource, ok := entry["resource"].(map[string]any)
		if !ok {
			continue
		}
		if str(resource["resourceType"]) == "Patient" {
			return patientToRecord(resource), nil
		}
	}
	return nil, ErrNoPatientResource
}

func patientToRecord(patient map[string]any) *pii.Record {
	r := &pii.Record{
		ExternalID: str(patient["id"]),
		Sex:        pii.NormalizeSex(str(patient["gender"])),
	}
	if bd := str(patient["birthDate"]); bd != "" {
		if d, err := pii.ParseDate(bd); err == nil {
			r.BirthDate = &d
		}
	}
	for _, n := range list(patient["name"]) {
		name := pii.Name{Family: str(n["family"])}
		for _, g := range strList(n["given"]) {
			name.Given = append(name.Given, g)
		}
		for _, s := range strList(n["suffix"]) {
			name.Suffix = append(name.Suffix, s)
		}
		if name.Family != "" || len(name.Given) > 0 {
			r.Name = append(r.Name, name)
		}
	}
	for _, a := range list(patient["address"]) {
		addr := pii.Address{
			City:       str(a["city"]),
			State:      str(a["state"]),
			PostalCode: str(a["postalCode"]),
			Country:    str(a["country"]),
			County:     str(a["district"]),
		}
		addr.Line = append(addr.Line, strList(a["line"])...)
		r.Address = append(r.Address, addr)
	}
	for _, t := range list(patient["telecom"]) {
		tel := pii.Telecom{
			Value:  str(t["value"]),
			System: strings.ToLower(str(t["system"])),
			Use:    str(t["use"]),
		}
		if tel.Value != "" {
			r.Telecom = append(r.Telecom, tel)
		}
	}
	for _, id := range list(patient["identifier"]) {
		ident := pii.Identifier{Value: str(id["value"])}
		// assigner is usually a Reference object; accept a bare string too.
		switch assigner := id["assigner"].(type) {
		case string:
			ident.Authority = assigner
		case map[string]any:
			ident.Authority = str(assigner["display"])
		}
		if typ, ok := id["type"].(map[string]any); ok {
			for _, coding := range list(typ["coding"]) {
				if code := str(coding["code"]); code != "" {
					ident.Type = pii.IdentifierType(strings.ToUpper(code))
					break
				}
			}
		}
		if ident.Value != "" {
			r.Identifiers = append(r.Identifiers, ident)
		}
	}
	for _, ext := range list(patient["extension"]) {
		if str(ext["url"]) == "http://hl7.org/fhir/us/core/StructureDefinition/us-core-race" {
			for _, sub := range list(ext["extension"]) {
				if coding, ok := sub["valueCoding"].(map[string]any); ok {
					if display := str(coding["display"]); display != "" {
						r.Race = append(r.Race, display)
					}
				}
			}
		}
	}
	return r
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func list(v any) []map[string]any {
	raw, _ := v.([]any)
	var out []map[string]any
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func strList(v any) []string {
	raw, _ := v.([]any)
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
