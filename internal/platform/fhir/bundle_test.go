package fhir

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

const patientBundle = `{
	"resourceType": "Bundle",
	"entry": [
		{"resource": {"resourceType": "Observation", "id": "obs-1"}},
		{"resource": {
			"resourceType": "Patient",
			"id": "pat-1",
			"gender": "male",
			"birthDate": "1980-01-01",
			"name": [{"family": "Shepard", "given": ["John", "Q"], "suffix": ["Jr"]}],
			"address": [{
				"line": ["123 Main St", "Apt 4"],
				"city": "Pittsburgh", "state": "PA",
				"postalCode": "15935-1234", "district": "Allegheny"
			}],
			"telecom": [
				{"system": "phone", "value": "412-555-0100", "use": "home"},
				{"system": "email", "value": "john@example.com"}
			],
			"identifier": [{
				"type": {"coding": [{"code": "MR"}]},
				"value": "123456789",
				"assigner": {"display": "GENERAL HOSPITAL"}
			}]
		}}
	]
}`

func mustBundle(t *testing.T, raw string) map[string]any {
	t.Helper()
	var b map[string]any
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatalf("unmarshal bundle: %v", err)
	}
	return b
}

func TestBundleToRecord(t *testing.T) {
	record, err := BundleToRecord(mustBundle(t, patientBundle))
	if err != nil {
		t.Fatalf("BundleToRecord: %v", err)
	}
	if record.ExternalID != "pat-1" {
		t.Errorf("ExternalID = %q", record.ExternalID)
	}
	if record.Sex != pii.SexMale {
		t.Errorf("Sex = %q", record.Sex)
	}
	if record.BirthDate == nil || record.BirthDate.String() != "1980-01-01" {
		t.Errorf("BirthDate = %v", record.BirthDate)
	}
	if len(record.Name) != 1 || record.Name[0].Family != "Shepard" {
		t.Fatalf("Name = %+v", record.Name)
	}
	if len(record.Name[0].Given) != 2 || record.Name[0].Given[0] != "John" {
		t.Errorf("Given = %v", record.Name[0].Given)
	}
	if len(record.Address) != 1 || record.Address[0].County != "Allegheny" {
		t.Errorf("Address = %+v", record.Address)
	}
	if len(record.Address[0].Line) != 2 {
		t.Errorf("Line = %v", record.Address[0].Line)
	}
	if len(record.Telecom) != 2 || record.Telecom[1].System != "email" {
		t.Errorf("Telecom = %+v", record.Telecom)
	}
	if len(record.Identifiers) != 1 {
		t.Fatalf("Identifiers = %+v", record.Identifiers)
	}
	id := record.Identifiers[0]
	if id.Type != pii.IdentifierTypeMR || id.Value != "123456789" || id.Authority != "GENERAL HOSPITAL" {
		t.Errorf("Identifier = %+v", id)
	}
}

func TestBundleToRecordBarePatient(t *testing.T) {
	raw := `{"resourceType": "Patient", "id": "p1", "gender": "female"}`
	record, err := BundleToRecord(mustBundle(t, raw))
	if err != nil {
		t.Fatalf("BundleToRecord: %v", err)
	}
	if record.ExternalID != "p1" || record.Sex != pii.SexFemale {
		t.Errorf("record = %+v", record)
	}
}

func TestBundleToRecordNoPatient(t *testing.T) {
	raw := `{"resourceType": "Bundle", "entry": [{"resource": {"resourceType": "Observation"}}]}`
	_, err := BundleToRecord(mustBundle(t, raw))
	if !errors.Is(err, ErrNoPatientResource) {
		t.Errorf("err = %v, want ErrNoPatientResource", err)
	}

	if _, err := BundleToRecord(nil); !errors.Is(err, ErrNoPatientResource) {
		t.Errorf("nil bundle: err = %v, want ErrNoPatientResource", err)
	}
}
