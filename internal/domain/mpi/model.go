// Package mpi owns the Master Patient Index: Person clusters, Patient
// observations, and the denormalized blocking values that drive candidate
// retrieval. All Patient and BlockingValue rows are written through this
// package; the matching engine never touches them directly.
package mpi

import (
	"errors"

	"github.com/google/uuid"

	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

var (
	// ErrNotFound is returned for unknown reference ids.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when deleting a Person that still has
	// attached Patients.
	ErrConflict = errors.New("conflict")
	// ErrValidation is returned for requests violating input constraints.
	ErrValidation = errors.New("validation failed")
)

// Person is a cluster identity. It exists only to group Patients; it carries
// no demographics of its own.
type Person struct {
	ID          int64     `json:"-"`
	ReferenceID uuid.UUID `json:"person_reference_id"`
}

// Patient is one canonicalized observation of an individual. A Patient with
// no Person is orphaned: permitted, but never returned as a link candidate.
type Patient struct {
	ID                   int64       `json:"-"`
	PersonID             *int64      `json:"-"`
	PersonReferenceID    *uuid.UUID  `json:"person_reference_id,omitempty"`
	ReferenceID          uuid.UUID   `json:"patient_reference_id"`
	Record               *pii.Record `json:"record,omitempty"`
	ExternalPatientID    *string     `json:"external_patient_id,omitempty"`
	ExternalPersonID     *string     `json:"external_person_id,omitempty"`
	ExternalPersonSource *string     `json:"external_person_source,omitempty"`
}

// BlockingValue is one (patient, key, value) triple in the blocking index.
type BlockingValue struct {
	PatientID int64
	Key       pii.BlockingKey
	Value     string
}

// BlockingValuesFor derives the full blocking-value set for a record across
// every enabled key. This is the invariant set the index must hold for a
// patient at all times.
func BlockingValuesFor(patientID int64, record *pii.Record) []BlockingValue {
	var out []BlockingValue
	for _, key := range pii.BlockingKeys() {
		for _, v := range record.BlockingValues(key) {
			out = append(out, BlockingValue{PatientID: patientID, Key: key, Value: v})
		}
	}
	return out
}

// Cluster is one seeded group of records to attach to a single new Person.
type Cluster struct {
	Records          []*pii.Record `json:"records"`
	ExternalPersonID *string       `json:"external_person_id,omitempty"`
}

// ClusterGroup is the payload of a seed request.
type ClusterGroup struct {
	Clusters []Cluster `json:"clusters"`
}

// MaxSeedClusters bounds one seed request.
const MaxSeedClusters = 100

// SeededPatient is one created patient in a seed response.
type SeededPatient struct {
	PatientReferenceID uuid.UUID `json:"patient_reference_id"`
	ExternalPatientID  *string   `json:"external_patient_id,omitempty"`
}

// SeededPerson is one created cluster in a seed response.
type SeededPerson struct {
	PersonReferenceID uuid.UUID       `json:"person_reference_id"`
	ExternalPersonID  *string         `json:"external_person_id,omitempty"`
	Patients          []SeededPatient `json:"patients"`
}

// PersonGroup is the seed response body.
type PersonGroup struct {
	Persons []SeededPerson `json:"persons"`
}

// RecordPair is a labeled pair of records used by the tuning engine.
type RecordPair [2]*pii.Record
