package mpi

import (
	"context"

	"github.com/google/uuid"

	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

// Repository is the persistence contract for the MPI. Implementations must
// honor context-scoped transactions (db.TxFromContext) so that a link request
// reads candidates and writes its patient atomically.
type Repository interface {
	CreatePerson(ctx context.Context) (*Person, error)
	GetPersonByReference(ctx context.Context, ref uuid.UUID) (*Person, error)
	// DeletePersons removes persons that have no attached patients; it
	// returns ErrConflict if any still do.
	DeletePersons(ctx context.Context, personIDs []int64) error

	// InsertPatient writes a patient row plus its blocking values in one
	// batch. A nil personID leaves the patient orphaned.
	InsertPatient(ctx context.Context, record *pii.Record, personID *int64, extPatientID, extPersonID, extPersonSource *string) (*Patient, error)
	// BulkInsertPatients inserts records in input order and returns the
	// created patients in the same order.
	BulkInsertPatients(ctx context.Context, records []*pii.Record, personID *int64, extPersonID, extPersonSource *string) ([]*Patient, error)
	// UpdatePatient rewrites mutable patient fields. A non-nil record
	// replaces the PII payload and rewrites the blocking values.
	UpdatePatient(ctx context.Context, patient *Patient, record *pii.Record, personID *int64, extPatientID *string) error
	GetPatientByReference(ctx context.Context, ref uuid.UUID) (*Patient, error)
	DeletePatient(ctx context.Context, id int64) error

	// UpdatePersonCluster attaches all given patients to person, creating a
	// new person when person is nil. Persons emptied as a side effect are
	// left in place.
	UpdatePersonCluster(ctx context.Context, patientIDs []int64, person *Person) (*Person, error)
	// UpdatePatientPersonIDs reattaches every patient under any of the old
	// person ids to person.
	UpdatePatientPersonIDs(ctx context.Context, person *Person, oldPersonIDs []int64) error

	// GetOrphanedPatients pages patients with no person, ordered by
	// reference id; cursor is exclusive.
	GetOrphanedPatients(ctx context.Context, limit int, cursor *uuid.UUID) ([]*Patient, error)

	// GetBlockData returns, for the given non-missing blocking values, all
	// patients attached to any person that has at least one fully-agreeing
	// patient — including sibling patients that are merely silent on some
	// keys. Patients that actively disagree on a key, and orphans, are
	// never returned.
	GetBlockData(ctx context.Context, vals map[pii.BlockingKey][]string) ([]*Patient, error)

	// BlockingValuesForPatient reads the stored index rows for one patient.
	BlockingValuesForPatient(ctx context.Context, patientID int64) ([]BlockingValue, error)

	// SampleTrueMatchPairs returns record pairs drawn from within person
	// clusters; SampleNonMatchPairs from across clusters. Read-only.
	SampleTrueMatchPairs(ctx context.Context, limit int) ([]RecordPair, error)
	SampleNonMatchPairs(ctx context.Context, limit int) ([]RecordPair, error)

	// Reset deletes all blocking values, patients, and persons.
	Reset(ctx context.Context) error
}
