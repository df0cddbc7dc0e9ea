package mpi

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/CDCgov/RecordLinker-sub000/internal/platform/db"
	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

// Service wraps the MPI repository with request-level semantics: validation,
// transaction boundaries, and seed orchestration.
type Service struct {
	repo   Repository
	inTx   db.TxRunner
	logger zerolog.Logger
}

func NewService(repo Repository, inTx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, inTx: inTx, logger: logger}
}

// Repo exposes the underlying repository for collaborators (the link engine
// reads block data through it inside its own transaction).
func (s *Service) Repo() Repository { return s.repo }

// Seed loads pre-clustered records: one new Person per cluster, all records
// bulk-inserted beneath it. The whole request is one transaction; either
// every cluster lands or none do.
func (s *Service) Seed(ctx context.Context, group *ClusterGroup) (*PersonGroup, error) {
	if len(group.Clusters) == 0 {
		return nil, fmt.Errorf("%w: clusters must not be empty", ErrValidation)
	}
	if len(group.Clusters) > MaxSeedClusters {
		return nil, fmt.Errorf("%w: at most %d clusters per request, got %d",
			ErrValidation, MaxSeedClusters, len(group.Clusters))
	}
	for i, cluster := range group.Clusters {
		if len(cluster.Records) == 0 {
			return nil, fmt.Errorf("%w: cluster %d has no records", ErrValidation, i)
		}
	}

	out := &PersonGroup{}
	err := s.inTx(ctx, pgx.ReadCommitted, func(ctx context.Context) error {
		for _, cluster := range group.Clusters {
			person, err := s.repo.CreatePerson(ctx)
			if err != nil {
				return err
			}
			for i := range cluster.Records {
				cluster.Records[i].Normalize()
			}
			patients, err := s.repo.BulkInsertPatients(ctx, cluster.Records, &person.ID, cluster.ExternalPersonID, nil)
			if err != nil {
				return err
			}
			seeded := SeededPerson{
				PersonReferenceID: person.ReferenceID,
				ExternalPersonID:  cluster.ExternalPersonID,
			}
			for _, p := range patients {
				seeded.Patients = append(seeded.Patients, SeededPatient{
					PatientReferenceID: p.ReferenceID,
					ExternalPatientID:  p.ExternalPatientID,
				})
			}
			out.Persons = append(out.Persons, seeded)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("clusters", len(out.Persons)).Msg("seeded clusters")
	return out, nil
}

// GetPerson resolves a person by reference id.
func (s *Service) GetPerson(ctx context.Context, ref uuid.UUID) (*Person, error) {
	return s.repo.GetPersonByReference(ctx, ref)
}

// GetPatient resolves a patient by reference id.
func (s *Service) GetPatient(ctx context.Context, ref uuid.UUID) (*Patient, error) {
	return s.repo.GetPatientByReference(ctx, ref)
}

// DeletePatient removes a patient observation; its blocking values cascade.
func (s *Service) DeletePatient(ctx context.Context, ref uuid.UUID) error {
	p, err := s.repo.GetPatientByReference(ctx, ref)
	if err != nil {
		return err
	}
	return s.repo.DeletePatient(ctx, p.ID)
}

// DeletePerson removes a person cluster; ErrConflict when patients remain.
func (s *Service) DeletePerson(ctx context.Context, ref uuid.UUID) error {
	person, err := s.repo.GetPersonByReference(ctx, ref)
	if err != nil {
		return err
	}
	return s.repo.DeletePersons(ctx, []int64{person.ID})
}

// MovePatients reattaches patients (by reference id) to the given person, or
// to a fresh person when personRef is nil. Returns the destination person.
func (s *Service) MovePatients(ctx context.Context, patientRefs []uuid.UUID, personRef *uuid.UUID) (*Person, error) {
	if len(patientRefs) == 0 {
		return nil, fmt.Errorf("%w: no patients given", ErrValidation)
	}
	var person *Person
	err := s.inTx(ctx, pgx.ReadCommitted, func(ctx context.Context) error {
		var ids []int64
		for _, ref := range patientRefs {
			p, err := s.repo.GetPatientByReference(ctx, ref)
			if err != nil {
				return err
			}
			ids = append(ids, p.ID)
		}
		var dest *Person
		if personRef != nil {
			existing, err := s.repo.GetPersonByReference(ctx, *personRef)
			if err != nil {
				return err
			}
			dest = existing
		}
		moved, err := s.repo.UpdatePersonCluster(ctx, ids, dest)
		if err != nil {
			return err
		}
		person = moved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

// UpdatePatient replaces a patient's PII payload and external id, rewriting
// its blocking values in the same transaction.
func (s *Service) UpdatePatient(ctx context.Context, ref uuid.UUID, record *pii.Record, extPatientID *string) (*Patient, error) {
	if record == nil && extPatientID == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	var patient *Patient
	err := s.inTx(ctx, pgx.ReadCommitted, func(ctx context.Context) error {
		p, err := s.repo.GetPatientByReference(ctx, ref)
		if err != nil {
			return err
		}
		if record != nil {
			record.Normalize()
		}
		if err := s.repo.UpdatePatient(ctx, p, record, nil, extPatientID); err != nil {
			return err
		}
		patient = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return patient, nil
}

// Orphans pages orphaned patients by reference id.
func (s *Service) Orphans(ctx context.Context, limit int, cursor *uuid.UUID) ([]*Patient, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.repo.GetOrphanedPatients(ctx, limit, cursor)
}

// Reset wipes the index. Guarded behind an admin route.
func (s *Service) Reset(ctx context.Context) error {
	s.logger.Warn().Msg("resetting MPI")
	return s.repo.Reset(ctx)
}
