package mpi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CDCgov/RecordLinker-sub000/internal/platform/db"
	"github.com/CDCgov/RecordLinker-sub000/pkg/pii"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the PostgreSQL-backed MPI repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, person_id, reference_id, data,
	external_patient_id, external_person_id, external_person_source`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var data []byte
	err := row.Scan(&p.ID, &p.PersonID, &p.ReferenceID, &data,
		&p.ExternalPatientID, &p.ExternalPersonID, &p.ExternalPersonSource)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(data) > 0 {
		p.Record = &pii.Record{}
		if err := json.Unmarshal(data, p.Record); err != nil {
			return nil, fmt.Errorf("decode patient %d data: %w", p.ID, err)
		}
	}
	return &p, nil
}

// -- Persons --

func (r *repoPG) CreatePerson(ctx context.Context) (*Person, error) {
	p := &Person{ReferenceID: uuid.New()}
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO mpi_person (reference_id) VALUES ($1) RETURNING id`,
		p.ReferenceID).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("insert person: %w", err)
	}
	return p, nil
}

func (r *repoPG) GetPersonByReference(ctx context.Context, ref uuid.UUID) (*Person, error) {
	var p Person
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, reference_id FROM mpi_person WHERE reference_id = $1`, ref).
		Scan(&p.ID, &p.ReferenceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) DeletePersons(ctx context.Context, personIDs []int64) error {
	var attached int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM mpi_patient WHERE person_id = ANY($1)`, personIDs).Scan(&attached)
	if err != nil {
		return err
	}
	if attached > 0 {
		return fmt.Errorf("%w: %d patients still attached", ErrConflict, attached)
	}
	_, err = r.conn(ctx).Exec(ctx, `DELETE FROM mpi_person WHERE id = ANY($1)`, personIDs)
	return err
}

// -- Patients --

func (r *repoPG) InsertPatient(ctx context.Context, record *pii.Record, personID *int64, extPatientID, extPersonID, extPersonSource *string) (*Patient, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	p := &Patient{
		PersonID:             personID,
		ReferenceID:          uuid.New(),
		Record:               record,
		ExternalPatientID:    extPatientID,
		ExternalPersonID:     extPersonID,
		ExternalPersonSource: extPersonSource,
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO mpi_patient (person_id, reference_id, data,
			external_patient_id, external_person_id, external_person_source)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		personID, p.ReferenceID, data, extPatientID, extPersonID, extPersonSource).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}

	if err := r.insertBlockingValues(ctx, p.ID, record); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) BulkInsertPatients(ctx context.Context, records []*pii.Record, personID *int64, extPersonID, extPersonSource *string) ([]*Patient, error) {
	patients := make([]*Patient, 0, len(records))
	for _, record := range records {
		p, err := r.InsertPatient(ctx, record, personID, nil, extPersonID, extPersonSource)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, nil
}

// insertBlockingValues writes the full derived index for one patient in a
// single statement.
func (r *repoPG) insertBlockingValues(ctx context.Context, patientID int64, record *pii.Record) error {
	values := BlockingValuesFor(patientID, record)
	if len(values) == 0 {
		return nil
	}
	keys := make([]int16, len(values))
	vals := make([]string, len(values))
	for i, bv := range values {
		keys[i] = int16(bv.Key)
		vals[i] = bv.Value
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO mpi_blocking_value (patient_id, blockingkey, value)
		SELECT $1, k, v FROM unnest($2::smallint[], $3::text[]) AS t(k, v)`,
		patientID, keys, vals)
	if err != nil {
		return fmt.Errorf("insert blocking values: %w", err)
	}
	return nil
}

func (r *repoPG) UpdatePatient(ctx context.Context, patient *Patient, record *pii.Record, personID *int64, extPatientID *string) error {
	if record != nil {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE mpi_patient SET data = $2 WHERE id = $1`, patient.ID, data); err != nil {
			return err
		}
		// The index must always equal the derived set; rewrite it whole.
		if _, err := r.conn(ctx).Exec(ctx,
			`DELETE FROM mpi_blocking_value WHERE patient_id = $1`, patient.ID); err != nil {
			return err
		}
		if err := r.insertBlockingValues(ctx, patient.ID, record); err != nil {
			return err
		}
		patient.Record = record
	}
	if personID != nil {
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE mpi_patient SET person_id = $2 WHERE id = $1`, patient.ID, *personID); err != nil {
			return err
		}
		patient.PersonID = personID
	}
	if extPatientID != nil {
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE mpi_patient SET external_patient_id = $2 WHERE id = $1`, patient.ID, *extPatientID); err != nil {
			return err
		}
		patient.ExternalPatientID = extPatientID
	}
	return nil
}

func (r *repoPG) GetPatientByReference(ctx context.Context, ref uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM mpi_patient WHERE reference_id = $1`, ref))
}

func (r *repoPG) DeletePatient(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM mpi_patient WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Cluster moves --

func (r *repoPG) UpdatePersonCluster(ctx context.Context, patientIDs []int64, person *Person) (*Person, error) {
	if person == nil {
		created, err := r.CreatePerson(ctx)
		if err != nil {
			return nil, err
		}
		person = created
	}
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE mpi_patient SET person_id = $1 WHERE id = ANY($2)`, person.ID, patientIDs)
	if err != nil {
		return nil, fmt.Errorf("move patients to person %d: %w", person.ID, err)
	}
	return person, nil
}

func (r *repoPG) UpdatePatientPersonIDs(ctx context.Context, person *Person, oldPersonIDs []int64) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE mpi_patient SET person_id = $1 WHERE person_id = ANY($2)`, person.ID, oldPersonIDs)
	return err
}

// -- Orphans --

func (r *repoPG) GetOrphanedPatients(ctx context.Context, limit int, cursor *uuid.UUID) ([]*Patient, error) {
	query := `SELECT ` + patientCols + ` FROM mpi_patient WHERE person_id IS NULL`
	args := []interface{}{}
	if cursor != nil {
		query += ` AND reference_id > $1 ORDER BY reference_id LIMIT $2`
		args = append(args, *cursor, limit)
	} else {
		query += ` ORDER BY reference_id LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// -- Block data --

// GetBlockData runs the two-step candidate retrieval: first the persons with
// at least one patient agreeing on every supplied key, then every patient of
// those persons that agrees on each key or is silent on it.
func (r *repoPG) GetBlockData(ctx context.Context, vals map[pii.BlockingKey][]string) ([]*Patient, error) {
	if len(vals) == 0 {
		return nil, nil
	}

	// Stable key order keeps the generated SQL deterministic.
	keys := make([]pii.BlockingKey, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var (
		personConds  []string
		patientConds []string
		args         []interface{}
	)
	for _, k := range keys {
		keyArg := len(args) + 1
		valArg := len(args) + 2
		args = append(args, int16(k), vals[k])
		personConds = append(personConds, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM mpi_blocking_value b WHERE b.patient_id = pt.id AND b.blockingkey = $%d AND b.value = ANY($%d))`,
			keyArg, valArg))
		patientConds = append(patientConds, fmt.Sprintf(
			`(NOT EXISTS (SELECT 1 FROM mpi_blocking_value b WHERE b.patient_id = pt.id AND b.blockingkey = $%d)
			  OR EXISTS (SELECT 1 FROM mpi_blocking_value b WHERE b.patient_id = pt.id AND b.blockingkey = $%d AND b.value = ANY($%d)))`,
			keyArg, keyArg, valArg))
	}

	query := fmt.Sprintf(`
		WITH blocked_persons AS (
			SELECT DISTINCT pt.person_id
			FROM mpi_patient pt
			WHERE pt.person_id IS NOT NULL AND %s
		)
		SELECT pt.id, pt.person_id, per.reference_id, pt.reference_id, pt.data,
			pt.external_patient_id, pt.external_person_id, pt.external_person_source
		FROM mpi_patient pt
		JOIN mpi_person per ON per.id = pt.person_id
		WHERE pt.person_id IN (SELECT person_id FROM blocked_persons)
		  AND %s
		ORDER BY pt.person_id, pt.id`,
		strings.Join(personConds, " AND "),
		strings.Join(patientConds, " AND "))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("block data query: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		var p Patient
		var personRef uuid.UUID
		var data []byte
		if err := rows.Scan(&p.ID, &p.PersonID, &personRef, &p.ReferenceID, &data,
			&p.ExternalPatientID, &p.ExternalPersonID, &p.ExternalPersonSource); err != nil {
			return nil, err
		}
		p.PersonReferenceID = &personRef
		if len(data) > 0 {
			p.Record = &pii.Record{}
			if err := json.Unmarshal(data, p.Record); err != nil {
				return nil, fmt.Errorf("decode patient %d data: %w", p.ID, err)
			}
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *repoPG) BlockingValuesForPatient(ctx context.Context, patientID int64) ([]BlockingValue, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT patient_id, blockingkey, value FROM mpi_blocking_value WHERE patient_id = $1 ORDER BY blockingkey, value`,
		patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlockingValue
	for rows.Next() {
		var bv BlockingValue
		var key int16
		if err := rows.Scan(&bv.PatientID, &key, &bv.Value); err != nil {
			return nil, err
		}
		bv.Key = pii.BlockingKey(key)
		out = append(out, bv)
	}
	return out, rows.Err()
}

// -- Tuning samples --

func (r *repoPG) samplePairs(ctx context.Context, query string, limit int) ([]RecordPair, error) {
	rows, err := r.conn(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecordPair
	for rows.Next() {
		var da, db []byte
		if err := rows.Scan(&da, &db); err != nil {
			return nil, err
		}
		var pair RecordPair
		pair[0], pair[1] = &pii.Record{}, &pii.Record{}
		if err := json.Unmarshal(da, pair[0]); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(db, pair[1]); err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}

func (r *repoPG) SampleTrueMatchPairs(ctx context.Context, limit int) ([]RecordPair, error) {
	return r.samplePairs(ctx, `
		SELECT a.data, b.data
		FROM mpi_patient a
		JOIN mpi_patient b ON a.person_id = b.person_id AND a.id < b.id
		WHERE a.person_id IS NOT NULL
		ORDER BY random() LIMIT $1`, limit)
}

func (r *repoPG) SampleNonMatchPairs(ctx context.Context, limit int) ([]RecordPair, error) {
	return r.samplePairs(ctx, `
		SELECT a.data, b.data
		FROM mpi_patient a
		JOIN mpi_patient b ON a.person_id <> b.person_id AND a.id < b.id
		WHERE a.person_id IS NOT NULL AND b.person_id IS NOT NULL
		ORDER BY random() LIMIT $1`, limit)
}

// -- Reset --

func (r *repoPG) Reset(ctx context.Context) error {
	_, err := r.conn(ctx).Exec(ctx,
		`TRUNCATE mpi_blocking_value, mpi_patient, mpi_person RESTART IDENTITY CASCADE`)
	return err
}
