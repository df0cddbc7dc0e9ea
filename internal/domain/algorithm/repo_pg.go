package algorithm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CDCgov/RecordLinker-sub000/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the PostgreSQL-backed algorithm repository. Passes and
// context are embedded as jsonb; validation runs before any write.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const algorithmCols = `id, label, description, is_default, algorithm_context, passes`

func scanAlgorithm(row pgx.Row) (*Algorithm, error) {
	var a Algorithm
	var contextJSON, passesJSON []byte
	err := row.Scan(&a.ID, &a.Label, &a.Description, &a.IsDefault, &contextJSON, &passesJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(contextJSON, &a.Context); err != nil {
		return nil, fmt.Errorf("decode algorithm %q context: %w", a.Label, err)
	}
	if err := json.Unmarshal(passesJSON, &a.Passes); err != nil {
		return nil, fmt.Errorf("decode algorithm %q passes: %w", a.Label, err)
	}
	return &a, nil
}

func (r *repoPG) List(ctx context.Context) ([]*Algorithm, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+algorithmCols+` FROM algorithm ORDER BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Algorithm
	for rows.Next() {
		a, err := scanAlgorithm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repoPG) GetByLabel(ctx context.Context, label string) (*Algorithm, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+algorithmCols+` FROM algorithm WHERE label = $1`, label)
	return scanAlgorithm(row)
}

func (r *repoPG) GetDefault(ctx context.Context) (*Algorithm, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+algorithmCols+` FROM algorithm WHERE is_default`)
	return scanAlgorithm(row)
}

func (r *repoPG) Create(ctx context.Context, a *Algorithm) error {
	contextJSON, passesJSON, err := encode(a)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx,
		`INSERT INTO algorithm (label, description, is_default, algorithm_context, passes)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.Label, a.Description, a.IsDefault, contextJSON, passesJSON).Scan(&a.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: label %q already exists", ErrConflict, a.Label)
	}
	if err != nil {
		return fmt.Errorf("insert algorithm: %w", err)
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, a *Algorithm) error {
	contextJSON, passesJSON, err := encode(a)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE algorithm
		 SET description = $2, is_default = $3, algorithm_context = $4, passes = $5
		 WHERE label = $1`,
		a.Label, a.Description, a.IsDefault, contextJSON, passesJSON)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: another algorithm is already the default", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update algorithm: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, label string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM algorithm WHERE label = $1`, label)
	if err != nil {
		return fmt.Errorf("delete algorithm: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ClearDefault(ctx context.Context) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE algorithm SET is_default = false WHERE is_default`)
	return err
}

func encode(a *Algorithm) ([]byte, []byte, error) {
	contextJSON, err := json.Marshal(a.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("encode algorithm context: %w", err)
	}
	passesJSON, err := json.Marshal(a.Passes)
	if err != nil {
		return nil, nil, fmt.Errorf("encode algorithm passes: %w", err)
	}
	return contextJSON, passesJSON, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
