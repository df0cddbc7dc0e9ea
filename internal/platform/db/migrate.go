package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is a single database migration loaded from a SQL file.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus reports whether a known migration has been applied.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator reads SQL migration files and applies them in version order. Each
// migration runs in its own transaction and is recorded in _migrations.
type Migrator struct {
	pool *pgxpool.Pool
	dir  string
}

func NewMigrator(pool *pgxpool.Pool, migrationsDir string) *Migrator {
	return &Migrator{pool: pool, dir: migrationsDir}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS _migrations (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("create _migrations table: %w", err)
	}
	return nil
}

// LoadMigrations reads all .sql files from the migrations directory, parsing
// the version from the filename prefix ("001_core.sql" -> 1). Files without a
// numeric prefix are skipped.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %s: %w", m.dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		content, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.pool.Query(ctx, `SELECT version, applied_at FROM _migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = at
	}
	return applied, rows.Err()
}

// Up applies all pending migrations in version order and returns the count of
// migrations applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO _migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}

// Status returns the applied/pending state of every known migration.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var statuses []MigrationStatus
	for _, mig := range migrations {
		status := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := applied[mig.Version]; ok {
			status.Applied = true
			appliedAt := at
			status.AppliedAt = &appliedAt
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
