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

// Migration is one SQL file from the migrations directory.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus pairs a known migration with its applied state.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies NNN_name.sql files to a tenant schema in version order.
// Each schema tracks its own history in a _migrations table, so tenants
// onboarded at different times converge on the same version independently.
type Migrator struct {
	pool *pgxpool.Pool
	dir  string
}

func NewMigrator(pool *pgxpool.Pool, migrationsDir string) *Migrator {
	return &Migrator{pool: pool, dir: migrationsDir}
}

// LoadMigrations returns the directory's migrations sorted by version.
// Files without a numeric NNN_ prefix (notes, seed data) are ignored.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %s: %w", m.dir, err)
	}

	var out []Migration
	for _, entry := range entries {
		version, ok := migrationVersion(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		sql, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: entry.Name(), SQL: string(sql)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// migrationVersion extracts N from an "NNN_description.sql" filename.
func migrationVersion(name string) (int, bool) {
	if !strings.HasSuffix(name, ".sql") {
		return 0, false
	}
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Up applies every pending migration to the schema, each in its own
// transaction, and reports how many ran. A failure stops the run but
// leaves earlier migrations committed, so the error names exactly one file.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	migrations, applied, err := m.plan(ctx, schema)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		if err := m.runOne(ctx, schema, mig); err != nil {
			return ran, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		ran++
	}
	return ran, nil
}

// Status lists every known migration for the schema in version order,
// with applied timestamps where present.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	migrations, applied, err := m.plan(ctx, schema)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := applied[mig.Version]; ok {
			st.Applied = true
			appliedAt := at
			st.AppliedAt = &appliedAt
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// plan makes sure the history table exists, then returns the on-disk
// migrations alongside the versions already recorded for the schema.
func (m *Migrator) plan(ctx context.Context, schema string) ([]Migration, map[int]time.Time, error) {
	ddl := fmt.Sprintf(`SET search_path TO %s;
CREATE TABLE IF NOT EXISTS _migrations (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ DEFAULT NOW()
)`, schema)
	if _, err := m.pool.Exec(ctx, ddl); err != nil {
		return nil, nil, fmt.Errorf("create _migrations table in %s: %w", schema, err)
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, nil, err
	}

	rows, err := m.pool.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s._migrations", schema))
	if err != nil {
		return nil, nil, fmt.Errorf("query applied migrations in %s: %w", schema, err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = at
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate applied migrations: %w", err)
	}

	return migrations, applied, nil
}

// runOne executes one migration inside a transaction, with the tenant
// schema first on the search path, and records it in _migrations.
func (m *Migrator) runOne(ctx context.Context, schema string, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", schema)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO _migrations (version, name) VALUES ($1, $2)",
		mig.Version, mig.Name,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit(ctx)
}
