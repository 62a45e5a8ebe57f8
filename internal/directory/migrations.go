package directory

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one versioned schema change.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Migrator applies embedded SQL migrations and tracks them in schema_migrations.
// TECHNICAL DISCOVERY: File-based migrations keep schema history in version
// control; embedding them keeps the binary self-contained
type Migrator struct {
	db    *sql.DB
	files fs.FS
}

// NewMigrator creates a migrator over the embedded migration set.
func NewMigrator(db *sql.DB) *Migrator {
	sub, _ := fs.Sub(migrationFiles, "migrations")
	return &Migrator{db: db, files: sub}
}

// Apply runs every pending migration in version order and returns the
// versions it applied.
func (m *Migrator) Apply(ctx context.Context) ([]string, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return nil, fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}

	var ran []string
	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.apply(ctx, migration); err != nil {
			return ran, fmt.Errorf("failed to apply migration %s (%s): %w", migration.Version, migration.Description, err)
		}
		ran = append(ran, migration.Version)
	}
	return ran, nil
}

// Load reads the migration set sorted by version. File names follow
// "<version>_<description>.sql".
func (m *Migrator) Load() ([]Migration, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.files, name)
		if err != nil {
			return nil, err
		}
		version, description, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// FUNCTIONAL DISCOVERY: Transaction isolation ensures migration atomicity
func (m *Migrator) apply(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidateSchema verifies the tables and indexes the store depends on.
func (m *Migrator) ValidateSchema(ctx context.Context) error {
	required := []struct{ kind, name string }{
		{"table", "schema_migrations"},
		{"table", "friendships"},
		{"table", "group_members"},
		{"index", "idx_group_members_user"},
	}
	for _, obj := range required {
		var count int
		err := m.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
			obj.kind, obj.name,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check %s %s: %w", obj.kind, obj.name, err)
		}
		if count == 0 {
			return fmt.Errorf("%w: missing %s %s", ErrSchemaInvalid, obj.kind, obj.name)
		}
	}
	return nil
}
