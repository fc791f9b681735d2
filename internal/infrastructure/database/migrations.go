package database

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"time"
)

// Migration is one versioned schema change loaded from
// YYYYMMDD_HHMMSS_name.up.sql and its optional .down.sql.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	Name      string
	AppliedAt time.Time
}

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at INTEGER NOT NULL
)`

var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_(\w+)\.(up|down)\.sql$`)

// parseMigrationFilename splits "20260301_120000_transition_log.up.sql"
// into version "20260301_120000", name "transition_log" and direction.
func parseMigrationFilename(filename string) (version, name string, up, ok bool) {
	m := migrationFile.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false, false
	}
	return m[1], m[2], m[3] == "up", true
}

// LoadMigrations reads the migrations at the root of fsys, oldest first.
// Other files are ignored and a nil fsys has none.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("database: reading migrations: %w", err)
	}

	byVersion := map[string]*Migration{}
	get := func(version string) *Migration {
		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		return m
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, up, ok := parseMigrationFilename(e.Name())
		if !ok {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("database: reading %s: %w", e.Name(), err)
		}
		m := get(version)
		if !up {
			m.DownSQL = string(data)
			continue
		}
		if m.UpSQL != "" {
			return nil, fmt.Errorf("database: duplicate migration version %s", version)
		}
		m.Name, m.UpSQL = name, string(data)
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			return nil, fmt.Errorf("database: migration %s has no .up.sql", m.Version)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// MigrationStatus lists applied migrations and those in fsys still pending.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) (applied []MigrationRecord, pending []Migration, err error) {
	if _, err := db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return nil, nil, fmt.Errorf("database: creating schema_migrations: %w", err)
	}
	if applied, err = db.appliedMigrations(ctx); err != nil {
		return nil, nil, err
	}
	all, err := LoadMigrations(fsys)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range all {
		if !slices.ContainsFunc(applied, func(r MigrationRecord) bool { return r.Version == m.Version }) {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

// Migrate applies pending migrations oldest first, each in its own
// transaction. After a failure the earlier ones stay applied and the next
// run resumes at the failed one.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}
	for _, m := range pending {
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Name, time.Now().UnixMilli())
			return err
		})
		if err != nil {
			return fmt.Errorf("database: migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration, if any.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	applied, _, err := db.MigrationStatus(ctx, fsys)
	if err != nil || len(applied) == 0 {
		return err
	}
	latest := applied[len(applied)-1]

	all, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == latest.Version })
	switch {
	case i < 0:
		return fmt.Errorf("database: applied migration %s not in source", latest.Version)
	case all[i].DownSQL == "":
		return fmt.Errorf("database: migration %s has no .down.sql", latest.Version)
	}

	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, all[i].DownSQL); err != nil {
			return fmt.Errorf("database: reverting %s: %w", latest.Version, err)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", latest.Version)
		return err
	})
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("database: listing migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var ms int64
		if err := rows.Scan(&r.Version, &r.Name, &ms); err != nil {
			return nil, fmt.Errorf("database: scanning migration: %w", err)
		}
		r.AppliedAt = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// inTx runs fn in a transaction, committing when it returns nil.
func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck // fn's error wins
		return err
	}
	return tx.Commit()
}
