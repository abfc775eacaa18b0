// Package database keeps the call log in a local SQLite file.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// FileName is the database file created inside the data directory.
const FileName = "callagent.db"

// pragmas applied to every connection. Turn writes for concurrent calls
// queue on busy_timeout rather than failing with SQLITE_BUSY, and
// foreign_keys enables the call_turns cascade.
var pragmas = []string{
	"journal_mode(wal)",
	"busy_timeout(5000)",
	"foreign_keys(on)",
	"synchronous(normal)",
}

// DB is the call log connection.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the call log in dataDir and brings its
// schema up to date.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, FileName)

	sqlDB, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening call log: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging call log: %w", err)
	}

	// One connection serializes writers; turn inserts are small and brief.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB}
	applied, err := db.migrate()
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating call log: %w", err)
	}

	slog.Info("call log opened", "path", dbPath, "migrations_applied", applied)
	return db, nil
}

func dsn(dbPath string) string {
	var b strings.Builder
	b.WriteString("file:")
	b.WriteString(dbPath)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// migrate applies every embedded migration not yet recorded in
// schema_migrations, in file name order, and returns how many it applied.
func (db *DB) migrate() (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}

	done, err := db.appliedVersions()
	if err != nil {
		return 0, err
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("listing migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		version := strings.TrimSuffix(name, ".sql")
		if done[version] {
			continue
		}
		if err := db.apply(version, path.Join("migrations", name)); err != nil {
			return applied, err
		}
		applied++
		slog.Info("applied migration", "version", version)
	}
	return applied, nil
}

func (db *DB) appliedVersions() (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

// apply runs one migration file and records it in the same transaction.
func (db *DB) apply(version, file string) error {
	script, err := migrationsFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", version, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migration %s: %w", version, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(string(script)); err != nil {
		return fmt.Errorf("executing migration %s: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %s: %w", version, err)
	}
	return nil
}
