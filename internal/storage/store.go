// Package storage persists snapshots, account history, and the verification
// queue in SQLite.
package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	sqliteDriverName        = "sqlite"
	sqliteDSNOptions        = "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	migrationsDirectory     = "migrations"
	migrationTableName      = "schema_migrations"
	migrationFileSuffix     = ".sql"
	emptyPathErrorMessage   = "storage path is required"
	timestampStorageLayout  = time.RFC3339Nano
	openErrorFormat         = "open sqlite db: %w"
	pingErrorFormat         = "ping sqlite db: %w"
	migrationsErrorFormat   = "run migrations: %w"
	parseTimestampErrFormat = "parse stored timestamp %q: %w"
)

// Store wraps the SQLite handle behind the snapshot and verification DAOs.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(emptyPathErrorMessage)
	}

	dsn := filepath.Clean(path) + sqliteDSNOptions
	sqlDB, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf(openErrorFormat, err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf(pingErrorFormat, err)
	}
	if err := applyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf(migrationsErrorFormat, err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite handle.
func (store *Store) Close() error {
	if store == nil || store.sqlDB == nil {
		return nil
	}
	return store.sqlDB.Close()
}

// applyMigrations executes each embedded migration file at most once,
// tracked in a dedicated table.
func applyMigrations(sqlDB *sql.DB) error {
	entries, err := fs.ReadDir(migrationFS, migrationsDirectory)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), migrationFileSuffix) {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	createTableSQL := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, applied_at TEXT NOT NULL)",
		migrationTableName,
	)
	if _, err := sqlDB.Exec(createTableSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, fileName := range migrationFiles {
		var alreadyApplied int
		querySQL := fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE name = ?", migrationTableName)
		if err := sqlDB.QueryRow(querySQL, fileName).Scan(&alreadyApplied); err != nil {
			return fmt.Errorf("check migration %s: %w", fileName, err)
		}
		if alreadyApplied > 0 {
			continue
		}

		migrationSQL, err := fs.ReadFile(migrationFS, filepath.ToSlash(filepath.Join(migrationsDirectory, fileName)))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", fileName, err)
		}
		if _, err := sqlDB.Exec(string(migrationSQL)); err != nil {
			return fmt.Errorf("apply migration %s: %w", fileName, err)
		}
		recordSQL := fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES (?, ?)", migrationTableName)
		if _, err := sqlDB.Exec(recordSQL, fileName, formatTimestamp(time.Now())); err != nil {
			return fmt.Errorf("record migration %s: %w", fileName, err)
		}
	}
	return nil
}

func formatTimestamp(value time.Time) string {
	return value.UTC().Format(timestampStorageLayout)
}

func parseTimestamp(value string) (time.Time, error) {
	parsed, err := time.Parse(timestampStorageLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf(parseTimestampErrFormat, value, err)
	}
	return parsed.UTC(), nil
}
