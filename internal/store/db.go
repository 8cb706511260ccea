// Package store implements the persistence layer: the per-mode rankings and
// top-plays SQLite stores, the subscriptions store, schema migrations, and
// maintenance. Each store owns one database file, one connection, and one
// mutex; all multi-statement writes run inside a transaction.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// OpenDB opens (or creates) a SQLite database at path with the recommended
// pragmas: WAL journal mode, synchronous=NORMAL, foreign_keys=ON,
// busy_timeout=5000. The parent directory is created if missing.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: exec %q on %s: %w", p, path, err)
		}
	}

	return db, nil
}

// fileWriteTime returns the newest mtime across the database file set
// (base file plus WAL/SHM sidecars; under WAL mode fresh writes land in the
// sidecar first).
func fileWriteTime(basePath string) (time.Time, error) {
	paths := []string{basePath, basePath + "-wal", basePath + "-shm"}
	var newest time.Time
	var seen bool
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return time.Time{}, fmt.Errorf("store: stat %s: %w", p, err)
		}
		seen = true
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	if !seen {
		return time.Time{}, fmt.Errorf("store: no database files at %s", basePath)
	}
	return newest, nil
}

// maintain reclaims space and refreshes planner statistics. Callers hold the
// store mutex.
func maintain(db *sql.DB) error {
	if _, err := db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("store: vacuum: %w", err)
	}
	if _, err := db.Exec("ANALYZE"); err != nil {
		return fmt.Errorf("store: analyze: %w", err)
	}
	return nil
}
