// Package runstore persists a small record per controller run in SQLite.
// Writes merge into the run's existing record rather than replacing it.
package runstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Recognized record keys.
const (
	KeyCmdline    = "cmdline"
	KeyBastion    = "bastion"
	KeySaltmaster = "saltmaster"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is the SQLite-backed run record store.
type Store struct {
	db    *sql.DB
	runID string
}

// Open creates or opens the store at path and scopes it to runID.
func Open(path, runID string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, runID: runID}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Merge upserts the given pairs into this run's record. Existing keys are
// updated, other keys of the record are left untouched.
func (s *Store) Merge(ctx context.Context, pairs map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for k, v := range pairs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_records (run_id, key, value) VALUES (?, ?, ?)
			 ON CONFLICT (run_id, key) DO UPDATE SET value = excluded.value`,
			s.runID, k, v)
		if err != nil {
			return fmt.Errorf("merge run record %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// Get returns the value stored under key for this run, or "" when absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM run_records WHERE run_id = ? AND key = ?`, s.runID, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

func (s *Store) Close() error { return s.db.Close() }
