package database

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrCorrupted marks persisted state that failed the startup integrity check.
// Callers must treat it as fatal rather than run on partial subscriber data.
var ErrCorrupted = errors.New("storage corrupted")

// ErrThresholdOutOfRange marks a threshold outside the configured bounds, so
// the front-end can tell user input apart from storage failures.
var ErrThresholdOutOfRange = errors.New("threshold out of range")

// Store is the durable subscription store backed by a single sqlite file.
// All per-user mutations run inside transactions on a single connection, so a
// command handler and the alert engine can never interleave into a corrupted
// record.
type Store struct {
	db           *sql.DB
	path         string
	minThreshold float64
	maxThreshold float64
}

type Options struct {
	MinThreshold float64
	MaxThreshold float64
}

func Open(dbPath string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// A single connection serializes writers and avoids SQLITE_BUSY between
	// the engine and command handlers.
	db.SetMaxOpenConns(1)

	var result string
	if err := db.QueryRow(`PRAGMA integrity_check;`).Scan(&result); err != nil || result != "ok" {
		db.Close()
		if err != nil {
			return nil, errors.Wrapf(ErrCorrupted, "integrity check failed: %v", err)
		}
		return nil, errors.Wrapf(ErrCorrupted, "integrity check returned %q", result)
	}

	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		chat_id INTEGER PRIMARY KEY,
		default_currency TEXT NOT NULL DEFAULT 'usd',
		notifications INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(createUsers); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create users table")
	}

	createSubscriptions := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		chat_id INTEGER NOT NULL,
		coin TEXT NOT NULL,
		currency TEXT NOT NULL,
		threshold REAL NOT NULL,
		reference_price REAL NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (chat_id, coin, currency)
	);`
	if _, err := db.Exec(createSubscriptions); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create subscriptions table")
	}

	createMetrics := `
	CREATE TABLE IF NOT EXISTS metrics (
		metric_name TEXT PRIMARY KEY,
		metric_value REAL NOT NULL
	);`
	if _, err := db.Exec(createMetrics); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create metrics table")
	}

	if opts.MaxThreshold <= 0 {
		opts.MinThreshold = 0.001
		opts.MaxThreshold = 0.5
	}

	log.Debug("database initialized")
	return &Store{
		db:           db,
		path:         dbPath,
		minThreshold: opts.MinThreshold,
		maxThreshold: opts.MaxThreshold,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ThresholdRange reports the inclusive bounds enforced on thresholds.
func (s *Store) ThresholdRange() (min, max float64) {
	return s.minThreshold, s.maxThreshold
}

// Backup writes a consistent snapshot of the whole store to backupPath.
func (s *Store) Backup(backupPath string) error {
	if _, err := os.Stat(backupPath); err == nil {
		return errors.Errorf("backup target %s already exists", backupPath)
	}
	// VACUUM INTO does not take bound parameters.
	target := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf(`VACUUM INTO '%s';`, target)); err != nil {
		return errors.Wrap(err, "failed to back up database")
	}
	log.Infof("database backed up to %s", backupPath)
	return nil
}

// Restore copies a backup file over the live database path verbatim.
// It must run before Open; restoring under an open store is not supported.
func Restore(dbPath, backupPath string) error {
	src, err := os.Open(backupPath)
	if err != nil {
		return errors.Wrap(err, "failed to open backup")
	}
	defer src.Close()

	dst, err := os.Create(dbPath)
	if err != nil {
		return errors.Wrap(err, "failed to create database file")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrap(err, "failed to restore backup")
	}
	return nil
}
