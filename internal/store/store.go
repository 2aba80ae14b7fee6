package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound means the row does not exist. Connectivity and query errors
	// are returned as-is so callers can tell the two apart.
	ErrNotFound = errors.New("record not found")
	// ErrConflict means an optimistic status update lost a concurrent race.
	ErrConflict = errors.New("order version conflict")
	// ErrDuplicate means an insert violated a uniqueness constraint, such as
	// two orders racing to claim the same order hash. Never retried.
	ErrDuplicate = errors.New("duplicate record")
)

// constraintErr rewraps sqlite constraint violations so callers can tell a
// duplicate row from a connectivity failure.
func constraintErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// Store persists orders and fills in sqlite. One Store is constructed at
// process start and passed into every operation; it is never re-initialized
// mid-request.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection: sqlite serializes writers anyway, and a pool would give
	// every :memory: connection its own empty database.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			order_hash TEXT UNIQUE NOT NULL,
			src_chain INTEGER NOT NULL,
			destination_chain INTEGER NOT NULL,
			src_token_address TEXT NOT NULL,
			dst_token_address TEXT NOT NULL,
			maker_source_chain_address TEXT NOT NULL,
			maker_destination_chain_address TEXT NOT NULL,
			src_qty TEXT NOT NULL,
			dst_qty TEXT NOT NULL,
			status TEXT NOT NULL,
			base_gas_price TEXT NOT NULL DEFAULT '',
			gas_adjustment_factor TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			hash TEXT NOT NULL,
			status TEXT NOT NULL,
			deposit TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create fills table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_fills_order_id ON fills(order_id)`)
	if err != nil {
		return fmt.Errorf("create fills index: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
