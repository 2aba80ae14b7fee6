package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"relayer/internal/order"
)

const fillColumns = `id, order_id, hash, status, deposit, created_at`

func (s *Store) InsertFill(ctx context.Context, f *order.Fill) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertFillTx(ctx, tx, f)
	})
}

// AttachFill inserts the fill and refreshes the owning order's materialized
// status in one transaction, so the stored status can never drift from the
// fill set it was computed over. The version CAS rejects concurrent writers.
func (s *Store) AttachFill(ctx context.Context, f *order.Fill, newStatus order.Status, orderID uuid.UUID, expectedVersion int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertFillTx(ctx, tx, f); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = ?, version = version + 1
			WHERE id = ? AND version = ?
		`, string(newStatus), orderID.String(), expectedVersion)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConflict
		}
		return nil
	})
}

func insertFillTx(ctx context.Context, tx *sql.Tx, f *order.Fill) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO fills (id, order_id, hash, status, deposit, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID.String(), f.OrderID.String(), f.Hash, string(f.Status), f.Deposit, f.CreatedAt)
	return constraintErr(err)
}

func (s *Store) GetFill(ctx context.Context, id uuid.UUID) (*order.Fill, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fillColumns+` FROM fills WHERE id = ?`, id.String())
	f, err := scanFill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// ListFillsByOrder returns an order's fills in creation order.
func (s *Store) ListFillsByOrder(ctx context.Context, orderID uuid.UUID) ([]order.Fill, error) {
	return s.queryFills(ctx, `
		SELECT `+fillColumns+` FROM fills WHERE order_id = ?
		ORDER BY created_at, rowid`, orderID.String())
}

func (s *Store) ListFillsByStatus(ctx context.Context, statuses ...order.FillStatus) ([]order.Fill, error) {
	if len(statuses) == 0 {
		return []order.Fill{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.queryFills(ctx, `
		SELECT `+fillColumns+` FROM fills WHERE status IN (`+placeholders+`)
		ORDER BY created_at, rowid`, args...)
}

// UpdateFillSecret overwrites the fill's commitment hash with the revealed
// secret. Only ready fills may be revealed; the orchestrator enforces that.
func (s *Store) UpdateFillSecret(ctx context.Context, id uuid.UUID, secret string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fills SET hash = ? WHERE id = ?`, secret, id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateFillStatus(ctx context.Context, id uuid.UUID, status order.FillStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fills SET status = ? WHERE id = ?`, string(status), id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFill(sc rowScanner) (*order.Fill, error) {
	var f order.Fill
	var id, orderID, status string
	err := sc.Scan(&id, &orderID, &f.Hash, &status, &f.Deposit, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	f.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt fill id %q: %w", id, err)
	}
	f.OrderID, err = uuid.Parse(orderID)
	if err != nil {
		return nil, fmt.Errorf("corrupt fill order id %q: %w", orderID, err)
	}
	f.Status = order.FillStatus(status)
	return &f, nil
}

func (s *Store) queryFills(ctx context.Context, query string, args ...any) ([]order.Fill, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fills := []order.Fill{}
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, err
		}
		fills = append(fills, *f)
	}
	return fills, rows.Err()
}
