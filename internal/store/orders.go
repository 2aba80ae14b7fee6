package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"relayer/internal/order"
)

const orderColumns = `id, order_hash, src_chain, destination_chain,
	src_token_address, dst_token_address,
	maker_source_chain_address, maker_destination_chain_address,
	src_qty, dst_qty, status, base_gas_price, gas_adjustment_factor,
	version, created_at`

// MakerFilter narrows ListOrdersByMaker. Zero values mean "no constraint",
// mirroring the optional query parameters of the maker route.
type MakerFilter struct {
	TimestampFrom *time.Time
	TimestampTo   *time.Time
	SrcToken      string
	DstToken      string
	WithToken     string
	SrcChainID    *int64
	DstChainID    *int64
}

func (s *Store) InsertOrder(ctx context.Context, o *order.Order) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertOrderTx(ctx, tx, o)
	})
}

// InsertOrders persists a batch in a single transaction: either every order
// lands or none do.
func (s *Store) InsertOrders(ctx context.Context, orders []*order.Order) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for i, o := range orders {
			if err := insertOrderTx(ctx, tx, o); err != nil {
				return fmt.Errorf("order %d (%s): %w", i, o.OrderHash, err)
			}
		}
		return nil
	})
}

func insertOrderTx(ctx context.Context, tx *sql.Tx, o *order.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_hash, src_chain, destination_chain,
			src_token_address, dst_token_address,
			maker_source_chain_address, maker_destination_chain_address,
			src_qty, dst_qty, status, base_gas_price, gas_adjustment_factor,
			version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID.String(), o.OrderHash, o.SrcChain, o.DestinationChain,
		o.SrcTokenAddress, o.DstTokenAddress,
		o.MakerSourceChainAddress, o.MakerDestinationChainAddress,
		o.SrcQty, o.DstQty, string(o.Status), o.BaseGasPrice, o.GasAdjustmentFactor,
		o.Version, o.CreatedAt)
	return constraintErr(err)
}

func (s *Store) GetOrderByHash(ctx context.Context, orderHash string) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_hash = ?`, orderHash)
	return s.scanOrder(ctx, row)
}

func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id.String())
	return s.scanOrder(ctx, row)
}

func (s *Store) GetOrdersByHashes(ctx context.Context, hashes []string) ([]*order.Order, error) {
	if len(hashes) == 0 {
		return []*order.Order{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_hash IN (`+placeholders+`)`, args...)
}

// ListActiveOrders returns ACTIVE orders for a chain pair.
func (s *Store) ListActiveOrders(ctx context.Context, srcChain, dstChain int64) ([]*order.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE src_chain = ? AND destination_chain = ? AND status = ?
		ORDER BY created_at`, srcChain, dstChain, string(order.StatusActive))
}

func (s *Store) ListOrdersByMaker(ctx context.Context, maker string, f MakerFilter) ([]*order.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE maker_source_chain_address = ?`
	args := []any{maker}

	if f.TimestampFrom != nil {
		query += ` AND created_at >= ?`
		args = append(args, *f.TimestampFrom)
	}
	if f.TimestampTo != nil {
		query += ` AND created_at < ?`
		args = append(args, *f.TimestampTo)
	}
	if f.SrcToken != "" {
		query += ` AND src_token_address = ?`
		args = append(args, f.SrcToken)
	}
	if f.DstToken != "" {
		query += ` AND dst_token_address = ?`
		args = append(args, f.DstToken)
	}
	if f.WithToken != "" {
		query += ` AND (src_token_address = ? OR dst_token_address = ?)`
		args = append(args, f.WithToken, f.WithToken)
	}
	if f.SrcChainID != nil {
		query += ` AND src_chain = ?`
		args = append(args, *f.SrcChainID)
	}
	if f.DstChainID != nil {
		query += ` AND destination_chain = ?`
		args = append(args, *f.DstChainID)
	}
	query += ` ORDER BY created_at`

	return s.queryOrders(ctx, query, args...)
}

// UpdateOrderStatus writes the recomputed status with a compare-and-swap on
// the version column. ErrConflict means the caller raced another writer and
// must re-read the fill set.
func (s *Store) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status order.Status, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, string(status), id.String(), expectedVersion)
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
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderRow(sc rowScanner) (*order.Order, error) {
	var o order.Order
	var id, status string
	err := sc.Scan(&id, &o.OrderHash, &o.SrcChain, &o.DestinationChain,
		&o.SrcTokenAddress, &o.DstTokenAddress,
		&o.MakerSourceChainAddress, &o.MakerDestinationChainAddress,
		&o.SrcQty, &o.DstQty, &status, &o.BaseGasPrice, &o.GasAdjustmentFactor,
		&o.Version, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt order id %q: %w", id, err)
	}
	o.Status = order.Status(status)
	return &o, nil
}

func (s *Store) scanOrder(ctx context.Context, row *sql.Row) (*order.Order, error) {
	o, err := scanOrderRow(row)
	if err != nil {
		return nil, err
	}
	if err := s.populateFillIDs(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []*order.Order{}
	for rows.Next() {
		o, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range orders {
		if err := s.populateFillIDs(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// populateFillIDs loads the ordered set of fill references owned by an order.
func (s *Store) populateFillIDs(ctx context.Context, o *order.Order) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM fills WHERE order_id = ? ORDER BY created_at, rowid
	`, o.ID.String())
	if err != nil {
		return err
	}
	defer rows.Close()

	o.FillIDs = []uuid.UUID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		fid, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("corrupt fill id %q: %w", id, err)
		}
		o.FillIDs = append(o.FillIDs, fid)
	}
	return rows.Err()
}
