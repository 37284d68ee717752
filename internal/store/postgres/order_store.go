package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order into the database.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	var limitStr, triggerStr *string
	if o.Limit != nil {
		v := o.Limit.String()
		limitStr = &v
	}
	if o.Trigger != nil {
		v := o.Trigger.String()
		triggerStr = &v
	}

	const query = `
		INSERT INTO orders (
			id, account_id, symbol_key, symbol_name, market_type, vendor,
			side, kind, quantity, limit_price, trigger_price,
			tif_kind, tif_zone, tag, status, filled_qty, avg_fill_price,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17,
			$18, $19
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Account, o.Symbol.Key(), o.Symbol.Name, string(o.Symbol.MarketType), o.Symbol.Vendor,
		string(o.Side), string(o.Kind), o.Quantity.String(), limitStr, triggerStr,
		string(o.TIF.Kind), o.TIF.Zone, o.Tag, string(o.Status), o.FilledQty.String(), o.AvgFillPx.String(),
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// UpdateStatus changes the status of an existing order.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	const query = `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `id, account_id, symbol_name, market_type, vendor,
	side, kind, quantity, limit_price, trigger_price,
	tif_kind, tif_zone, tag, status, filled_qty, avg_fill_price,
	created_at, updated_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Order, error) {
	var o domain.Order
	var side, kind, marketType, tifKind, status string
	var quantity, filledQty, avgFillPx string
	var limitStr, triggerStr *string

	err := scanner.Scan(
		&o.ID, &o.Account, &o.Symbol.Name, &marketType, &o.Symbol.Vendor,
		&side, &kind, &quantity, &limitStr, &triggerStr,
		&tifKind, &o.TIF.Zone, &o.Tag, &status, &filledQty, &avgFillPx,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Symbol.MarketType = domain.MarketType(marketType)
	o.Side = domain.OrderSide(side)
	o.Kind = domain.OrderKind(kind)
	o.TIF.Kind = domain.TIFKind(tifKind)
	o.Status = domain.OrderStatus(status)

	o.Quantity, err = ffdecimal.NewFromString(quantity)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: parse order quantity: %w", err)
	}
	o.FilledQty, err = ffdecimal.NewFromString(filledQty)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: parse order filled_qty: %w", err)
	}
	o.AvgFillPx, err = ffdecimal.NewFromString(avgFillPx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: parse order avg_fill_price: %w", err)
	}
	if limitStr != nil {
		v, err := ffdecimal.NewFromString(*limitStr)
		if err != nil {
			return domain.Order{}, fmt.Errorf("postgres: parse order limit_price: %w", err)
		}
		o.Limit = &v
	}
	if triggerStr != nil {
		v, err := ffdecimal.NewFromString(*triggerStr)
		if err != nil {
			return domain.Order{}, fmt.Errorf("postgres: parse order trigger_price: %w", err)
		}
		o.Trigger = &v
	}

	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListOpen returns all orders not yet in a terminal state for the given
// account.
func (s *OrderStore) ListOpen(ctx context.Context, account string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE account_id = $1 AND status IN ('created', 'accepted', 'partially_filled')
		 ORDER BY created_at DESC`, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open orders: %w", err)
	}
	return orders, nil
}

// ListByAccount returns orders for a given account with pagination.
func (s *OrderStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE account_id = $1`
	args := []any{account}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders by account: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by account: %w", err)
	}
	return orders, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
