package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
)

// ClosedTradeStore implements domain.ClosedTradeStore using PostgreSQL: an
// append-only log with one row per realized round-trip. Nothing in this
// module calls InsertBatch; account statistics are computed by the matching
// engine from its own in-memory closed trades, not from this table.
type ClosedTradeStore struct {
	pool *pgxpool.Pool
}

// NewClosedTradeStore creates a ClosedTradeStore backed by the given
// connection pool.
func NewClosedTradeStore(pool *pgxpool.Pool) *ClosedTradeStore {
	return &ClosedTradeStore{pool: pool}
}

const closedTradeSelectCols = `account_id, symbol_name, market_type, vendor, side,
	quantity, entry_price, exit_price, booked_pnl, commission, tag, opened_at, closed_at`

func scanClosedTradeRows(rows pgx.Rows) ([]domain.ClosedTrade, error) {
	var trades []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		var marketType, side string
		var quantity, entryPrice, exitPrice, bookedPnL, commission string

		if err := rows.Scan(
			&t.Account, &t.Symbol.Name, &marketType, &t.Symbol.Vendor, &side,
			&quantity, &entryPrice, &exitPrice, &bookedPnL, &commission,
			&t.Tag, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Symbol.MarketType = domain.MarketType(marketType)
		t.Side = domain.PositionSide(side)

		var err error
		if t.Quantity, err = ffdecimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("postgres: parse closed trade quantity: %w", err)
		}
		if t.EntryPrice, err = ffdecimal.NewFromString(entryPrice); err != nil {
			return nil, fmt.Errorf("postgres: parse closed trade entry_price: %w", err)
		}
		if t.ExitPrice, err = ffdecimal.NewFromString(exitPrice); err != nil {
			return nil, fmt.Errorf("postgres: parse closed trade exit_price: %w", err)
		}
		if t.BookedPnL, err = ffdecimal.NewFromString(bookedPnL); err != nil {
			return nil, fmt.Errorf("postgres: parse closed trade booked_pnl: %w", err)
		}
		if t.Commission, err = ffdecimal.NewFromString(commission); err != nil {
			return nil, fmt.Errorf("postgres: parse closed trade commission: %w", err)
		}

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts multiple closed trades using pgx Batch.
func (s *ClosedTradeStore) InsertBatch(ctx context.Context, trades []domain.ClosedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO closed_trades (
			account_id, symbol_key, symbol_name, market_type, vendor, side,
			quantity, entry_price, exit_price, booked_pnl, commission, tag,
			opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14
		)`

	for _, t := range trades {
		batch.Queue(query,
			t.Account, t.Symbol.Key(), t.Symbol.Name, string(t.Symbol.MarketType), t.Symbol.Vendor, string(t.Side),
			t.Quantity.String(), t.EntryPrice.String(), t.ExitPrice.String(), t.BookedPnL.String(), t.Commission.String(), t.Tag,
			t.OpenedAt, t.ClosedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert closed trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByAccount returns closed trades for an account with pagination and
// optional time filtering, most recent first.
func (s *ClosedTradeStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	query := `SELECT ` + closedTradeSelectCols + ` FROM closed_trades WHERE account_id = $1`
	args := []any{account}
	argIdx := 2
	query, args = appendListOpts(query, args, &argIdx, opts, "closed_at")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades by account: %w", err)
	}
	defer rows.Close()

	trades, err := scanClosedTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades by account: %w", err)
	}
	return trades, nil
}

// ListBySymbol returns closed trades for a single (account, symbol) pair.
func (s *ClosedTradeStore) ListBySymbol(ctx context.Context, account string, sym domain.Symbol, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	query := `SELECT ` + closedTradeSelectCols + ` FROM closed_trades WHERE account_id = $1 AND symbol_key = $2`
	args := []any{account, sym.Key()}
	argIdx := 3
	query, args = appendListOpts(query, args, &argIdx, opts, "closed_at")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades by symbol: %w", err)
	}
	defer rows.Close()

	trades, err := scanClosedTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades by symbol: %w", err)
	}
	return trades, nil
}

// appendListOpts appends ORDER BY/LIMIT/OFFSET/time-range clauses shared by
// every paginated list query in this package.
func appendListOpts(query string, args []any, argIdx *int, opts domain.ListOpts, timeCol string) (string, []any) {
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, *argIdx)
		args = append(args, *opts.Since)
		*argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, *argIdx)
		args = append(args, *opts.Until)
		*argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", *argIdx)
		args = append(args, opts.Limit)
		*argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", *argIdx)
		args = append(args, opts.Offset)
		*argIdx++
	}

	return query, args
}

// Compile-time interface check.
var _ domain.ClosedTradeStore = (*ClosedTradeStore)(nil)
