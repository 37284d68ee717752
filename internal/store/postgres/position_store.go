package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `account_id, symbol_name, market_type, vendor,
	side, open_qty, avg_open_price, booked_pnl, open_pnl, tag, opened_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var marketType, side string
	var openQty, avgOpenPrice, bookedPnL, openPnL string

	err := row.Scan(
		&p.Account, &p.Symbol.Name, &marketType, &p.Symbol.Vendor,
		&side, &openQty, &avgOpenPrice, &bookedPnL, &openPnL,
		&p.Tag, &p.OpenedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Symbol.MarketType = domain.MarketType(marketType)
	p.Side = domain.PositionSide(side)

	if p.OpenQty, err = ffdecimal.NewFromString(openQty); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: parse position open_qty: %w", err)
	}
	if p.AvgOpenPrice, err = ffdecimal.NewFromString(avgOpenPrice); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: parse position avg_open_price: %w", err)
	}
	if p.BookedPnL, err = ffdecimal.NewFromString(bookedPnL); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: parse position booked_pnl: %w", err)
	}
	if p.OpenPnL, err = ffdecimal.NewFromString(openPnL); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: parse position open_pnl: %w", err)
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert inserts or replaces the tracked position for an (account, symbol)
// pair, matching the cumulative-model semantics of spec §3: one row per
// symbol per account, overwritten by each Upsert. Nothing in this module
// calls Upsert on fills.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			account_id, symbol_key, symbol_name, market_type, vendor,
			side, open_qty, avg_open_price, booked_pnl, open_pnl, tag,
			opened_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13
		)
		ON CONFLICT (account_id, symbol_key) DO UPDATE SET
			side           = EXCLUDED.side,
			open_qty       = EXCLUDED.open_qty,
			avg_open_price = EXCLUDED.avg_open_price,
			booked_pnl     = EXCLUDED.booked_pnl,
			open_pnl       = EXCLUDED.open_pnl,
			tag            = EXCLUDED.tag,
			updated_at     = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		p.Account, p.Symbol.Key(), p.Symbol.Name, string(p.Symbol.MarketType), p.Symbol.Vendor,
		string(p.Side), p.OpenQty.String(), p.AvgOpenPrice.String(), p.BookedPnL.String(), p.OpenPnL.String(), p.Tag,
		p.OpenedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.Account, p.Symbol.Key(), err)
	}
	return nil
}

// GetOpen returns all non-flat positions for the given account.
func (s *PositionStore) GetOpen(ctx context.Context, account string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account_id = $1 AND side != 'flat' AND open_qty != '0'
		 ORDER BY opened_at DESC`, account)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetBySymbol retrieves the tracked position for a single symbol, or
// domain.ErrNotFound if no row exists yet for that (account, symbol) pair.
func (s *PositionStore) GetBySymbol(ctx context.Context, account string, sym domain.Symbol) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE account_id = $1 AND symbol_key = $2`,
		account, sym.Key())

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", account, sym.Key(), err)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
