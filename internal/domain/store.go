package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time-range filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists order lifecycle state for an account, independent of
// the in-memory matching engine. Brokerages and servers use it to recover
// resting orders after a restart.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListOpen(ctx context.Context, account string) ([]Order, error)
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]Order, error)
}

// PositionStore persists the cumulative-model position state of spec §3.
type PositionStore interface {
	Upsert(ctx context.Context, p Position) error
	GetOpen(ctx context.Context, account string) ([]Position, error)
	GetBySymbol(ctx context.Context, account string, sym Symbol) (Position, error)
}

// ClosedTradeStore persists realized round-trips, the input to the
// statistics engine (spec §4.8/§8).
type ClosedTradeStore interface {
	InsertBatch(ctx context.Context, trades []ClosedTrade) error
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]ClosedTrade, error)
	ListBySymbol(ctx context.Context, account string, sym Symbol, opts ListOpts) ([]ClosedTrade, error)
}

// AuditEntry is a single audit log row: a structured record of an engine-
// level event (order rejection, indicator fault, connectivity loss) kept
// independent of the strategy-facing event bus.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
