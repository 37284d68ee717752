package domain

import (
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
)

// PositionSide mirrors OrderSide but reads more naturally on a Position.
type PositionSide string

const (
	PositionFlat  PositionSide = "flat"
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is the cumulative-model position state of spec §3: any fill in
// the same direction adjusts the weighted-average entry; an opposite-
// direction fill reduces OpenQty and books PnL; an overflow fill flips Side
// and opens a new position sized at the remainder, tagged with the closing
// order's tag for debuggability.
type Position struct {
	Account      string
	Symbol       Symbol
	Side         PositionSide
	OpenQty      ffdecimal.Volume // always >= 0; side carries direction
	AvgOpenPrice ffdecimal.Price
	BookedPnL    ffdecimal.Price
	OpenPnL      ffdecimal.Price
	Tag          string
	OpenedAt     time.Time
	UpdatedAt    time.Time
}

// IsFlat reports whether the position has no open quantity.
func (p Position) IsFlat() bool {
	return p.Side == PositionFlat || p.OpenQty.IsZero()
}

// ClosedTrade is a single realized round-trip produced when a fill reduces or
// flips a position. The statistics engine (§4.8, §8) is derived purely from a
// sequence of these.
type ClosedTrade struct {
	Account      string
	Symbol       Symbol
	Side         PositionSide // the side of the position that was closed
	Quantity     ffdecimal.Volume
	EntryPrice   ffdecimal.Price
	ExitPrice    ffdecimal.Price
	BookedPnL    ffdecimal.Price // in account currency
	Commission   ffdecimal.Price
	Tag          string
	OpenedAt     time.Time
	ClosedAt     time.Time
}

// PositionEvent is a position-state update delivered to the strategy.
type PositionEvent struct {
	Position Position
	Closed   *ClosedTrade // set only when this update closed or reduced a position
	Time     time.Time
}
