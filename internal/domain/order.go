package domain

import (
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderKind enumerates the order types of spec §3.
type OrderKind string

const (
	KindMarket          OrderKind = "market"
	KindLimit           OrderKind = "limit"
	KindStopMarket      OrderKind = "stop_market"
	KindStopLimit       OrderKind = "stop_limit"
	KindMarketIfTouched OrderKind = "market_if_touched"
	KindEnterLong       OrderKind = "enter_long"
	KindEnterShort      OrderKind = "enter_short"
	KindExitLong        OrderKind = "exit_long"
	KindExitShort       OrderKind = "exit_short"
)

// TIFKind is the time-in-force discriminant.
type TIFKind string

const (
	TIFGtc TIFKind = "gtc"
	TIFDay TIFKind = "day"
	TIFGtd TIFKind = "gtd"
	TIFIoc TIFKind = "ioc"
	TIFFok TIFKind = "fok"
)

// TimeInForce is a tagged union: Day carries a time zone for session-close
// cancellation, Gtd carries an absolute expiry instant and zone.
type TimeInForce struct {
	Kind   TIFKind
	Zone   string    // IANA zone, used by TIFDay and TIFGtd
	Expiry time.Time // used by TIFGtd
}

func GTC() TimeInForce                      { return TimeInForce{Kind: TIFGtc} }
func Day(zone string) TimeInForce           { return TimeInForce{Kind: TIFDay, Zone: zone} }
func GTD(at time.Time, zone string) TimeInForce {
	return TimeInForce{Kind: TIFGtd, Expiry: at, Zone: zone}
}
func IOC() TimeInForce { return TimeInForce{Kind: TIFIoc} }
func FOK() TimeInForce { return TimeInForce{Kind: TIFFok} }

// OrderStatus tracks the lifecycle state machine of spec §3:
// Created -> Accepted -> (PartiallyFilled)* -> {Filled | Cancelled | Rejected}.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "created"
	StatusAccepted        OrderStatus = "accepted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether this status ends the order's lifecycle.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Brackets holds optional take-profit/stop-loss/trailing orders attached when
// a position opens.
type Brackets struct {
	TakeProfit *ffdecimal.Price
	StopLoss   *ffdecimal.Price
	// TrailingDistance, when set, makes StopLoss trail the market by this
	// fixed distance instead of sitting at a static price.
	TrailingDistance *ffdecimal.Price
}

// Order is a single trading instruction.
type Order struct {
	ID       string
	Account  string
	Symbol   Symbol
	Side     OrderSide
	Kind     OrderKind
	Quantity ffdecimal.Volume

	Limit   *ffdecimal.Price // required for Limit/StopLimit
	Trigger *ffdecimal.Price // required for StopMarket/StopLimit/MarketIfTouched

	TIF      TimeInForce
	Tag      string
	Brackets *Brackets

	Status      OrderStatus
	FilledQty   ffdecimal.Volume
	AvgFillPx   ffdecimal.Price
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() ffdecimal.Volume {
	return o.Quantity.Sub(o.FilledQty)
}

// IsExit reports whether this order kind closes/reduces an existing position
// rather than opening one, per the exit_long/exit_short façade helpers.
func (k OrderKind) IsExit() bool {
	return k == KindExitLong || k == KindExitShort
}

// OrderChange describes a modification request for UpdateOrder: any non-nil
// field replaces the corresponding value on the resting order.
type OrderChange struct {
	Quantity *ffdecimal.Volume
	Limit    *ffdecimal.Price
	Trigger  *ffdecimal.Price
}

// OrderEvent is an order lifecycle update delivered to the strategy and, on
// the wire, as a Response.
type OrderEvent struct {
	Order    Order
	FillQty  ffdecimal.Volume // incremental quantity filled by this event, zero for non-fill events
	FillPx   ffdecimal.Price
	Time     time.Time
	Reason   string // populated on Rejected/Cancelled
}
