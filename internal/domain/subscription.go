package domain

import (
	"fmt"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
)

// Weekday alias kept local so callers need not import "time" for signatures
// in this package's exported API.
type Weekday = time.Weekday

// DaySession is one weekday's open/close window in TradingHours.Zone.
type DaySession struct {
	Day   Weekday
	Open  time.Duration // offset from midnight
	Close time.Duration
	// Closed marks the weekday as fully non-trading (e.g. Saturday for FX).
	Closed bool
}

// TradingHours defines the weekly session calendar required for Days/Weeks
// resolutions (spec §3) and optionally used to align Day(tz)/Gtd order expiry.
type TradingHours struct {
	Zone          string // IANA time zone name
	Sessions      [7]DaySession
	WeekStartsOn  Weekday
}

// SessionFor returns the configured session for the given weekday.
func (th TradingHours) SessionFor(d Weekday) DaySession {
	return th.Sessions[d]
}

// Subscription identifies a requested data stream: an instrument, a
// resolution/base-type pair, and (for derived candle/quote-bar subscriptions)
// the consolidation style and fill-forward policy.
type Subscription struct {
	Symbol       Symbol
	Resolution   Resolution
	BaseType     BaseDataType
	Style        CandleStyle
	RenkoSize    *ffdecimal.Price // only meaningful when Style == StyleRenko
	FillForward  bool
	TradingHours *TradingHours // required when Resolution.RequiresTradingHours()
}

// Key returns a stable identity string for this subscription, used as a map
// key by the subscription manager and as the StreamData multiplex key
// together with a stream name.
func (s Subscription) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%v", s.Symbol.Key(), s.Resolution, s.BaseType, s.Style, s.FillForward)
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s %s %s", s.Symbol, s.Resolution, s.BaseType)
}
