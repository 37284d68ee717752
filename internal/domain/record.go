package domain

import (
	"fmt"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
)

// BaseDataType is the tagged-union discriminant for DataRecord.
type BaseDataType string

const (
	BaseTick        BaseDataType = "tick"
	BaseQuote       BaseDataType = "quote"
	BaseCandle      BaseDataType = "candle"
	BaseQuoteBar    BaseDataType = "quote_bar"
	BaseFundamental BaseDataType = "fundamental"
)

// CandleStyle selects the transform applied by the consolidator that
// produces a derived candle/quote-bar subscription.
type CandleStyle int

const (
	StyleStandard CandleStyle = iota
	StyleHeikinAshi
	StyleRenko // RenkoSize must be set on the Subscription
)

// Tick is a single trade print.
type Tick struct {
	Price ffdecimal.Price
	Size  ffdecimal.Volume
}

// Quote is a single top-of-book bid/ask update.
type Quote struct {
	Bid     ffdecimal.Price
	Ask     ffdecimal.Price
	BidSize ffdecimal.Volume
	AskSize ffdecimal.Volume
}

// Candle is an OHLCV bar built from trade prices.
type Candle struct {
	Open, High, Low, Close ffdecimal.Price
	Volume                 ffdecimal.Volume
	// IsFillForward is true when no primary data arrived during this bar's
	// window and it was synthesized per the fill-forward consolidator rule.
	IsFillForward bool
}

// QuoteBar is an OHLC bar built independently for the bid and ask sides.
type QuoteBar struct {
	BidOpen, BidHigh, BidLow, BidClose ffdecimal.Price
	AskOpen, AskHigh, AskLow, AskClose ffdecimal.Price
	IsFillForward                      bool
}

// Fundamental carries a single named fundamental data point (e.g. an economic
// release or a corporate action value).
type Fundamental struct {
	Name  string
	Value ffdecimal.Price
}

// DataRecord is a tagged union over the base data types. Exactly one of
// Tick/Quote/Candle/QuoteBar/Fundamental is populated, selected by BaseType.
// Every record is uniquely identifiable by (Symbol, Resolution, BaseType,
// TimeStart) per spec §3.
type DataRecord struct {
	Symbol     Symbol
	Resolution Resolution
	BaseType   BaseDataType

	// TimeStart is the open instant of this record (bar open, or tick/quote
	// timestamp). TimeClose is TimeStart+Resolution.Duration() for bars, and
	// equal to TimeStart for ticks/quotes.
	TimeStart time.Time
	TimeClose time.Time

	// IsClosed is true once a bar can no longer be updated (the boundary has
	// been crossed). Ticks and quotes are always closed on arrival.
	IsClosed bool

	Tick        *Tick
	Quote       *Quote
	Candle      *Candle
	QuoteBarV   *QuoteBar
	Fundamental *Fundamental
}

// Key returns the unique identity tuple for this record as a string, usable
// for dedup or as a map key.
func (r DataRecord) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d", r.Symbol.Key(), r.Resolution, r.BaseType, r.TimeStart.UnixNano())
}

// Price returns a single representative price for the record: trade price for
// a tick, mid for a quote, close for a candle/quote-bar (mid of bid/ask
// close). Used by indicators and the matching engine's mark-to-market pass.
func (r DataRecord) Price() ffdecimal.Price {
	switch r.BaseType {
	case BaseTick:
		return r.Tick.Price
	case BaseQuote:
		return r.Quote.Bid.Add(r.Quote.Ask).Div(ffdecimal.NewFromFloat(2))
	case BaseCandle:
		return r.Candle.Close
	case BaseQuoteBar:
		return r.QuoteBarV.BidClose.Add(r.QuoteBarV.AskClose).Div(ffdecimal.NewFromFloat(2))
	default:
		return ffdecimal.Zero
	}
}
