package consolidator

import (
	"context"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/vendor"
)

// CandleBar consolidates ticks or lower-resolution candles into
// fixed-duration candles, with optional fill-forward of synthetic
// zero-volume bars across gaps (spec §4.4).
type CandleBar struct {
	sub         domain.Subscription
	delta       time.Duration
	fillForward bool

	windowStart time.Time
	hasWindow   bool
	hasData     bool
	open        domain.Candle
	lastClose   ffdecimal.Price
}

// NewCandleBar builds a time-bar consolidator for the given target
// subscription (Resolution must be time-based).
func NewCandleBar(sub domain.Subscription) *CandleBar {
	return &CandleBar{
		sub:         sub,
		delta:       sub.Resolution.Duration(),
		fillForward: sub.FillForward,
	}
}

func (c *CandleBar) Subscription() domain.Subscription { return c.sub }

func (c *CandleBar) priceOf(rec domain.DataRecord) (price, volume ffdecimal.Price, ok bool) {
	switch rec.BaseType {
	case domain.BaseTick:
		return rec.Tick.Price, rec.Tick.Size, true
	case domain.BaseQuote:
		mid := rec.Quote.Bid.Add(rec.Quote.Ask).Div(ffdecimal.NewFromFloat(2))
		return mid, ffdecimal.Zero, true
	case domain.BaseCandle:
		return rec.Candle.Close, rec.Candle.Volume, true
	default:
		return ffdecimal.Zero, ffdecimal.Zero, false
	}
}

// openWindow resets the accumulator to a new window that starts at start,
// an already-aligned boundary.
func (c *CandleBar) openWindow(start time.Time) {
	c.windowStart = start
	c.hasWindow = true
	c.hasData = false
}

func (c *CandleBar) closeRecord() domain.DataRecord {
	end := c.windowStart.Add(c.delta)
	bar := c.open
	return domain.DataRecord{
		Symbol:     c.sub.Symbol,
		Resolution: c.sub.Resolution,
		BaseType:   domain.BaseCandle,
		TimeStart:  c.windowStart,
		TimeClose:  end,
		IsClosed:   true,
		Candle:     &bar,
	}
}

func (c *CandleBar) synthesizeCandle() domain.Candle {
	return domain.Candle{
		Open: c.lastClose, High: c.lastClose, Low: c.lastClose, Close: c.lastClose,
		Volume: ffdecimal.Zero, IsFillForward: true,
	}
}

// advanceWindows closes every window that ends at or before target (real if
// it has data, synthetic fill-forward otherwise when enabled), leaving the
// window that contains target open. It does not close a window
// that has never been opened when there is no fill-forward data to seed
// from.
func (c *CandleBar) advanceWindows(target time.Time) []domain.DataRecord {
	var closed []domain.DataRecord
	if !c.hasWindow {
		c.openWindow(alignBoundary(target, c.delta))
		return closed
	}
	for !c.windowStart.Add(c.delta).After(target) {
		if c.hasData {
			out := c.open
			closed = append(closed, c.closeRecord())
			c.lastClose = out.Close
		} else if c.fillForward && !c.lastClose.Equal(ffdecimal.Zero) {
			synth := c.synthesizeCandle()
			c.open = synth
			closed = append(closed, c.closeRecord())
		} else {
			// No data and nothing to fill-forward from yet: just slide the
			// window without emitting.
		}
		c.openWindow(c.windowStart.Add(c.delta))
	}
	return closed
}

func (c *CandleBar) Update(rec domain.DataRecord) Output {
	price, volume, ok := c.priceOf(rec)
	if !ok {
		return Output{}
	}
	ts := rec.TimeStart
	boundary := alignBoundary(ts, c.delta)

	closed := c.advanceWindows(boundary)
	if !c.windowStart.Equal(boundary) {
		// ts belongs to a window already advanced past (late/out-of-order
		// data); drop it rather than reopen a closed window.
		return Output{Closed: closed}
	}

	if !c.hasData {
		c.open = domain.Candle{Open: price, High: price, Low: price, Close: price, Volume: volume}
		c.hasData = true
	} else {
		if price.GreaterThan(c.open.High) {
			c.open.High = price
		}
		if price.LessThan(c.open.Low) {
			c.open.Low = price
		}
		c.open.Close = price
		c.open.Volume = c.open.Volume.Add(volume)
	}

	return Output{Closed: closed, Open: c.openRecord(), OpenValid: true}
}

func (c *CandleBar) openRecord() domain.DataRecord {
	open := c.open
	return domain.DataRecord{
		Symbol: c.sub.Symbol, Resolution: c.sub.Resolution, BaseType: domain.BaseCandle,
		TimeStart: c.windowStart, TimeClose: c.windowStart.Add(c.delta), IsClosed: false,
		Candle: &open,
	}
}

func (c *CandleBar) AdvanceTo(now time.Time) Output {
	closed := c.advanceWindows(now)
	if !c.hasData {
		return Output{Closed: closed}
	}
	return Output{Closed: closed, Open: c.openRecord(), OpenValid: true}
}

func (c *CandleBar) Warmup(ctx context.Context, history vendor.HistoryIterator, upTo time.Time, historyLen int) ([]domain.DataRecord, error) {
	var all []domain.DataRecord
	for history.Next() {
		rec := history.Record()
		if rec.TimeStart.After(upTo) {
			break
		}
		out := c.Update(rec)
		all = append(all, out.Closed...)
	}
	if err := history.Err(); err != nil {
		return nil, err
	}
	if historyLen > 0 && len(all) > historyLen {
		all = all[len(all)-historyLen:]
	}
	return all, nil
}

var _ Consolidator = (*CandleBar)(nil)
