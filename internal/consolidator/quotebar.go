package consolidator

import (
	"context"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/vendor"
)

// QuoteBarConsolidator builds two-sided (bid/ask) bars from a quote stream,
// mirroring CandleBar's windowing but tracking both sides independently
// (spec §4.4 "quote-bar from quotes").
type QuoteBarConsolidator struct {
	sub         domain.Subscription
	delta       time.Duration
	fillForward bool

	windowStart time.Time
	hasWindow   bool
	hasData     bool
	open        domain.QuoteBar
	lastBid     ffdecimal.Price
	lastAsk     ffdecimal.Price
}

func NewQuoteBar(sub domain.Subscription) *QuoteBarConsolidator {
	return &QuoteBarConsolidator{
		sub:         sub,
		delta:       sub.Resolution.Duration(),
		fillForward: sub.FillForward,
	}
}

func (c *QuoteBarConsolidator) Subscription() domain.Subscription { return c.sub }

func (c *QuoteBarConsolidator) openWindow(start time.Time) {
	c.windowStart = start
	c.hasWindow = true
	c.hasData = false
}

func (c *QuoteBarConsolidator) closeRecord() domain.DataRecord {
	end := c.windowStart.Add(c.delta)
	bar := c.open
	return domain.DataRecord{
		Symbol: c.sub.Symbol, Resolution: c.sub.Resolution, BaseType: domain.BaseQuoteBar,
		TimeStart: c.windowStart, TimeClose: end, IsClosed: true, QuoteBarV: &bar,
	}
}

func (c *QuoteBarConsolidator) openRecord() domain.DataRecord {
	open := c.open
	return domain.DataRecord{
		Symbol: c.sub.Symbol, Resolution: c.sub.Resolution, BaseType: domain.BaseQuoteBar,
		TimeStart: c.windowStart, TimeClose: c.windowStart.Add(c.delta), IsClosed: false, QuoteBarV: &open,
	}
}

func (c *QuoteBarConsolidator) synthesize() domain.QuoteBar {
	return domain.QuoteBar{
		BidOpen: c.lastBid, BidHigh: c.lastBid, BidLow: c.lastBid, BidClose: c.lastBid,
		AskOpen: c.lastAsk, AskHigh: c.lastAsk, AskLow: c.lastAsk, AskClose: c.lastAsk,
		IsFillForward: true,
	}
}

func (c *QuoteBarConsolidator) advanceWindows(target time.Time) []domain.DataRecord {
	var closed []domain.DataRecord
	if !c.hasWindow {
		c.openWindow(alignBoundary(target, c.delta))
		return closed
	}
	haveHistory := !c.lastBid.Equal(ffdecimal.Zero) || !c.lastAsk.Equal(ffdecimal.Zero)
	for !c.windowStart.Add(c.delta).After(target) {
		if c.hasData {
			closed = append(closed, c.closeRecord())
			c.lastBid, c.lastAsk = c.open.BidClose, c.open.AskClose
		} else if c.fillForward && haveHistory {
			c.open = c.synthesize()
			closed = append(closed, c.closeRecord())
		}
		c.openWindow(c.windowStart.Add(c.delta))
	}
	return closed
}

func (c *QuoteBarConsolidator) Update(rec domain.DataRecord) Output {
	if rec.BaseType != domain.BaseQuote || rec.Quote == nil {
		return Output{}
	}
	boundary := alignBoundary(rec.TimeStart, c.delta)
	closed := c.advanceWindows(boundary)
	if !c.windowStart.Equal(boundary) {
		return Output{Closed: closed}
	}

	q := rec.Quote
	if !c.hasData {
		c.open = domain.QuoteBar{
			BidOpen: q.Bid, BidHigh: q.Bid, BidLow: q.Bid, BidClose: q.Bid,
			AskOpen: q.Ask, AskHigh: q.Ask, AskLow: q.Ask, AskClose: q.Ask,
		}
		c.hasData = true
	} else {
		if q.Bid.GreaterThan(c.open.BidHigh) {
			c.open.BidHigh = q.Bid
		}
		if q.Bid.LessThan(c.open.BidLow) {
			c.open.BidLow = q.Bid
		}
		c.open.BidClose = q.Bid
		if q.Ask.GreaterThan(c.open.AskHigh) {
			c.open.AskHigh = q.Ask
		}
		if q.Ask.LessThan(c.open.AskLow) {
			c.open.AskLow = q.Ask
		}
		c.open.AskClose = q.Ask
	}

	return Output{Closed: closed, Open: c.openRecord(), OpenValid: true}
}

func (c *QuoteBarConsolidator) AdvanceTo(now time.Time) Output {
	closed := c.advanceWindows(now)
	if !c.hasData {
		return Output{Closed: closed}
	}
	return Output{Closed: closed, Open: c.openRecord(), OpenValid: true}
}

func (c *QuoteBarConsolidator) Warmup(ctx context.Context, history vendor.HistoryIterator, upTo time.Time, historyLen int) ([]domain.DataRecord, error) {
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

var _ Consolidator = (*QuoteBarConsolidator)(nil)
