package matching

import (
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
)

// attemptFillLocked tries to fill ro immediately against the current book,
// per the fill rules of spec §4.8. Callers hold e.mu.
func (e *Engine) attemptFillLocked(ro *restingOrder, now time.Time) []eventbus.Event {
	b := e.book(ro.order.Symbol)

	switch ro.order.Kind {
	case domain.KindMarket, domain.KindEnterLong, domain.KindEnterShort, domain.KindExitLong, domain.KindExitShort:
		return e.fillMarketLocked(ro, b, now)
	case domain.KindLimit:
		return e.fillLimitLocked(ro, b, now)
	case domain.KindStopMarket, domain.KindStopLimit, domain.KindMarketIfTouched:
		return e.fillStopFamilyLocked(ro, b, now)
	default:
		return nil
	}
}

// oppositePrice returns the best quote on the side ro would cross, falling
// back to last trade, per "no book -> best opposite quote -> last trade ->
// reject".
func (e *Engine) oppositePrice(ro *restingOrder, b *symbolBook) (ffdecimal.Price, bool) {
	if ro.order.Side == domain.Buy {
		if b.hasAsk {
			return b.ask, true
		}
	} else {
		if b.hasBid {
			return b.bid, true
		}
	}
	if b.hasLast {
		return b.last, true
	}
	return ffdecimal.Zero, false
}

func (e *Engine) fillMarketLocked(ro *restingOrder, b *symbolBook, now time.Time) []eventbus.Event {
	px, ok := e.oppositePrice(ro, b)
	if !ok {
		ro.order.Status = domain.StatusRejected
		ro.order.UpdatedAt = now
		return []eventbus.Event{eventbus.OrderEvent(domain.OrderEvent{Order: ro.order, Time: now, Reason: "no market data"})}
	}
	return e.executeFillLocked(ro, px, ro.order.Remaining(), now)
}

func (e *Engine) crossesLimit(ro *restingOrder, opposite ffdecimal.Price) bool {
	if ro.order.Limit == nil {
		return false
	}
	if ro.order.Side == domain.Buy {
		return opposite.LessThanOrEqual(*ro.order.Limit)
	}
	return opposite.GreaterThanOrEqual(*ro.order.Limit)
}

func (e *Engine) fillLimitLocked(ro *restingOrder, b *symbolBook, now time.Time) []eventbus.Event {
	px, ok := e.oppositePrice(ro, b)
	if !ok || !e.crossesLimit(ro, px) {
		return nil
	}
	fillPx := px
	if ro.order.Side == domain.Buy && ro.order.Limit.LessThan(px) {
		fillPx = *ro.order.Limit
	} else if ro.order.Side == domain.Sell && ro.order.Limit.GreaterThan(px) {
		fillPx = *ro.order.Limit
	}
	return e.executeFillLocked(ro, fillPx, ro.order.Remaining(), now)
}

func (e *Engine) triggered(ro *restingOrder, b *symbolBook) bool {
	if ro.order.Trigger == nil {
		return false
	}
	mark, ok := b.mid()
	if !ok {
		return false
	}
	if ro.order.Side == domain.Buy {
		return mark.GreaterThanOrEqual(*ro.order.Trigger)
	}
	return mark.LessThanOrEqual(*ro.order.Trigger)
}

func (e *Engine) fillStopFamilyLocked(ro *restingOrder, b *symbolBook, now time.Time) []eventbus.Event {
	if !e.triggered(ro, b) {
		return nil
	}
	switch ro.order.Kind {
	case domain.KindStopMarket:
		return e.fillMarketLocked(ro, b, now)
	case domain.KindStopLimit, domain.KindMarketIfTouched:
		return e.fillLimitLocked(ro, b, now)
	default:
		return nil
	}
}

// matchSymbolLocked retries every resting order for the symbol keyed by
// symKey against its current book, removing orders that reach a terminal
// state.
func (e *Engine) matchSymbolLocked(symKey string, now time.Time) []eventbus.Event {
	list := e.resting[symKey]
	if len(list) == 0 {
		return nil
	}
	b, ok := e.books[symKey]
	if !ok {
		return nil
	}

	var events []eventbus.Event
	remaining := list[:0]
	for _, ro := range list {
		evs := e.attemptFillLocked(ro, now)
		events = append(events, evs...)
		if !ro.order.Status.Terminal() {
			remaining = append(remaining, ro)
		}
	}
	e.resting[symKey] = remaining
	return events
}

// expireTIFLocked cancels Day/Gtd resting orders whose time boundary has
// passed.
func (e *Engine) expireTIFLocked(symKey string, now time.Time) []eventbus.Event {
	list := e.resting[symKey]
	if len(list) == 0 {
		return nil
	}
	var events []eventbus.Event
	remaining := list[:0]
	for _, ro := range list {
		expired := false
		switch ro.order.TIF.Kind {
		case domain.TIFGtd:
			expired = !ro.order.TIF.Expiry.After(now)
		case domain.TIFDay:
			expired = sessionBoundaryCrossed(ro.order.CreatedAt, now, ro.order.TIF.Zone)
		}
		if expired {
			ro.order.Status = domain.StatusCancelled
			ro.order.UpdatedAt = now
			events = append(events, eventbus.OrderEvent(domain.OrderEvent{Order: ro.order, Time: now, Reason: "tif expired"}))
			continue
		}
		remaining = append(remaining, ro)
	}
	e.resting[symKey] = remaining
	return events
}

// sessionBoundaryCrossed reports whether now has moved into a different
// calendar day (in zone) than created, i.e. the Day order's session has
// rolled over.
func sessionBoundaryCrossed(created, now time.Time, zone string) bool {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = time.UTC
	}
	cy, cm, cd := created.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	return ny != cy || nm != cm || nd != cd
}
