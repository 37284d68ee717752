package consolidator

import (
	"context"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/vendor"
)

// RenkoBar consolidates a tick/quote/candle stream into fixed-size Renko
// bricks (spec §4.4 "Renko(size)"). Renko has no fixed time window: a brick
// closes the instant price moves `size` away from the last brick's close, in
// either direction, so TimeStart/TimeClose on the emitted record reflect the
// span of ticks the brick absorbed rather than a clock-aligned boundary.
type RenkoBar struct {
	sub  domain.Subscription
	size ffdecimal.Price

	haveOrigin bool
	origin     ffdecimal.Price
	brickStart time.Time
	lastTime   time.Time
}

func NewRenkoBar(sub domain.Subscription) *RenkoBar {
	size := ffdecimal.Zero
	if sub.RenkoSize != nil {
		size = *sub.RenkoSize
	}
	return &RenkoBar{sub: sub, size: size}
}

func (r *RenkoBar) Subscription() domain.Subscription { return r.sub }

func (r *RenkoBar) priceOf(rec domain.DataRecord) (ffdecimal.Price, bool) {
	switch rec.BaseType {
	case domain.BaseTick:
		return rec.Tick.Price, true
	case domain.BaseQuote:
		return rec.Quote.Bid.Add(rec.Quote.Ask).Div(ffdecimal.NewFromFloat(2)), true
	case domain.BaseCandle:
		return rec.Candle.Close, true
	default:
		return ffdecimal.Zero, false
	}
}

func (r *RenkoBar) brick(open, close ffdecimal.Price, start, end time.Time) domain.DataRecord {
	high, low := ffdecimal.Max(open, close), ffdecimal.Min(open, close)
	c := domain.Candle{Open: open, High: high, Low: low, Close: close, Volume: ffdecimal.Zero}
	return domain.DataRecord{
		Symbol: r.sub.Symbol, Resolution: r.sub.Resolution, BaseType: domain.BaseCandle,
		TimeStart: start, TimeClose: end, IsClosed: true, Candle: &c,
	}
}

// Update seeds the first brick's origin from the first record's raw price
// with no boundary rounding, then emits a closed brick every time price
// moves a full size away from the current origin, in either direction.
func (r *RenkoBar) Update(rec domain.DataRecord) Output {
	price, ok := r.priceOf(rec)
	if !ok || r.size.Sign() <= 0 {
		return Output{}
	}
	r.lastTime = rec.TimeStart
	if !r.haveOrigin {
		r.origin = price
		r.brickStart = rec.TimeStart
		r.haveOrigin = true
		return Output{}
	}

	var closed []domain.DataRecord
	for {
		delta := price.Sub(r.origin)
		if delta.GreaterThanOrEqual(r.size) {
			next := r.origin.Add(r.size)
			closed = append(closed, r.brick(r.origin, next, r.brickStart, rec.TimeStart))
			r.origin = next
			r.brickStart = rec.TimeStart
			continue
		}
		if delta.LessThanOrEqual(r.size.Neg()) {
			next := r.origin.Sub(r.size)
			closed = append(closed, r.brick(r.origin, next, r.brickStart, rec.TimeStart))
			r.origin = next
			r.brickStart = rec.TimeStart
			continue
		}
		break
	}
	return Output{Closed: closed}
}

// AdvanceTo is a no-op for Renko: bricks close purely on price movement, not
// clock advancement, so there is nothing to fill-forward.
func (r *RenkoBar) AdvanceTo(now time.Time) Output { return Output{} }

func (r *RenkoBar) Warmup(ctx context.Context, history vendor.HistoryIterator, upTo time.Time, historyLen int) ([]domain.DataRecord, error) {
	var all []domain.DataRecord
	for history.Next() {
		rec := history.Record()
		if rec.TimeStart.After(upTo) {
			break
		}
		out := r.Update(rec)
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

var _ Consolidator = (*RenkoBar)(nil)
