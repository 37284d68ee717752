package consolidator

import (
	"context"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/vendor"
)

// HeikinAshiBar derives Heikin-Ashi candles from the same windowing a
// standard CandleBar produces (spec §4.4 "Heikin-Ashi"): it delegates
// bucketing to an embedded CandleBar and rewrites each closed standard
// candle into its HA form, carrying the HA open/close recurrence across
// bars.
type HeikinAshiBar struct {
	sub   domain.Subscription
	under *CandleBar

	haOpen, haClose ffdecimal.Price
	seeded          bool
}

func NewHeikinAshiBar(sub domain.Subscription) *HeikinAshiBar {
	underSub := sub
	underSub.Style = domain.StyleStandard
	return &HeikinAshiBar{sub: sub, under: NewCandleBar(underSub)}
}

func (h *HeikinAshiBar) Subscription() domain.Subscription { return h.sub }

// previewHA computes the HA transform of rec against the last *committed*
// haOpen/haClose without advancing that state, so it is safe to call
// repeatedly against the same not-yet-closed underlying bar (the open view
// returned by Update/AdvanceTo).
func (h *HeikinAshiBar) previewHA(rec domain.DataRecord) domain.DataRecord {
	c := rec.Candle
	closeP := c.Open.Add(c.High).Add(c.Low).Add(c.Close).Div(ffdecimal.NewFromFloat(4))
	var openP ffdecimal.Price
	if !h.seeded {
		openP = c.Open.Add(c.Close).Div(ffdecimal.NewFromFloat(2))
	} else {
		openP = h.haOpen.Add(h.haClose).Div(ffdecimal.NewFromFloat(2))
	}
	high := ffdecimal.Max(c.High, ffdecimal.Max(openP, closeP))
	low := ffdecimal.Min(c.Low, ffdecimal.Min(openP, closeP))

	ha := domain.Candle{Open: openP, High: high, Low: low, Close: closeP, Volume: c.Volume, IsFillForward: c.IsFillForward}
	out := rec
	out.Candle = &ha
	return out
}

// toHA converts a closed standard candle to HA form and commits the result
// as the new haOpen/haClose for the next bar's recurrence.
func (h *HeikinAshiBar) toHA(rec domain.DataRecord) domain.DataRecord {
	out := h.previewHA(rec)
	h.haOpen, h.haClose = out.Candle.Open, out.Candle.Close
	h.seeded = true
	return out
}

func (h *HeikinAshiBar) transformAll(closed []domain.DataRecord) []domain.DataRecord {
	if len(closed) == 0 {
		return nil
	}
	out := make([]domain.DataRecord, len(closed))
	for i, rec := range closed {
		out[i] = h.toHA(rec)
	}
	return out
}

func (h *HeikinAshiBar) Update(rec domain.DataRecord) Output {
	under := h.under.Update(rec)
	out := Output{Closed: h.transformAll(under.Closed)}
	if under.OpenValid {
		out.Open = h.previewHA(under.Open)
		out.OpenValid = true
	}
	return out
}

func (h *HeikinAshiBar) AdvanceTo(now time.Time) Output {
	under := h.under.AdvanceTo(now)
	out := Output{Closed: h.transformAll(under.Closed)}
	if under.OpenValid {
		out.Open = h.previewHA(under.Open)
		out.OpenValid = true
	}
	return out
}

func (h *HeikinAshiBar) Warmup(ctx context.Context, history vendor.HistoryIterator, upTo time.Time, historyLen int) ([]domain.DataRecord, error) {
	var all []domain.DataRecord
	for history.Next() {
		rec := history.Record()
		if rec.TimeStart.After(upTo) {
			break
		}
		out := h.Update(rec)
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

var _ Consolidator = (*HeikinAshiBar)(nil)
