// Package indicator implements the indicator engine of spec §4.7: each
// indicator consumes only its own subscription's closed records and reports
// named plot values, warming up from history on registration.
package indicator

import (
	"context"
	"time"

	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/vendor"
)

// Indicator is a single stateful computation over one subscription's closed
// records.
type Indicator interface {
	Name() string
	Subscription() domain.Subscription
	// Update processes one closed record, returning the new plot values, or
	// ok=false if the indicator has nothing to report yet (still warming) or
	// the record did not close.
	Update(rec domain.DataRecord) (eventbus.IndicatorValues, bool, error)
	HistoryLen() int
	WarmupRequired() bool
}

// Engine registers indicators and feeds them, isolating a failing indicator
// update from the rest of the engine (spec §4.7 "a failed update ... does
// not kill the engine").
type Engine struct {
	byName map[string]Indicator
}

func NewEngine() *Engine {
	return &Engine{byName: make(map[string]Indicator)}
}

// Register adds ind, warming it up by replaying its subscription's history
// to now via history (a vendor.HistoryIterator windowed to the indicator's
// HistoryLen). It returns the indicator's initial values computed from the
// warmup window, most recent last.
func (e *Engine) Register(ctx context.Context, ind Indicator, history vendor.HistoryIterator) ([]eventbus.IndicatorValues, error) {
	e.byName[ind.Name()] = ind

	var values []eventbus.IndicatorValues
	for history.Next() {
		rec := history.Record()
		v, ok, err := ind.Update(rec)
		if err != nil {
			return values, err
		}
		if ok {
			values = append(values, v)
		}
	}
	if err := history.Err(); err != nil {
		return values, err
	}
	return values, nil
}

// Remove releases an indicator's state entirely.
func (e *Engine) Remove(name string) {
	delete(e.byName, name)
}

// Feed delivers rec to every registered indicator whose subscription matches
// rec's (by key), returning the produced values and any per-indicator
// errors as IndicatorError events, without aborting on failure.
func (e *Engine) Feed(rec domain.DataRecord, subKey string) ([]eventbus.Event, time.Time) {
	var events []eventbus.Event
	now := rec.TimeClose
	for _, ind := range e.byName {
		if ind.Subscription().Key() != subKey {
			continue
		}
		v, ok, err := ind.Update(rec)
		if err != nil {
			events = append(events, eventbus.IndicatorErrorEvent(ind.Name(), err, now))
			continue
		}
		if ok {
			events = append(events, eventbus.IndicatorEvent(v))
		}
	}
	return events, now
}
