// Package subscription implements the subscription manager of spec §4.5: it
// applies the primary-selection policy, instantiates and warms up
// consolidators, and keeps the primary/derived bookkeeping the time engine
// drives each slice. Mutating methods never publish events themselves — they
// return the events they produced so the caller can publish only after
// releasing mgr's mutex (spec §4.5/§9: publishing while holding the manager
// lock is the documented reentrancy deadlock).
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/fundforge/ffcore/internal/clock"
	"github.com/fundforge/ffcore/internal/consolidator"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/historicalstore"
	"github.com/fundforge/ffcore/internal/vendor"
)

// derivedEntry is one strategy-visible subscription riding on a primary.
// cons is nil when the subscription is a passthrough of its primary (no
// transform needed).
type derivedEntry struct {
	sub      domain.Subscription
	cons     consolidator.Consolidator
	refCount int
}

// primaryEntry is one live vendor stream or backtest iterator shared by every
// derived subscription that needs it.
type primaryEntry struct {
	sub      domain.Subscription
	stream   <-chan domain.DataRecord // live mode only; nil in backtest
	derived  map[string]*derivedEntry // keyed by derived subscription key
	refCount int

	// lastTickTime/collision implement the tick-uniqueness invariant
	// (spec §3, §8): a run of raw ticks sharing lastTickTime gets their
	// delivered timestamps bumped by collision*1ns, collision incrementing
	// once per repeat and resetting the moment the source timestamp moves on.
	lastTickTime time.Time
	collision    int
}

// Manager is the per-vendor subscription manager.
type Manager struct {
	v            vendor.Vendor
	store        historicalstore.Store
	clk          clock.Clock
	historyGrace time.Duration

	mu        sync.Mutex
	primaries map[string]*primaryEntry // keyed by primary subscription key
}

func NewManager(v vendor.Vendor, store historicalstore.Store, clk clock.Clock, historyGrace time.Duration) *Manager {
	return &Manager{
		v:            v,
		store:        store,
		clk:          clk,
		historyGrace: historyGrace,
		primaries:    make(map[string]*primaryEntry),
	}
}

// tickPrimary and quotePrimary build the canonical sentinel subscriptions
// used to key tick/quote-level primaries for a symbol.
func tickPrimary(sym domain.Symbol) domain.Subscription {
	return domain.Subscription{Symbol: sym, Resolution: domain.Ticks(1), BaseType: domain.BaseTick}
}

func quotePrimary(sym domain.Symbol) domain.Subscription {
	return domain.Subscription{Symbol: sym, Resolution: domain.Instant(), BaseType: domain.BaseQuote}
}

// selectPrimary applies spec §4.4 "Primary selection policy".
func (m *Manager) selectPrimary(ctx context.Context, sub domain.Subscription, native []domain.Resolution) (domain.Subscription, error) {
	hasTick, hasQuote := false, false
	var candles []domain.Resolution
	for _, r := range native {
		switch r.Unit {
		case domain.UnitTick:
			hasTick = true
		case domain.UnitInstant:
			hasQuote = true
		default:
			candles = append(candles, r)
		}
	}

	// QuoteBar can only be built from a quote stream.
	if sub.BaseType == domain.BaseQuoteBar {
		if !hasQuote {
			return domain.Subscription{}, domain.NewError(domain.KindUnsupported, "subscription: "+sub.String()+": vendor has no quote stream")
		}
		return quotePrimary(sub.Symbol), nil
	}

	// Fill-forward needs a primary finer than the target window to detect
	// gaps, so it forces ticks (falling back to quotes).
	if sub.FillForward {
		switch {
		case hasTick:
			return tickPrimary(sub.Symbol), nil
		case hasQuote:
			return quotePrimary(sub.Symbol), nil
		default:
			return domain.Subscription{}, domain.NewError(domain.KindUnsupported, "subscription: "+sub.String()+": fill_forward requires ticks or quotes")
		}
	}

	// Exact native match: use directly, no consolidator needed.
	if sub.BaseType == domain.BaseCandle && sub.Style == domain.StyleStandard {
		for _, r := range candles {
			if r.Unit == sub.Resolution.Unit && r.N == sub.Resolution.N {
				return domain.Subscription{Symbol: sub.Symbol, Resolution: r, BaseType: domain.BaseCandle}, nil
			}
		}
	}

	// Otherwise prefer the coarsest native candle whose duration still divides
	// evenly into the target (fewest consolidator updates per output bar).
	if sub.Resolution.IsTimeBased() {
		targetDur := sub.Resolution.Duration()
		var best *domain.Resolution
		for i := range candles {
			r := candles[i]
			d := r.Duration()
			if d > targetDur || targetDur%d != 0 {
				continue
			}
			if best == nil || d > best.Duration() {
				best = &candles[i]
			}
		}
		if best != nil {
			return domain.Subscription{Symbol: sub.Symbol, Resolution: *best, BaseType: domain.BaseCandle}, nil
		}
	}

	switch {
	case hasTick:
		return tickPrimary(sub.Symbol), nil
	case hasQuote:
		return quotePrimary(sub.Symbol), nil
	default:
		return domain.Subscription{}, domain.NewError(domain.KindUnsupported, "subscription: "+sub.String()+": no compatible primary")
	}
}

// Subscribe registers sub, choosing and (if needed) opening its primary,
// building its consolidator, and warming it up from historyLen*Δ+grace in
// the past. It returns the warmed history window and the events the caller
// must publish after this call returns (subscribe_manager mutex already
// released).
func (m *Manager) Subscribe(ctx context.Context, sub domain.Subscription, historyLen int) ([]domain.DataRecord, []eventbus.Event, error) {
	m.mu.Lock()
	window, err := m.subscribeLocked(ctx, sub, historyLen)
	m.mu.Unlock()

	now := m.clk.Now()
	if err != nil {
		ffErr, _ := err.(*domain.Error)
		if ffErr == nil {
			ffErr = domain.NewError(domain.KindInternal, err.Error())
		}
		return nil, []eventbus.Event{eventbus.FailedToSubscribeEvent(sub, ffErr, now)}, err
	}
	return window, []eventbus.Event{eventbus.SubscribedEvent(sub, now)}, nil
}

func (m *Manager) subscribeLocked(ctx context.Context, sub domain.Subscription, historyLen int) ([]domain.DataRecord, error) {
	native, err := m.v.PrimaryResolutions(ctx, sub.Symbol)
	if err != nil {
		return nil, err
	}
	primarySub, err := m.selectPrimary(ctx, sub, native)
	if err != nil {
		return nil, err
	}
	primaryKey := primarySub.Key()

	pe, ok := m.primaries[primaryKey]
	if !ok {
		stream, err := m.v.SubscribeStream(ctx, primarySub, "primary")
		if err != nil {
			return nil, err
		}
		pe = &primaryEntry{sub: primarySub, stream: stream, derived: make(map[string]*derivedEntry)}
		m.primaries[primaryKey] = pe
	}
	pe.refCount++

	derivedKey := sub.Key()
	if existing, ok := pe.derived[derivedKey]; ok {
		existing.refCount++
		return nil, nil
	}

	var cons consolidator.Consolidator
	passthrough := primaryKey == derivedKey
	if !passthrough {
		cons, err = consolidator.New(sub)
		if err != nil {
			pe.refCount--
			if pe.refCount == 0 {
				delete(m.primaries, primaryKey)
			}
			return nil, err
		}
	}

	var window []domain.DataRecord
	if historyLen > 0 {
		window, err = m.warmup(ctx, pe, cons, sub, historyLen)
		if err != nil {
			pe.refCount--
			if pe.refCount == 0 {
				delete(m.primaries, primaryKey)
			}
			return nil, err
		}
	}

	pe.derived[derivedKey] = &derivedEntry{sub: sub, cons: cons, refCount: 1}
	return window, nil
}

// warmup replays primary history from now-historyLen*Δ-grace to now, either
// through cons (derived subscriptions) or directly from the store
// (passthrough primaries).
func (m *Manager) warmup(ctx context.Context, pe *primaryEntry, cons consolidator.Consolidator, sub domain.Subscription, historyLen int) ([]domain.DataRecord, error) {
	now := m.clk.Now()
	lookback := m.historyGrace
	if sub.Resolution.IsTimeBased() {
		lookback += time.Duration(historyLen) * sub.Resolution.Duration()
	} else {
		lookback += 24 * time.Hour // tick/quote/renko subscriptions: a generous flat window
	}
	from := now.Add(-lookback)

	it, err := m.store.Range(ctx, pe.sub, from, now)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	if cons == nil {
		var out []domain.DataRecord
		for it.Next() {
			out = append(out, it.Record())
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		if len(out) > historyLen {
			out = out[len(out)-historyLen:]
		}
		return out, nil
	}
	return cons.Warmup(ctx, it, now, historyLen)
}

// Unsubscribe drops one reference to sub. When the derived subscription has
// no remaining references, and its primary has none either, the primary
// stream is closed (live mode) and dropped.
func (m *Manager) Unsubscribe(ctx context.Context, sub domain.Subscription) ([]eventbus.Event, error) {
	m.mu.Lock()
	err := m.unsubscribeLocked(ctx, sub)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return []eventbus.Event{eventbus.UnsubscribedEvent(sub, m.clk.Now())}, nil
}

func (m *Manager) unsubscribeLocked(ctx context.Context, sub domain.Subscription) error {
	for primaryKey, pe := range m.primaries {
		de, ok := pe.derived[sub.Key()]
		if !ok {
			continue
		}
		de.refCount--
		if de.refCount <= 0 {
			delete(pe.derived, sub.Key())
		}
		pe.refCount--
		if pe.refCount <= 0 {
			if err := m.v.UnsubscribeStream(ctx, pe.sub, "primary"); err != nil {
				return err
			}
			delete(m.primaries, primaryKey)
		}
		return nil
	}
	return domain.ErrNotFound
}

// PrimaryKeys lists currently registered primary subscription keys, for the
// time engine to build its iterator set from.
func (m *Manager) PrimaryKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.primaries))
	for k := range m.primaries {
		out = append(out, k)
	}
	return out
}

// Stream returns the live vendor channel for a registered primary, for the
// live time engine to pump records from. Backtests ignore it and pull
// directly from the historical store instead.
func (m *Manager) Stream(primaryKey string) (<-chan domain.DataRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pe, ok := m.primaries[primaryKey]
	if !ok {
		return nil, false
	}
	return pe.stream, true
}

// PrimarySubscription returns the primary's own subscription definition.
func (m *Manager) PrimarySubscription(primaryKey string) (domain.Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pe, ok := m.primaries[primaryKey]
	if !ok {
		return domain.Subscription{}, false
	}
	return pe.sub, true
}

// Dedupe applies the tick-uniqueness invariant (spec §3 "Tick uniqueness",
// §8 Concrete Scenario "Tick collision"): when a vendor delivers consecutive
// ticks sharing an identical source timestamp, each colliding tick's
// delivered timestamp is advanced by exactly 1ns times its collision index,
// so no two ticks on the same primary ever share a timestamp. Non-tick
// records (candles, quotes) and unknown primaries pass through unchanged.
func (m *Manager) Dedupe(primaryKey string, rec domain.DataRecord) domain.DataRecord {
	if rec.BaseType != domain.BaseTick {
		return rec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pe, ok := m.primaries[primaryKey]
	if !ok {
		return rec
	}

	if pe.lastTickTime.Equal(rec.TimeStart) {
		pe.collision++
	} else {
		pe.lastTickTime = rec.TimeStart
		pe.collision = 0
	}
	if pe.collision == 0 {
		return rec
	}
	rec.TimeStart = rec.TimeStart.Add(time.Duration(pe.collision) * time.Nanosecond)
	return rec
}

// Feed delivers one primary record to every derived subscription riding on
// primaryKey and returns the resulting closed records (passthrough copies of
// rec included when a derived subscription equals its primary exactly).
func (m *Manager) Feed(primaryKey string, rec domain.DataRecord) []domain.DataRecord {
	m.mu.Lock()
	pe, ok := m.primaries[primaryKey]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	derived := make([]*derivedEntry, 0, len(pe.derived))
	for _, de := range pe.derived {
		derived = append(derived, de)
	}
	m.mu.Unlock()

	var out []domain.DataRecord
	for _, de := range derived {
		if de.cons == nil {
			out = append(out, rec)
			continue
		}
		res := de.cons.Update(rec)
		out = append(out, res.Closed...)
	}
	return out
}

// AdvanceAll lets every consolidator across every primary close (and
// fill-forward) bars purely due to clock advancement (spec §4.4), returning
// newly closed records. Called once per time slice by the time engine.
func (m *Manager) AdvanceAll(now time.Time) []domain.DataRecord {
	m.mu.Lock()
	var all []*derivedEntry
	for _, pe := range m.primaries {
		for _, de := range pe.derived {
			if de.cons != nil {
				all = append(all, de)
			}
		}
	}
	m.mu.Unlock()

	var out []domain.DataRecord
	for _, de := range all {
		res := de.cons.AdvanceTo(now)
		out = append(out, res.Closed...)
	}
	return out
}
