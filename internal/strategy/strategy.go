// Package strategy implements the single façade object a strategy program
// sees (spec §4.9): subscribe/unsubscribe, indicator registration, history
// queries, timed-event registration, the order-entry family, and account
// queries. Every exported method is safe for concurrent use from a single
// strategy goroutine; interior synchronization of the subscription manager,
// matching engine, and indicator engine is hidden from the caller.
//
// Methods that mutate shared state never publish to the event bus while
// holding another component's lock — they collect the events those
// components return and publish only after the call returns, per the
// reentrancy rule documented in internal/subscription and internal/eventbus.
package strategy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fundforge/ffcore/internal/clock"
	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/historicalstore"
	"github.com/fundforge/ffcore/internal/indicator"
	"github.com/fundforge/ffcore/internal/matching"
	"github.com/fundforge/ffcore/internal/subscription"
	"github.com/fundforge/ffcore/internal/timeengine"
)

// Strategy is the façade of spec §4.9.
type Strategy struct {
	manager    *subscription.Manager
	indicators *indicator.Engine
	matcher    *matching.Engine
	store      historicalstore.Store
	bus        *eventbus.Bus
	clk        clock.Clock
	timed      *timeengine.TimedEventQueue
}

// New assembles a Strategy façade over already-constructed runtime
// components. cmd/ffstrategy constructs these in-process and builds the
// façade over them for the strategy program.
func New(manager *subscription.Manager, indicators *indicator.Engine, matcher *matching.Engine, store historicalstore.Store, bus *eventbus.Bus, clk clock.Clock, timed *timeengine.TimedEventQueue) *Strategy {
	return &Strategy{
		manager:    manager,
		indicators: indicators,
		matcher:    matcher,
		store:      store,
		bus:        bus,
		clk:        clk,
		timed:      timed,
	}
}

// Subscribe registers sub, warms it up from historyLen bars of history, and
// publishes the resulting Subscribed/FailedToSubscribe event. It returns the
// warmup window directly to the caller as well, since a strategy's OnInit
// typically needs it synchronously.
func (s *Strategy) Subscribe(ctx context.Context, sub domain.Subscription, historyLen int) ([]domain.DataRecord, error) {
	window, events, err := s.manager.Subscribe(ctx, sub, historyLen)
	s.bus.PublishAll(ctx, events)
	return window, err
}

// Unsubscribe drops sub, publishing the Unsubscribed event.
func (s *Strategy) Unsubscribe(ctx context.Context, sub domain.Subscription) error {
	events, err := s.manager.Unsubscribe(ctx, sub)
	s.bus.PublishAll(ctx, events)
	return err
}

// SubscribeIndicator registers ind, warming it up from the store over its
// own subscription and HistoryLen, and returns the resulting initial plot
// values (most recent last).
func (s *Strategy) SubscribeIndicator(ctx context.Context, ind indicator.Indicator) ([]eventbus.IndicatorValues, error) {
	sub := ind.Subscription()
	now := s.clk.Now()
	lookback := 24 * time.Hour
	if sub.Resolution.IsTimeBased() {
		lookback = time.Duration(ind.HistoryLen()+1) * sub.Resolution.Duration()
	}
	it, err := s.store.Range(ctx, sub, now.Add(-lookback), now)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	return s.indicators.Register(ctx, ind, it)
}

// UnsubscribeIndicator releases an indicator's state.
func (s *Strategy) UnsubscribeIndicator(name string) {
	s.indicators.Remove(name)
}

// HistoryUTC returns the closed records of sub in [from, to], clamped so to
// never exceeds the current clock instant (spec §4.9 "return values are
// clock-bounded").
func (s *Strategy) HistoryUTC(ctx context.Context, sub domain.Subscription, from, to time.Time) ([]domain.DataRecord, error) {
	now := s.clk.Now()
	if to.After(now) {
		to = now
	}
	it, err := s.store.Range(ctx, sub, from, to)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []domain.DataRecord
	for it.Next() {
		out = append(out, it.Record())
	}
	return out, it.Err()
}

// HistoryLocal is HistoryUTC with from/to expressed as wall-clock times in
// the named IANA zone rather than UTC instants.
func (s *Strategy) HistoryLocal(ctx context.Context, sub domain.Subscription, zone string, from, to time.Time) ([]domain.DataRecord, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidArgument, "strategy: unknown zone "+zone)
	}
	fromUTC := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), loc).UTC()
	toUTC := time.Date(to.Year(), to.Month(), to.Day(), to.Hour(), to.Minute(), to.Second(), to.Nanosecond(), loc).UTC()
	return s.HistoryUTC(ctx, sub, fromUTC, toUTC)
}

// RegisterTimedEvent schedules label to fire as a Timer event at (or just
// after) at, returning an ID usable with CancelTimedEvent.
func (s *Strategy) RegisterTimedEvent(at time.Time, label string) uint64 {
	return s.timed.Schedule(at, func(now time.Time) []eventbus.Event {
		return []eventbus.Event{eventbus.TimerEvent(label, now)}
	})
}

// CancelTimedEvent cancels a pending timed event registered with
// RegisterTimedEvent; a no-op if it already fired.
func (s *Strategy) CancelTimedEvent(id uint64) {
	s.timed.Cancel(id)
}

func (s *Strategy) submit(ctx context.Context, order domain.Order) (domain.Order, error) {
	placed, events := s.matcher.Submit(ctx, order)
	s.bus.PublishAll(ctx, events)
	if placed.Status == domain.StatusRejected {
		return placed, domain.NewError(domain.KindRiskRejected, "strategy: order rejected")
	}
	return placed, nil
}

func newOrder(account string, sym domain.Symbol, side domain.OrderSide, kind domain.OrderKind, qty ffdecimal.Volume, limit, trigger *ffdecimal.Price, tif domain.TimeInForce, tag string, brackets *domain.Brackets, now time.Time) domain.Order {
	return domain.Order{
		ID: uuid.New().String(), Account: account, Symbol: sym, Side: side, Kind: kind,
		Quantity: qty, Limit: limit, Trigger: trigger, TIF: tif, Tag: tag, Brackets: brackets,
		Status: domain.StatusCreated, CreatedAt: now, UpdatedAt: now,
	}
}

// EnterLong opens or adds to a long position with a market order, optionally
// installing take-profit/stop-loss brackets on fill.
func (s *Strategy) EnterLong(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, tag string, brackets *domain.Brackets) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Buy, domain.KindEnterLong, qty, nil, nil, domain.GTC(), tag, brackets, now))
}

// EnterShort opens or adds to a short position with a market order.
func (s *Strategy) EnterShort(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, tag string, brackets *domain.Brackets) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Sell, domain.KindEnterShort, qty, nil, nil, domain.GTC(), tag, brackets, now))
}

// ExitLong closes (up to) qty of an open long position with a market order.
func (s *Strategy) ExitLong(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Sell, domain.KindExitLong, qty, nil, nil, domain.IOC(), tag, nil, now))
}

// ExitShort closes (up to) qty of an open short position with a market order.
func (s *Strategy) ExitShort(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Buy, domain.KindExitShort, qty, nil, nil, domain.IOC(), tag, nil, now))
}

// BuyMarket/SellMarket/BuyLimit/... are the generic order-entry primitives of
// spec §4.9, independent of the enter/exit position helpers above.

func (s *Strategy) BuyMarket(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, tif domain.TimeInForce, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Buy, domain.KindMarket, qty, nil, nil, tif, tag, nil, now))
}

func (s *Strategy) SellMarket(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, tif domain.TimeInForce, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Sell, domain.KindMarket, qty, nil, nil, tif, tag, nil, now))
}

func (s *Strategy) BuyLimit(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, limit ffdecimal.Price, tif domain.TimeInForce, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Buy, domain.KindLimit, qty, &limit, nil, tif, tag, nil, now))
}

func (s *Strategy) SellLimit(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, limit ffdecimal.Price, tif domain.TimeInForce, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Sell, domain.KindLimit, qty, &limit, nil, tif, tag, nil, now))
}

func (s *Strategy) BuyStop(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, trigger ffdecimal.Price, tif domain.TimeInForce, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Buy, domain.KindStopMarket, qty, nil, &trigger, tif, tag, nil, now))
}

func (s *Strategy) SellStop(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, trigger ffdecimal.Price, tif domain.TimeInForce, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Sell, domain.KindStopMarket, qty, nil, &trigger, tif, tag, nil, now))
}

func (s *Strategy) BuyStopLimit(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, trigger, limit ffdecimal.Price, tif domain.TimeInForce, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Buy, domain.KindStopLimit, qty, &limit, &trigger, tif, tag, nil, now))
}

func (s *Strategy) SellStopLimit(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, trigger, limit ffdecimal.Price, tif domain.TimeInForce, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Sell, domain.KindStopLimit, qty, &limit, &trigger, tif, tag, nil, now))
}

func (s *Strategy) BuyMarketIfTouched(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, trigger, limit ffdecimal.Price, tif domain.TimeInForce, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Buy, domain.KindMarketIfTouched, qty, &limit, &trigger, tif, tag, nil, now))
}

func (s *Strategy) SellMarketIfTouched(ctx context.Context, account string, sym domain.Symbol, qty ffdecimal.Volume, trigger, limit ffdecimal.Price, tif domain.TimeInForce, tag string) (domain.Order, error) {
	now := s.clk.Now()
	return s.submit(ctx, newOrder(account, sym, domain.Sell, domain.KindMarketIfTouched, qty, &limit, &trigger, tif, tag, nil, now))
}

// Cancel cancels a single resting order by ID.
func (s *Strategy) Cancel(ctx context.Context, orderID string) error {
	events, err := s.matcher.Cancel(ctx, orderID, s.clk.Now())
	s.bus.PublishAll(ctx, events)
	return err
}

// CancelAllForSymbol cancels every resting order for sym across every
// account.
func (s *Strategy) CancelAllForSymbol(ctx context.Context, sym domain.Symbol) error {
	events, err := s.matcher.CancelAllForSymbol(ctx, sym, s.clk.Now())
	s.bus.PublishAll(ctx, events)
	return err
}

// Modify changes quantity/limit/trigger on a resting order.
func (s *Strategy) Modify(ctx context.Context, orderID string, change domain.OrderChange) error {
	events, err := s.matcher.Modify(ctx, orderID, change, s.clk.Now())
	s.bus.PublishAll(ctx, events)
	return err
}

// FlattenAllForAccount submits opposite-side IOC market orders closing every
// open position on account.
func (s *Strategy) FlattenAllForAccount(ctx context.Context, account string) {
	events := s.matcher.FlattenAccount(ctx, account, s.clk.Now())
	s.bus.PublishAll(ctx, events)
}

// IsLong reports whether account holds a long position in sym.
func (s *Strategy) IsLong(account string, sym domain.Symbol) bool {
	acc, ok := s.matcher.Account(account)
	return ok && acc.IsLong(sym)
}

// IsShort reports whether account holds a short position in sym.
func (s *Strategy) IsShort(account string, sym domain.Symbol) bool {
	acc, ok := s.matcher.Account(account)
	return ok && acc.IsShort(sym)
}

// IsFlat reports whether account has no open position in sym.
func (s *Strategy) IsFlat(account string, sym domain.Symbol) bool {
	acc, ok := s.matcher.Account(account)
	return !ok || acc.IsFlat(sym)
}

// InProfit reports whether account's open position in sym currently carries
// positive open PnL.
func (s *Strategy) InProfit(account string, sym domain.Symbol) bool {
	acc, ok := s.matcher.Account(account)
	if !ok {
		return false
	}
	return acc.Position(sym).OpenPnL.Sign() > 0
}

// PositionSize returns the signed open quantity of account's position in
// sym: positive for long, negative for short, zero when flat.
func (s *Strategy) PositionSize(account string, sym domain.Symbol) ffdecimal.Volume {
	acc, ok := s.matcher.Account(account)
	if !ok {
		return ffdecimal.Zero
	}
	pos := acc.Position(sym)
	if pos.Side == domain.PositionShort {
		return pos.OpenQty.Neg()
	}
	return pos.OpenQty
}

// OpenPnL returns account's unrealized PnL in sym.
func (s *Strategy) OpenPnL(account string, sym domain.Symbol) ffdecimal.Price {
	acc, ok := s.matcher.Account(account)
	if !ok {
		return ffdecimal.Zero
	}
	return acc.Position(sym).OpenPnL
}

// BookedPnL returns account's total realized PnL across every closed trade.
func (s *Strategy) BookedPnL(account string) ffdecimal.Price {
	total := ffdecimal.Zero
	for _, t := range s.matcher.ClosedTrades(account) {
		total = total.Add(t.BookedPnL)
	}
	return total
}

// Statistics returns the derived account statistics of spec §4.8/§8.
func (s *Strategy) Statistics(account string) domain.AccountStatistics {
	return s.matcher.Statistics(account)
}
