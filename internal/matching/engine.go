// Package matching implements the backtest matching engine and ledger of
// spec §4.8: fill rules for market/limit/stop variants, TIF handling,
// brackets, and realized/open PnL bookkeeping. The data model here only
// carries top-of-book quotes (domain.Quote has no depth-of-book levels), so
// "walk the book" degrades to "fill at best opposite quote" throughout —
// there is no deeper book to walk.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/fx"
	"github.com/fundforge/ffcore/internal/vendor"
)

type symbolBook struct {
	hasBid, hasAsk, hasLast   bool
	bid, ask, last            ffdecimal.Price
	bidSize, askSize, lastQty ffdecimal.Volume
}

func (b *symbolBook) mid() (ffdecimal.Price, bool) {
	if b.hasBid && b.hasAsk {
		return b.bid.Add(b.ask).Div(ffdecimal.NewFromFloat(2)), true
	}
	if b.hasLast {
		return b.last, true
	}
	return ffdecimal.Zero, false
}

// restingOrder is a resting (not-yet-filled, not-yet-terminal) order plus the
// bookkeeping the engine needs beyond domain.Order itself.
type restingOrder struct {
	order      domain.Order
	isBracket  bool
	brokenFrom string // entry order ID this bracket was spawned from, if any
}

// Engine is the in-process backtest matching engine and ledger.
type Engine struct {
	mu       sync.Mutex
	books    map[string]*symbolBook            // symbol key -> book
	resting  map[string][]*restingOrder         // symbol key -> resting orders
	accounts map[string]*domain.Account         // account ID -> account
	infos    map[string]vendor.SymbolInfo       // symbol key -> contract info
	brackets map[string][]string                // "account|symbol" -> resting bracket order IDs
	closed   map[string][]domain.ClosedTrade    // account ID -> closed trades

	fx     fx.Source
	logger *slog.Logger
}

func NewEngine(fxSource fx.Source, logger *slog.Logger) *Engine {
	return &Engine{
		books:    make(map[string]*symbolBook),
		resting:  make(map[string][]*restingOrder),
		accounts: make(map[string]*domain.Account),
		infos:    make(map[string]vendor.SymbolInfo),
		brackets: make(map[string][]string),
		closed:   make(map[string][]domain.ClosedTrade),
		fx:       fxSource,
		logger:   logger.With(slog.String("component", "matching_engine")),
	}
}

func (e *Engine) SetSymbolInfo(info vendor.SymbolInfo) {
	e.mu.Lock()
	e.infos[info.Symbol.Key()] = info
	e.mu.Unlock()
}

func (e *Engine) SetAccount(a domain.Account) {
	e.mu.Lock()
	acc := a
	e.accounts[a.ID] = &acc
	e.mu.Unlock()
}

func (e *Engine) Account(id string) (domain.Account, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.accounts[id]
	if !ok {
		return domain.Account{}, false
	}
	return *a, true
}

func (e *Engine) ClosedTrades(account string) []domain.ClosedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ClosedTrade(nil), e.closed[account]...)
}

func bookKey(sym domain.Symbol) string { return sym.Key() }

func (e *Engine) book(sym domain.Symbol) *symbolBook {
	key := bookKey(sym)
	b, ok := e.books[key]
	if !ok {
		b = &symbolBook{}
		e.books[key] = b
	}
	return b
}

// Apply implements timeengine.Matcher: it updates per-symbol book state from
// the batch, then attempts to fill every resting order whose symbol's book
// changed, in record order (spec §4.6.1 "matching.apply(batch ∪ derived)").
func (e *Engine) Apply(batch []domain.DataRecord) []eventbus.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []eventbus.Event
	touched := make(map[string]time.Time)
	for _, rec := range batch {
		e.updateBookLocked(rec)
		touched[bookKey(rec.Symbol)] = rec.TimeClose
	}
	for key, now := range touched {
		events = append(events, e.matchSymbolLocked(key, now)...)
		events = append(events, e.expireTIFLocked(key, now)...)
	}
	events = append(events, e.recomputeOpenPnLLocked(touched)...)
	return events
}

func (e *Engine) updateBookLocked(rec domain.DataRecord) {
	b := e.book(rec.Symbol)
	switch rec.BaseType {
	case domain.BaseTick:
		b.last, b.lastQty, b.hasLast = rec.Tick.Price, rec.Tick.Size, true
	case domain.BaseQuote:
		b.bid, b.bidSize, b.hasBid = rec.Quote.Bid, rec.Quote.BidSize, true
		b.ask, b.askSize, b.hasAsk = rec.Quote.Ask, rec.Quote.AskSize, true
	case domain.BaseCandle:
		b.last, b.hasLast = rec.Candle.Close, true
	case domain.BaseQuoteBar:
		b.bid, b.hasBid = rec.QuoteBarV.BidClose, true
		b.ask, b.hasAsk = rec.QuoteBarV.AskClose, true
	}
}

// Submit accepts a new order, attempting an immediate fill and resting the
// remainder per its kind/TIF (spec §4.8). It returns the events the caller
// must publish.
func (e *Engine) Submit(ctx context.Context, order domain.Order) (domain.Order, []eventbus.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order.Status = domain.StatusAccepted
	now := order.CreatedAt
	ro := &restingOrder{order: order}

	events := e.attemptFillLocked(ro, now)
	if !ro.order.Status.Terminal() {
		if err := e.resolveTIFAdmissionLocked(ro, now); err != nil {
			events = append(events, eventbus.OrderEvent(domain.OrderEvent{Order: ro.order, Time: now, Reason: err.Error()}))
			return ro.order, events
		}
		e.resting[bookKey(ro.order.Symbol)] = append(e.resting[bookKey(ro.order.Symbol)], ro)
	}
	return ro.order, events
}

// resolveTIFAdmissionLocked stops IOC/FOK orders that could not be
// immediately (fully, for FOK) filled from resting: IOC is cancelled, FOK is
// rejected. It sets the order's status and returns the reason.
func (e *Engine) resolveTIFAdmissionLocked(ro *restingOrder, now time.Time) error {
	switch ro.order.TIF.Kind {
	case domain.TIFIoc:
		ro.order.Status = domain.StatusCancelled
		ro.order.UpdatedAt = now
		return fmt.Errorf("ioc: cancel residual")
	case domain.TIFFok:
		if ro.order.FilledQty.Sign() > 0 {
			// Partial fill under FOK is a contradiction in terms; treat as reject.
			ro.order.FilledQty = ffdecimal.Zero
		}
		ro.order.Status = domain.StatusRejected
		ro.order.UpdatedAt = now
		return fmt.Errorf("fok: could not fill entirely")
	default:
		return nil
	}
}

func (e *Engine) Cancel(ctx context.Context, orderID string, at time.Time) ([]eventbus.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, list := range e.resting {
		for i, ro := range list {
			if ro.order.ID != orderID {
				continue
			}
			ro.order.Status = domain.StatusCancelled
			ro.order.UpdatedAt = at
			e.resting[key] = append(list[:i], list[i+1:]...)
			return []eventbus.Event{eventbus.OrderEvent(domain.OrderEvent{Order: ro.order, Time: at, Reason: "cancelled"})}, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (e *Engine) Modify(ctx context.Context, orderID string, change domain.OrderChange, at time.Time) ([]eventbus.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, list := range e.resting {
		for _, ro := range list {
			if ro.order.ID != orderID {
				continue
			}
			if change.Quantity != nil {
				ro.order.Quantity = *change.Quantity
			}
			if change.Limit != nil {
				ro.order.Limit = change.Limit
			}
			if change.Trigger != nil {
				ro.order.Trigger = change.Trigger
			}
			ro.order.UpdatedAt = at
			return []eventbus.Event{eventbus.OrderEvent(domain.OrderEvent{Order: ro.order, Time: at, Reason: "modified"})}, nil
		}
	}
	return nil, domain.ErrNotFound
}

// CancelAllForSymbol cancels every resting order for sym across every
// account.
func (e *Engine) CancelAllForSymbol(ctx context.Context, sym domain.Symbol, at time.Time) ([]eventbus.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := bookKey(sym)
	list := e.resting[key]
	if len(list) == 0 {
		return nil, nil
	}
	var events []eventbus.Event
	for _, ro := range list {
		ro.order.Status = domain.StatusCancelled
		ro.order.UpdatedAt = at
		events = append(events, eventbus.OrderEvent(domain.OrderEvent{Order: ro.order, Time: at, Reason: "cancelled"}))
	}
	delete(e.resting, key)
	return events, nil
}

// FlattenAccount closes every open position for account at the current
// marks, submitting opposite-side market orders.
func (e *Engine) FlattenAccount(ctx context.Context, account string, at time.Time) []eventbus.Event {
	e.mu.Lock()
	acc, ok := e.accounts[account]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	var toFlatten []domain.Order
	for _, pos := range acc.PositionsBySymbol {
		if pos.IsFlat() {
			continue
		}
		side := domain.Buy
		if pos.Side == domain.PositionLong {
			side = domain.Sell
		}
		toFlatten = append(toFlatten, domain.Order{
			ID: fmt.Sprintf("flatten-%s-%d", pos.Symbol.Key(), at.UnixNano()),
			Account: account, Symbol: pos.Symbol, Side: side, Kind: domain.KindMarket,
			Quantity: pos.OpenQty, TIF: domain.IOC(), CreatedAt: at,
		})
	}
	e.mu.Unlock()

	var events []eventbus.Event
	for _, o := range toFlatten {
		_, evs := e.Submit(ctx, o)
		events = append(events, evs...)
	}
	return events
}
