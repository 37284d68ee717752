package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/matching"
	"github.com/fundforge/ffcore/internal/subscription"
	"github.com/fundforge/ffcore/internal/vendor"
	"github.com/fundforge/ffcore/internal/wire"
)

// Dispatcher translates strategy<->server wire requests (spec §4.1) into
// calls against the vendor registry, the subscription manager, and the
// matching engine, and publishes the resulting domain events onto the event
// bus for live streaming. It is the server-side counterpart to
// internal/session.Session, which carries the same wire.Request/wire.Response
// alphabet on the strategy side.
type Dispatcher struct {
	vendors map[string]vendor.Vendor
	manager *subscription.Manager
	engine  *matching.Engine
	bus     *eventbus.Bus
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given vendor registry,
// subscription manager, and matching engine. Events produced by
// subscribe/unsubscribe and order/position mutations are published to bus
// for live streaming (e.g. via liveproxy.Hub or a wire.Listener's stream
// fan-out); bus may be nil if the caller does not need live event fan-out.
// manager may be nil for callers that only exercise the order/account
// surface (e.g. the monitoring HTTP handlers' tests).
func NewDispatcher(vendors map[string]vendor.Vendor, manager *subscription.Manager, engine *matching.Engine, bus *eventbus.Bus, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{vendors: vendors, manager: manager, engine: engine, bus: bus, logger: logger}
}

// Dispatch handles one wire.Request and returns the wire.Response to send
// back, if any. On success, Subscribe/CancelOrder/UpdateOrder return a nil
// response when they carry no CallbackID, and Unsubscribe/FlattenAccount
// always return nil, matching the teacher's one-way message convention.
// Failures are answered with an error response whether or not a
// CallbackID is set.
func (d *Dispatcher) Dispatch(ctx context.Context, req wire.Request) *wire.Response {
	switch req.Kind {
	case wire.ReqRegister:
		return nil
	case wire.ReqSubscribe:
		return d.handleSubscribe(ctx, req)
	case wire.ReqUnsubscribe:
		return d.handleUnsubscribe(ctx, req)
	case wire.ReqSymbols:
		return d.handleSymbols(ctx, req)
	case wire.ReqTickSize:
		return d.handleTickSize(ctx, req)
	case wire.ReqHistoryRange:
		return d.handleHistoryRange(ctx, req)
	case wire.ReqPlaceOrder:
		return d.handlePlaceOrder(ctx, req)
	case wire.ReqCancelOrder:
		return d.handleCancelOrder(ctx, req)
	case wire.ReqUpdateOrder:
		return d.handleUpdateOrder(ctx, req)
	case wire.ReqFlattenAcct:
		return d.handleFlattenAccount(ctx, req)
	case wire.ReqAccountInfo:
		return d.handleAccountInfo(ctx, req)
	default:
		return errResponse(req.CallbackID, domain.KindInvalidArgument, "unhandled request kind: "+string(req.Kind))
	}
}

// handleSubscribe registers the subscription with the shared manager and
// returns its warmup window as a history response; ongoing updates reach the
// caller as RespStreamData pushes fanned out from the event bus by the wire
// listener, not as part of this response (spec §4.1's callback-vs-stream
// split).
func (d *Dispatcher) handleSubscribe(ctx context.Context, req wire.Request) *wire.Response {
	if d.manager == nil || req.Subscription == nil {
		return errResponse(req.CallbackID, domain.KindInvalidArgument, "subscribe request missing subscription")
	}
	window, events, err := d.manager.Subscribe(ctx, *req.Subscription, req.HistoryLen)
	d.publish(ctx, events)
	if err != nil {
		return errResponse(req.CallbackID, domain.KindUnsupported, err.Error())
	}
	if req.CallbackID == 0 {
		return nil
	}
	return &wire.Response{Kind: wire.RespHistory, CallbackID: req.CallbackID, HistoryRecords: window}
}

func (d *Dispatcher) handleUnsubscribe(ctx context.Context, req wire.Request) *wire.Response {
	if d.manager == nil || req.Subscription == nil {
		return errResponse(req.CallbackID, domain.KindInvalidArgument, "unsubscribe request missing subscription")
	}
	events, err := d.manager.Unsubscribe(ctx, *req.Subscription)
	d.publish(ctx, events)
	if err != nil {
		return errResponse(req.CallbackID, domain.KindNotFound, err.Error())
	}
	return nil
}

func (d *Dispatcher) vendorFor(name string) (vendor.Vendor, bool) {
	v, ok := d.vendors[name]
	return v, ok
}

func (d *Dispatcher) handleSymbols(ctx context.Context, req wire.Request) *wire.Response {
	v, ok := d.vendorFor(req.Vendor)
	if !ok {
		return errResponse(req.CallbackID, domain.KindNotFound, "unknown vendor: "+req.Vendor)
	}
	symbols, err := v.Symbols(ctx, req.MarketType)
	if err != nil {
		return errResponse(req.CallbackID, domain.KindUnsupported, err.Error())
	}
	return &wire.Response{Kind: wire.RespSymbols, CallbackID: req.CallbackID, Symbols: symbols}
}

func (d *Dispatcher) handleTickSize(ctx context.Context, req wire.Request) *wire.Response {
	v, ok := d.vendorFor(req.Vendor)
	if !ok {
		return errResponse(req.CallbackID, domain.KindNotFound, "unknown vendor: "+req.Vendor)
	}
	if req.Symbol == nil {
		return errResponse(req.CallbackID, domain.KindInvalidArgument, "tick_size request missing symbol")
	}
	tick, err := v.TickSize(ctx, *req.Symbol)
	if err != nil {
		return errResponse(req.CallbackID, domain.KindUnsupported, err.Error())
	}
	s := tick.String()
	return &wire.Response{Kind: wire.RespTickSize, CallbackID: req.CallbackID, TickSize: &s}
}

func (d *Dispatcher) handleHistoryRange(ctx context.Context, req wire.Request) *wire.Response {
	if req.Subscription == nil {
		return errResponse(req.CallbackID, domain.KindInvalidArgument, "history_range request missing subscription")
	}
	v, ok := d.vendorFor(req.Subscription.Symbol.Vendor)
	if !ok {
		return errResponse(req.CallbackID, domain.KindNotFound, "unknown vendor: "+req.Subscription.Symbol.Vendor)
	}

	it, err := v.History(ctx, *req.Subscription, req.From, req.To)
	if err != nil {
		return errResponse(req.CallbackID, domain.KindUnsupported, err.Error())
	}
	defer it.Close()

	var records []domain.DataRecord
	for it.Next() {
		records = append(records, it.Record())
	}
	if err := it.Err(); err != nil {
		return errResponse(req.CallbackID, domain.KindVendorError, err.Error())
	}
	return &wire.Response{Kind: wire.RespHistory, CallbackID: req.CallbackID, HistoryRecords: records, HistoryMore: false}
}

func (d *Dispatcher) handlePlaceOrder(ctx context.Context, req wire.Request) *wire.Response {
	if req.Order == nil {
		return errResponse(req.CallbackID, domain.KindInvalidArgument, "place_order request missing order")
	}
	order, events := d.engine.Submit(ctx, *req.Order)
	d.publish(ctx, events)
	return &wire.Response{Kind: wire.RespOrderEvent, CallbackID: req.CallbackID, OrderEvt: orderEventFor(events, order.ID)}
}

func (d *Dispatcher) handleCancelOrder(ctx context.Context, req wire.Request) *wire.Response {
	events, err := d.engine.Cancel(ctx, req.OrderID, time.Now().UTC())
	if err != nil {
		return errResponse(req.CallbackID, domain.KindNotFound, err.Error())
	}
	d.publish(ctx, events)
	if req.CallbackID == 0 {
		return nil
	}
	return &wire.Response{Kind: wire.RespOrderEvent, CallbackID: req.CallbackID, OrderEvt: orderEventFor(events, req.OrderID)}
}

func (d *Dispatcher) handleUpdateOrder(ctx context.Context, req wire.Request) *wire.Response {
	if req.Change == nil {
		return errResponse(req.CallbackID, domain.KindInvalidArgument, "update_order request missing change")
	}
	events, err := d.engine.Modify(ctx, req.OrderID, *req.Change, time.Now().UTC())
	if err != nil {
		return errResponse(req.CallbackID, domain.KindInvalidArgument, err.Error())
	}
	d.publish(ctx, events)
	if req.CallbackID == 0 {
		return nil
	}
	return &wire.Response{Kind: wire.RespOrderEvent, CallbackID: req.CallbackID, OrderEvt: orderEventFor(events, req.OrderID)}
}

func (d *Dispatcher) handleFlattenAccount(ctx context.Context, req wire.Request) *wire.Response {
	events := d.engine.FlattenAccount(ctx, req.Account, time.Now().UTC())
	d.publish(ctx, events)
	return nil
}

func (d *Dispatcher) handleAccountInfo(ctx context.Context, req wire.Request) *wire.Response {
	acc, ok := d.engine.Account(req.Account)
	if !ok {
		return errResponse(req.CallbackID, domain.KindNotFound, "account not found: "+req.Account)
	}
	return &wire.Response{Kind: wire.RespAccountInfo, CallbackID: req.CallbackID, Account: &acc}
}

// publish forwards matching-engine events to the live event bus, never while
// holding an engine lock (spec §4.5/§9's no-reentrancy rule — Submit/Cancel/
// Modify/FlattenAccount all return events to the caller rather than
// publishing internally, for exactly this reason).
func (d *Dispatcher) publish(ctx context.Context, events []eventbus.Event) {
	if d.bus == nil {
		return
	}
	d.bus.PublishAll(ctx, events)
}

// orderEventFor picks the order event matching orderID out of a batch
// (a fill or cancel may also emit bracket/position events we don't surface
// as the direct wire.Response payload).
func orderEventFor(events []eventbus.Event, orderID string) *domain.OrderEvent {
	for _, ev := range events {
		if ev.Kind == eventbus.KindOrder && ev.Order != nil && ev.Order.Order.ID == orderID {
			return ev.Order
		}
	}
	for _, ev := range events {
		if ev.Kind == eventbus.KindOrder && ev.Order != nil {
			return ev.Order
		}
	}
	return nil
}

func errResponse(callbackID uint64, kind domain.ErrorKind, detail string) *wire.Response {
	return &wire.Response{
		Kind:       wire.RespError,
		CallbackID: callbackID,
		Err:        &domain.Error{Kind: kind, Detail: detail},
	}
}
