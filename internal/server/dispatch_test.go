package server

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fundforge/ffcore/internal/clock"
	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/historicalstore"
	"github.com/fundforge/ffcore/internal/matching"
	"github.com/fundforge/ffcore/internal/subscription"
	"github.com/fundforge/ffcore/internal/vendor"
	"github.com/fundforge/ffcore/internal/wire"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dispatchSymbol() domain.Symbol {
	return domain.Symbol{Vendor: "sim", MarketType: domain.MarketForex, Name: "EUR_USD"}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *matching.Engine, *vendor.SimVendor) {
	t.Helper()
	v := vendor.NewSimVendor("sim")
	v.SetPrimaryResolutions(dispatchSymbol(), []domain.Resolution{domain.Minutes(1)})
	v.SetTickSize(dispatchSymbol(), ffdecimal.NewFromFloat(0.0001))

	engine := matching.NewEngine(nil, discardLogger())
	engine.SetAccount(*domain.NewAccount("sim", "acct1", "USD", ffdecimal.NewFromFloat(10000), false))

	mgr := subscription.NewManager(v, historicalstore.NewMemoryStore(), clock.NewRealClock(), 0)
	bus := eventbus.NewBus(64, discardLogger())
	d := NewDispatcher(map[string]vendor.Vendor{"sim": v}, mgr, engine, bus, discardLogger())
	return d, engine, v
}

func TestDispatchUnknownVendorReturnsError(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqSymbols, CallbackID: 1, Vendor: "nope", MarketType: domain.MarketForex})
	require.NotNil(t, resp)
	require.Equal(t, wire.RespError, resp.Kind)
	require.Equal(t, domain.KindNotFound, resp.Err.Kind)
}

func TestDispatchTickSize(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	sym := dispatchSymbol()
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqTickSize, CallbackID: 1, Vendor: "sim", Symbol: &sym})
	require.Equal(t, wire.RespTickSize, resp.Kind)
	require.Equal(t, "0.0001", *resp.TickSize)
}

func TestDispatchPlaceOrderRejectsWithoutMarketData(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	order := &domain.Order{
		ID: "o1", Account: "acct1", Symbol: dispatchSymbol(), Side: domain.Buy, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1000), TIF: domain.GTC(), CreatedAt: time.Now(),
	}
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqPlaceOrder, CallbackID: 1, Order: order})
	require.Equal(t, wire.RespOrderEvent, resp.Kind)
	require.NotNil(t, resp.OrderEvt)
	require.Equal(t, domain.StatusRejected, resp.OrderEvt.Order.Status)
}

func TestDispatchAccountInfoUnknownAccount(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqAccountInfo, CallbackID: 1, Account: "missing"})
	require.Equal(t, wire.RespError, resp.Kind)
	require.Equal(t, domain.KindNotFound, resp.Err.Kind)
}

func TestDispatchAccountInfoKnownAccount(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqAccountInfo, CallbackID: 1, Account: "acct1"})
	require.Equal(t, wire.RespAccountInfo, resp.Kind)
	require.NotNil(t, resp.Account)
	require.Equal(t, "acct1", resp.Account.ID)
}

func TestDispatchCancelUnknownOrderIsNotFound(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqCancelOrder, CallbackID: 1, OrderID: "ghost"})
	require.Equal(t, wire.RespError, resp.Kind)
	require.Equal(t, domain.KindNotFound, resp.Err.Kind)
}

func TestDispatchUnhandledKindReturnsInvalidArgument(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.RequestKind("bogus"), CallbackID: 9})
	require.Equal(t, wire.RespError, resp.Kind)
	require.Equal(t, domain.KindInvalidArgument, resp.Err.Kind)
	require.Equal(t, uint64(9), resp.CallbackID)
}

func TestDispatchRegisterIsAcknowledgedWithNoResponse(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqRegister, Mode: wire.ModeLive})
	require.Nil(t, resp)
}

func dispatchSub() domain.Subscription {
	return domain.Subscription{Symbol: dispatchSymbol(), Resolution: domain.Minutes(1), BaseType: domain.BaseCandle}
}

func TestDispatchSubscribeReturnsWarmupWindow(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	sub := dispatchSub()
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqSubscribe, CallbackID: 1, Subscription: &sub, HistoryLen: 5})
	require.Equal(t, wire.RespHistory, resp.Kind)
}

func TestDispatchSubscribeFireAndForgetReturnsNoResponse(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	sub := dispatchSub()
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqSubscribe, Subscription: &sub, HistoryLen: 5})
	require.Nil(t, resp)
}

func TestDispatchSubscribeMissingSubscriptionIsInvalidArgument(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqSubscribe, CallbackID: 1})
	require.Equal(t, wire.RespError, resp.Kind)
	require.Equal(t, domain.KindInvalidArgument, resp.Err.Kind)
}

func TestDispatchUnsubscribeUnknownIsNotFound(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	sub := dispatchSub()
	resp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqUnsubscribe, CallbackID: 1, Subscription: &sub})
	require.Equal(t, wire.RespError, resp.Kind)
	require.Equal(t, domain.KindNotFound, resp.Err.Kind)
}

func TestDispatchSubscribeThenUnsubscribeSucceeds(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	sub := dispatchSub()
	subResp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqSubscribe, CallbackID: 1, Subscription: &sub, HistoryLen: 5})
	require.Equal(t, wire.RespHistory, subResp.Kind)

	unsubResp := d.Dispatch(context.Background(), wire.Request{Kind: wire.ReqUnsubscribe, CallbackID: 2, Subscription: &sub})
	require.Nil(t, unsubResp)
}
