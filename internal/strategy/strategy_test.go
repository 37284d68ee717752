package strategy

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
	"github.com/fundforge/ffcore/internal/indicator"
	"github.com/fundforge/ffcore/internal/matching"
	"github.com/fundforge/ffcore/internal/subscription"
	"github.com/fundforge/ffcore/internal/timeengine"
	"github.com/fundforge/ffcore/internal/vendor"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func strategySymbol() domain.Symbol {
	return domain.Symbol{Vendor: "sim", MarketType: domain.MarketForex, Name: "EUR_USD"}
}

func candleSub(res domain.Resolution) domain.Subscription {
	return domain.Subscription{Symbol: strategySymbol(), Resolution: res, BaseType: domain.BaseCandle}
}

func candleRecord(sub domain.Subscription, at time.Time, close float64) domain.DataRecord {
	return domain.DataRecord{
		Symbol: sub.Symbol, BaseType: domain.BaseCandle, TimeStart: at, TimeClose: at.Add(sub.Resolution.Duration()), IsClosed: true,
		Candle: &domain.Candle{
			Open: ffdecimal.NewFromFloat(close), High: ffdecimal.NewFromFloat(close), Low: ffdecimal.NewFromFloat(close), Close: ffdecimal.NewFromFloat(close),
		},
	}
}

func newTestStrategy(t *testing.T, account string, cash float64) (*Strategy, *vendor.SimVendor) {
	t.Helper()
	v := vendor.NewSimVendor("sim")
	v.SetPrimaryResolutions(strategySymbol(), []domain.Resolution{domain.Minutes(1)})
	v.SetTickSize(strategySymbol(), ffdecimal.NewFromFloat(0.0001))

	store := historicalstore.NewMemoryStore()
	clk := clock.NewHistoricalClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mgr := subscription.NewManager(v, store, clk, 0)
	ind := indicator.NewEngine()
	matcher := matching.NewEngine(nil, discardLogger())
	matcher.SetAccount(*domain.NewAccount("sim", account, "USD", ffdecimal.NewFromFloat(cash), false))
	matcher.SetSymbolInfo(vendor.SymbolInfo{Symbol: strategySymbol()})
	bus := eventbus.NewBus(64, discardLogger())
	timed := timeengine.NewTimedEventQueue()

	return New(mgr, ind, matcher, store, bus, clk, timed), v
}

func TestSubscribePublishesSubscribedEvent(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 10000)
	sub := candleSub(domain.Minutes(1))

	window, err := s.Subscribe(context.Background(), sub, 10)
	require.NoError(t, err)
	require.Empty(t, window)

	ev := <-s.bus.Events()
	require.Equal(t, eventbus.KindSubscribed, ev.Kind)
}

func TestUnsubscribeOfUnknownSubscriptionIsNotFound(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 10000)
	err := s.Unsubscribe(context.Background(), candleSub(domain.Minutes(1)))
	require.Error(t, err)
}

func TestHistoryUTCClampsToClockNow(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 10000)
	sub := candleSub(domain.Minutes(1))
	now := s.clk.Now()

	require.NoError(t, s.store.SaveBulk(context.Background(), sub, []domain.DataRecord{
		candleRecord(sub, now.Add(-2*time.Minute), 1.1),
		candleRecord(sub, now.Add(-1*time.Minute), 1.2),
		candleRecord(sub, now.Add(1*time.Minute), 1.3),
	}))

	out, err := s.HistoryUTC(context.Background(), sub, now.Add(-1*time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestHistoryLocalConvertsZoneToUTC(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 10000)
	sub := candleSub(domain.Minutes(1))
	now := s.clk.Now()
	require.NoError(t, s.store.SaveBulk(context.Background(), sub, []domain.DataRecord{
		candleRecord(sub, now.Add(-1*time.Minute), 1.1),
	}))

	out, err := s.HistoryLocal(context.Background(), sub, "UTC", now.Add(-1*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, out, 1)

	_, err = s.HistoryLocal(context.Background(), sub, "Not/AZone", now.Add(-1*time.Hour), now)
	require.Error(t, err)
	require.Equal(t, domain.KindInvalidArgument, err.(*domain.Error).Kind)
}

func TestRegisterAndCancelTimedEvent(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 10000)
	at := s.clk.Now().Add(time.Minute)
	id := s.RegisterTimedEvent(at, "rebalance")
	require.NotZero(t, id)

	fired := s.timed.DrainUpTo(at)
	require.Len(t, fired, 1)

	id2 := s.RegisterTimedEvent(at.Add(time.Minute), "never")
	s.CancelTimedEvent(id2)
	require.Empty(t, s.timed.DrainUpTo(at.Add(time.Minute)))
}

func TestSubscribeIndicatorWarmsUpFromHistory(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 10000)
	sub := candleSub(domain.Minutes(1))
	now := s.clk.Now()

	var recs []domain.DataRecord
	for i := 3; i >= 1; i-- {
		recs = append(recs, candleRecord(sub, now.Add(-time.Duration(i)*time.Minute), float64(i)))
	}
	require.NoError(t, s.store.SaveBulk(context.Background(), sub, recs))

	sma := indicator.NewSMA("sma3", sub, 3)
	values, err := s.SubscribeIndicator(context.Background(), sma)
	require.NoError(t, err)
	require.NotEmpty(t, values)

	s.UnsubscribeIndicator("sma3")
}

func TestEnterLongThenExitLongRoundTrips(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 100000)
	sym := strategySymbol()
	s.matcher.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, s.clk.Now())})

	entry, err := s.EnterLong(context.Background(), "acct1", sym, ffdecimal.NewFromFloat(1000), "entry", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, entry.Status)
	require.True(t, s.IsLong("acct1", sym))
	require.False(t, s.IsFlat("acct1", sym))
	require.Equal(t, "1000", s.PositionSize("acct1", sym).String())

	exit, err := s.ExitLong(context.Background(), "acct1", sym, ffdecimal.NewFromFloat(1000), "exit")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, exit.Status)
	require.True(t, s.IsFlat("acct1", sym))
}

func TestBuyLimitRestsWithoutFilling(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 100000)
	sym := strategySymbol()
	s.matcher.Apply([]domain.DataRecord{quoteRecord(sym, 1.2000, 1.2002, s.clk.Now())})

	order, err := s.BuyLimit(context.Background(), "acct1", sym, ffdecimal.NewFromFloat(1000), ffdecimal.NewFromFloat(1.1000), domain.GTC(), "limit-entry")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAccepted, order.Status)

	require.NoError(t, s.Cancel(context.Background(), order.ID))
	require.Error(t, s.Cancel(context.Background(), order.ID))
}

func TestModifyRestingOrder(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 100000)
	sym := strategySymbol()
	s.matcher.Apply([]domain.DataRecord{quoteRecord(sym, 1.2000, 1.2002, s.clk.Now())})

	order, err := s.BuyLimit(context.Background(), "acct1", sym, ffdecimal.NewFromFloat(1000), ffdecimal.NewFromFloat(1.1000), domain.GTC(), "limit-entry")
	require.NoError(t, err)

	newLimit := ffdecimal.NewFromFloat(1.1500)
	err = s.Modify(context.Background(), order.ID, domain.OrderChange{Limit: &newLimit})
	require.NoError(t, err)
}

func TestCancelAllForSymbol(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 100000)
	sym := strategySymbol()
	s.matcher.Apply([]domain.DataRecord{quoteRecord(sym, 1.2000, 1.2002, s.clk.Now())})

	_, err := s.BuyLimit(context.Background(), "acct1", sym, ffdecimal.NewFromFloat(1000), ffdecimal.NewFromFloat(1.1000), domain.GTC(), "a")
	require.NoError(t, err)
	_, err = s.BuyLimit(context.Background(), "acct1", sym, ffdecimal.NewFromFloat(500), ffdecimal.NewFromFloat(1.1100), domain.GTC(), "b")
	require.NoError(t, err)

	require.NoError(t, s.CancelAllForSymbol(context.Background(), sym))
}

func TestFlattenAllForAccountClosesOpenPositions(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 100000)
	sym := strategySymbol()
	s.matcher.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, s.clk.Now())})

	_, err := s.EnterLong(context.Background(), "acct1", sym, ffdecimal.NewFromFloat(1000), "entry", nil)
	require.NoError(t, err)
	require.False(t, s.IsFlat("acct1", sym))

	s.FlattenAllForAccount(context.Background(), "acct1")
	require.True(t, s.IsFlat("acct1", sym))
}

func TestOpenPnLAndBookedPnLAndStatistics(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 100000)
	sym := strategySymbol()
	s.matcher.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, s.clk.Now())})

	_, err := s.EnterLong(context.Background(), "acct1", sym, ffdecimal.NewFromFloat(1000), "entry", nil)
	require.NoError(t, err)

	s.matcher.Apply([]domain.DataRecord{quoteRecord(sym, 1.2000, 1.2002, s.clk.Now())})
	require.True(t, s.InProfit("acct1", sym))
	require.True(t, s.OpenPnL("acct1", sym).Sign() > 0)

	_, err = s.ExitLong(context.Background(), "acct1", sym, ffdecimal.NewFromFloat(1000), "exit")
	require.NoError(t, err)

	require.True(t, s.BookedPnL("acct1").Sign() > 0)
	stats := s.Statistics("acct1")
	require.Equal(t, 1, stats.TotalTrades)
	require.Equal(t, 1, stats.Wins)
}

func TestIsLongIsShortIsFlatOnUnknownAccount(t *testing.T) {
	s, _ := newTestStrategy(t, "acct1", 100000)
	sym := strategySymbol()
	require.False(t, s.IsLong("ghost", sym))
	require.False(t, s.IsShort("ghost", sym))
	require.True(t, s.IsFlat("ghost", sym))
	require.Equal(t, ffdecimal.Zero, s.PositionSize("ghost", sym))
	require.Equal(t, ffdecimal.Zero, s.OpenPnL("ghost", sym))
}

func quoteRecord(sym domain.Symbol, bid, ask float64, at time.Time) domain.DataRecord {
	return domain.DataRecord{
		Symbol: sym, BaseType: domain.BaseQuote, TimeStart: at, TimeClose: at, IsClosed: true,
		Quote: &domain.Quote{
			Bid: ffdecimal.NewFromFloat(bid), Ask: ffdecimal.NewFromFloat(ask),
			BidSize: ffdecimal.NewFromFloat(1000000), AskSize: ffdecimal.NewFromFloat(1000000),
		},
	}
}
