package matching

import (
	"context"
	"log/slog"
	"testing"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/vendor"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testSymbol() domain.Symbol {
	return domain.Symbol{Vendor: "sim", MarketType: domain.MarketForex, Name: "EUR_USD"}
}

func quoteRecord(sym domain.Symbol, bid, ask float64, at time.Time) domain.DataRecord {
	return domain.DataRecord{
		Symbol: sym, BaseType: domain.BaseQuote, TimeStart: at, TimeClose: at, IsClosed: true,
		Quote: &domain.Quote{
			Bid: ffdecimal.NewFromFloat(bid), Ask: ffdecimal.NewFromFloat(ask),
			BidSize: ffdecimal.NewFromFloat(1000), AskSize: ffdecimal.NewFromFloat(1000),
		},
	}
}

func newTestEngine(t *testing.T, accountID string, cash float64) *Engine {
	t.Helper()
	e := NewEngine(nil, testLogger())
	e.SetAccount(*domain.NewAccount("sim", accountID, "USD", ffdecimal.NewFromFloat(cash), false))
	e.SetSymbolInfo(vendor.SymbolInfo{Symbol: testSymbol()})
	return e
}

func TestSubmitMarketOrderFillsAgainstOppositeQuote(t *testing.T) {
	e := newTestEngine(t, "acct1", 10000)
	sym := testSymbol()
	now := time.Now()

	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, now)})

	order := domain.Order{
		ID: "o1", Account: "acct1", Symbol: sym, Side: domain.Buy, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1000), TIF: domain.GTC(), CreatedAt: now,
	}
	filled, events := e.Submit(context.Background(), order)

	require.Equal(t, domain.StatusFilled, filled.Status)
	require.Equal(t, "1.1002", filled.AvgFillPx.String())
	require.Len(t, events, 2) // order fill + position update
	require.Equal(t, eventbus.KindOrder, events[0].Kind)
	require.Equal(t, eventbus.KindPosition, events[1].Kind)

	acc, ok := e.Account("acct1")
	require.True(t, ok)
	pos := acc.PositionsBySymbol[sym.Key()]
	require.NotNil(t, pos)
	require.Equal(t, domain.PositionLong, pos.Side)
	require.Equal(t, "1000", pos.OpenQty.String())
}

func TestMarketOrderRejectsWithNoMarketData(t *testing.T) {
	e := newTestEngine(t, "acct1", 10000)
	sym := testSymbol()
	now := time.Now()

	order := domain.Order{
		ID: "o1", Account: "acct1", Symbol: sym, Side: domain.Buy, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1000), TIF: domain.GTC(), CreatedAt: now,
	}
	filled, events := e.Submit(context.Background(), order)
	require.Equal(t, domain.StatusRejected, filled.Status)
	require.Len(t, events, 1)
}

func TestLimitOrderRestsThenFillsOnCross(t *testing.T) {
	e := newTestEngine(t, "acct1", 10000)
	sym := testSymbol()
	now := time.Now()

	limit := ffdecimal.NewFromFloat(1.0990)
	order := domain.Order{
		ID: "o1", Account: "acct1", Symbol: sym, Side: domain.Buy, Kind: domain.KindLimit,
		Quantity: ffdecimal.NewFromFloat(1000), Limit: &limit, TIF: domain.GTC(), CreatedAt: now,
	}

	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, now)})
	filled, events := e.Submit(context.Background(), order)
	require.Equal(t, domain.StatusAccepted, filled.Status)
	require.Empty(t, events)

	// Market drops through the limit: the resting order should fill, capped
	// at the limit price even though the ask is better.
	later := now.Add(time.Minute)
	events = e.Apply([]domain.DataRecord{quoteRecord(sym, 1.0988, 1.0989, later)})
	require.NotEmpty(t, events)

	acc, _ := e.Account("acct1")
	pos := acc.PositionsBySymbol[sym.Key()]
	require.Equal(t, "1.099", pos.AvgOpenPrice.String())
}

func TestIOCOrderCancelsResidualInsteadOfResting(t *testing.T) {
	e := newTestEngine(t, "acct1", 10000)
	sym := testSymbol()
	now := time.Now()

	limit := ffdecimal.NewFromFloat(1.0500) // far from market, won't cross
	order := domain.Order{
		ID: "o1", Account: "acct1", Symbol: sym, Side: domain.Buy, Kind: domain.KindLimit,
		Quantity: ffdecimal.NewFromFloat(1000), Limit: &limit, TIF: domain.IOC(), CreatedAt: now,
	}
	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, now)})
	filled, _ := e.Submit(context.Background(), order)
	require.Equal(t, domain.StatusCancelled, filled.Status)
}

func TestOverfillFlipsPositionSide(t *testing.T) {
	e := newTestEngine(t, "acct1", 10000)
	sym := testSymbol()
	now := time.Now()
	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, now)})

	// Open a long of 1000.
	_, _ = e.Submit(context.Background(), domain.Order{
		ID: "o1", Account: "acct1", Symbol: sym, Side: domain.Buy, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1000), TIF: domain.GTC(), CreatedAt: now,
	})

	// Sell 1500: closes the long (1000) and opens a short of 500.
	later := now.Add(time.Minute)
	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1010, 1.1012, later)})
	filled, events := e.Submit(context.Background(), domain.Order{
		ID: "o2", Account: "acct1", Symbol: sym, Side: domain.Sell, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1500), TIF: domain.GTC(), CreatedAt: later, Tag: "flip",
	})
	require.Equal(t, domain.StatusFilled, filled.Status)

	var posEvt *domain.PositionEvent
	for _, ev := range events {
		if ev.Kind == eventbus.KindPosition {
			posEvt = ev.Position
		}
	}
	require.NotNil(t, posEvt)
	require.NotNil(t, posEvt.Closed)
	require.Equal(t, "1000", posEvt.Closed.Quantity.String())

	acc, _ := e.Account("acct1")
	pos := acc.PositionsBySymbol[sym.Key()]
	require.Equal(t, domain.PositionShort, pos.Side)
	require.Equal(t, "500", pos.OpenQty.String())
	require.Equal(t, "flip", pos.Tag)

	closedTrades := e.ClosedTrades("acct1")
	require.Len(t, closedTrades, 1)
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	e := newTestEngine(t, "acct1", 10000)
	sym := testSymbol()
	now := time.Now()
	limit := ffdecimal.NewFromFloat(1.0500)
	order := domain.Order{
		ID: "o1", Account: "acct1", Symbol: sym, Side: domain.Buy, Kind: domain.KindLimit,
		Quantity: ffdecimal.NewFromFloat(1000), Limit: &limit, TIF: domain.GTC(), CreatedAt: now,
	}
	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, now)})
	filled, _ := e.Submit(context.Background(), order)
	require.Equal(t, domain.StatusAccepted, filled.Status)

	events, err := e.Cancel(context.Background(), "o1", now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, events, 1)

	_, err = e.Cancel(context.Background(), "o1", now.Add(time.Second))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBracketsInstallAfterEntryFills(t *testing.T) {
	e := newTestEngine(t, "acct1", 10000)
	sym := testSymbol()
	now := time.Now()
	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, now)})

	tp := ffdecimal.NewFromFloat(1.1100)
	sl := ffdecimal.NewFromFloat(1.0900)
	filled, events := e.Submit(context.Background(), domain.Order{
		ID: "entry", Account: "acct1", Symbol: sym, Side: domain.Buy, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1000), TIF: domain.GTC(), CreatedAt: now,
		Brackets: &domain.Brackets{TakeProfit: &tp, StopLoss: &sl},
	})
	require.Equal(t, domain.StatusFilled, filled.Status)

	var bracketOrders int
	for _, ev := range events {
		if ev.Kind == eventbus.KindOrder && ev.Order.Order.ID != "entry" {
			bracketOrders++
		}
	}
	require.Equal(t, 2, bracketOrders)
}

func TestStatisticsComputesWinRateAndDrawdown(t *testing.T) {
	e := newTestEngine(t, "acct1", 10000)
	sym := testSymbol()
	now := time.Now()

	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, now)})
	e.Submit(context.Background(), domain.Order{
		ID: "o1", Account: "acct1", Symbol: sym, Side: domain.Buy, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1000), TIF: domain.GTC(), CreatedAt: now,
	})

	// Close for a win.
	later := now.Add(time.Minute)
	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1100, 1.1102, later)})
	e.Submit(context.Background(), domain.Order{
		ID: "o2", Account: "acct1", Symbol: sym, Side: domain.Sell, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1000), TIF: domain.GTC(), CreatedAt: later,
	})

	stats := e.Statistics("acct1")
	require.Equal(t, 1, stats.TotalTrades)
	require.Equal(t, 1, stats.Wins)
	require.Equal(t, 0, stats.Losses)
	require.Equal(t, "1", stats.WinRate.String())
	require.True(t, stats.AvgWin.Sign() > 0)
}

func TestFlattenAccountClosesOpenPositions(t *testing.T) {
	e := newTestEngine(t, "acct1", 10000)
	sym := testSymbol()
	now := time.Now()

	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, now)})
	e.Submit(context.Background(), domain.Order{
		ID: "o1", Account: "acct1", Symbol: sym, Side: domain.Buy, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1000), TIF: domain.GTC(), CreatedAt: now,
	})

	events := e.FlattenAccount(context.Background(), "acct1", now.Add(time.Minute))
	require.NotEmpty(t, events)

	acc, _ := e.Account("acct1")
	pos := acc.PositionsBySymbol[sym.Key()]
	require.True(t, pos.IsFlat())
}
