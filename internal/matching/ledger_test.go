package matching

import (
	"context"
	"testing"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/fx"
	"github.com/fundforge/ffcore/internal/vendor"
	"github.com/stretchr/testify/require"
)

// TestClosingFillSurfacesFXFailureInsteadOfSwallowingIt reproduces a closing
// fill whose symbol's PnL currency has no FX observation against the
// account's currency: the fill must still execute (position/cash ledger
// advances on the un-converted PnL) but the FX failure must be visible to
// the caller as an engine_error event rather than silently booked as if the
// rate were 1:1.
func TestClosingFillSurfacesFXFailureInsteadOfSwallowingIt(t *testing.T) {
	e := NewEngine(fx.NewMemorySource(), testLogger())
	sym := testSymbol()
	e.SetAccount(*domain.NewAccount("sim", "acct1", "USD", ffdecimal.NewFromFloat(10000), false))
	e.SetSymbolInfo(vendor.SymbolInfo{Symbol: sym, PnLCurrency: "EUR"})

	now := time.Now()
	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1000, 1.1002, now)})
	_, _ = e.Submit(context.Background(), domain.Order{
		ID: "o1", Account: "acct1", Symbol: sym, Side: domain.Buy, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1000), TIF: domain.GTC(), CreatedAt: now,
	})

	later := now.Add(time.Minute)
	e.Apply([]domain.DataRecord{quoteRecord(sym, 1.1100, 1.1102, later)})
	filled, events := e.Submit(context.Background(), domain.Order{
		ID: "o2", Account: "acct1", Symbol: sym, Side: domain.Sell, Kind: domain.KindMarket,
		Quantity: ffdecimal.NewFromFloat(1000), TIF: domain.GTC(), CreatedAt: later,
	})
	require.Equal(t, domain.StatusFilled, filled.Status)

	var sawErr bool
	for _, ev := range events {
		if ev.Kind == eventbus.KindEngineError {
			sawErr = true
			require.NotNil(t, ev.EngineErr)
			require.Equal(t, domain.KindVendorError, ev.EngineErr.Kind)
		}
	}
	require.True(t, sawErr, "a missing FX observation must surface as an engine_error event")

	// The position still closed despite the FX failure.
	acc, _ := e.Account("acct1")
	pos := acc.PositionsBySymbol[sym.Key()]
	require.True(t, pos.IsFlat())
	closedTrades := e.ClosedTrades("acct1")
	require.Len(t, closedTrades, 1)
}
