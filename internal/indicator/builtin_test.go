package indicator

import (
	"testing"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/stretchr/testify/require"
)

func closedCandle(closePx float64, at time.Time) domain.DataRecord {
	return domain.DataRecord{
		BaseType: domain.BaseCandle,
		IsClosed: true,
		TimeClose: at,
		Candle: &domain.Candle{
			Open: ffdecimal.NewFromFloat(closePx), High: ffdecimal.NewFromFloat(closePx),
			Low: ffdecimal.NewFromFloat(closePx), Close: ffdecimal.NewFromFloat(closePx),
		},
	}
}

func TestSMAWarmupThenValue(t *testing.T) {
	sma := NewSMA("sma3", domain.Subscription{}, 3)
	now := time.Now()

	_, ok, err := sma.Update(closedCandle(1, now))
	require.NoError(t, err)
	require.False(t, ok, "should not emit before the window fills")

	_, ok, err = sma.Update(closedCandle(2, now))
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := sma.Update(closedCandle(3, now))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v.Plots["sma"])

	// Window slides: drop the 1, add a 6 -> (2+3+6)/3 = 3.6666...
	v, ok, err = sma.Update(closedCandle(6, now))
	require.NoError(t, err)
	require.True(t, ok)
	got, err := ffdecimal.NewFromString(v.Plots["sma"])
	require.NoError(t, err)
	want, _ := ffdecimal.NewFromString("3.6666666666666667")
	require.True(t, got.Sub(want).Abs().LessThan(ffdecimal.NewFromFloat(0.0001)))
}

func TestSMAIgnoresUnclosedRecords(t *testing.T) {
	sma := NewSMA("sma2", domain.Subscription{}, 2)
	open := closedCandle(1, time.Now())
	open.IsClosed = false

	_, ok, err := sma.Update(open)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEMASeedsThenRecurs(t *testing.T) {
	ema := NewEMA("ema2", domain.Subscription{}, 2)
	now := time.Now()

	_, ok, err := ema.Update(closedCandle(1, now))
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := ema.Update(closedCandle(3, now))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v.Plots["ema"]) // seed = simple average of 1,3

	// alpha = 2/3; next = (5-2)*(2/3)+2 = 4
	v, ok, err = ema.Update(closedCandle(5, now))
	require.NoError(t, err)
	require.True(t, ok)
	got, err := ffdecimal.NewFromString(v.Plots["ema"])
	require.NoError(t, err)
	want := ffdecimal.NewFromFloat(4)
	require.True(t, got.Sub(want).Abs().LessThan(ffdecimal.NewFromFloat(0.0001)))
}

func TestATRRequiresCandle(t *testing.T) {
	atr := NewATR("atr1", domain.Subscription{}, 1)
	rec := domain.DataRecord{BaseType: domain.BaseTick, IsClosed: true, Tick: &domain.Tick{Price: ffdecimal.NewFromFloat(1)}}

	_, ok, err := atr.Update(rec)
	require.NoError(t, err)
	require.False(t, ok, "ATR needs a candle, not a tick")
}

func TestATRFirstValueIsRange(t *testing.T) {
	atr := NewATR("atr1", domain.Subscription{}, 1)
	now := time.Now()
	rec := domain.DataRecord{
		BaseType: domain.BaseCandle, IsClosed: true, TimeClose: now,
		Candle: &domain.Candle{
			Open: ffdecimal.NewFromFloat(10), High: ffdecimal.NewFromFloat(12),
			Low: ffdecimal.NewFromFloat(9), Close: ffdecimal.NewFromFloat(11),
		},
	}

	v, ok, err := atr.Update(rec)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3", v.Plots["atr"]) // period 1: seeds immediately with High-Low
}
