package indicator

import (
	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
)

// SMA is a simple moving average over the representative price of the last
// Period closed records of its subscription.
type SMA struct {
	name   string
	sub    domain.Subscription
	period int

	window []ffdecimal.Price
	sum    ffdecimal.Price
}

func NewSMA(name string, sub domain.Subscription, period int) *SMA {
	return &SMA{name: name, sub: sub, period: period, sum: ffdecimal.Zero}
}

func (s *SMA) Name() string                      { return s.name }
func (s *SMA) Subscription() domain.Subscription { return s.sub }
func (s *SMA) HistoryLen() int                   { return s.period }
func (s *SMA) WarmupRequired() bool              { return true }

func (s *SMA) Update(rec domain.DataRecord) (eventbus.IndicatorValues, bool, error) {
	if !rec.IsClosed {
		return eventbus.IndicatorValues{}, false, nil
	}
	px := rec.Price()
	s.window = append(s.window, px)
	s.sum = s.sum.Add(px)
	if len(s.window) > s.period {
		s.sum = s.sum.Sub(s.window[0])
		s.window = s.window[1:]
	}
	if len(s.window) < s.period {
		return eventbus.IndicatorValues{}, false, nil
	}
	avg := s.sum.Div(ffdecimal.NewFromFloat(float64(s.period)))
	return eventbus.IndicatorValues{
		Indicator: s.name, Time: rec.TimeClose,
		Plots: map[string]string{"sma": avg.String()},
	}, true, nil
}

var _ Indicator = (*SMA)(nil)

// EMA is an exponential moving average, seeded by a simple average of the
// first Period closes and then recurred with alpha = 2/(period+1).
type EMA struct {
	name   string
	sub    domain.Subscription
	period int
	alpha  ffdecimal.Price

	seedWindow []ffdecimal.Price
	seedSum    ffdecimal.Price
	value      ffdecimal.Price
	seeded     bool
}

func NewEMA(name string, sub domain.Subscription, period int) *EMA {
	alpha := ffdecimal.NewFromFloat(2).Div(ffdecimal.NewFromFloat(float64(period + 1)))
	return &EMA{name: name, sub: sub, period: period, alpha: alpha, seedSum: ffdecimal.Zero}
}

func (e *EMA) Name() string                      { return e.name }
func (e *EMA) Subscription() domain.Subscription { return e.sub }
func (e *EMA) HistoryLen() int                   { return e.period }
func (e *EMA) WarmupRequired() bool              { return true }

func (e *EMA) Update(rec domain.DataRecord) (eventbus.IndicatorValues, bool, error) {
	if !rec.IsClosed {
		return eventbus.IndicatorValues{}, false, nil
	}
	px := rec.Price()

	if !e.seeded {
		e.seedWindow = append(e.seedWindow, px)
		e.seedSum = e.seedSum.Add(px)
		if len(e.seedWindow) < e.period {
			return eventbus.IndicatorValues{}, false, nil
		}
		e.value = e.seedSum.Div(ffdecimal.NewFromFloat(float64(e.period)))
		e.seeded = true
	} else {
		e.value = px.Sub(e.value).Mul(e.alpha).Add(e.value)
	}

	return eventbus.IndicatorValues{
		Indicator: e.name, Time: rec.TimeClose,
		Plots: map[string]string{"ema": e.value.String()},
	}, true, nil
}

var _ Indicator = (*EMA)(nil)

// ATR is the average true range over Period candles (Wilder's smoothing).
type ATR struct {
	name   string
	sub    domain.Subscription
	period int

	prevClose ffdecimal.Price
	havePrev  bool
	value     ffdecimal.Price
	seeded    bool
	seedSum   ffdecimal.Price
	seedCount int
}

func NewATR(name string, sub domain.Subscription, period int) *ATR {
	return &ATR{name: name, sub: sub, period: period, seedSum: ffdecimal.Zero}
}

func (a *ATR) Name() string                      { return a.name }
func (a *ATR) Subscription() domain.Subscription { return a.sub }
func (a *ATR) HistoryLen() int                   { return a.period + 1 }
func (a *ATR) WarmupRequired() bool              { return true }

func (a *ATR) Update(rec domain.DataRecord) (eventbus.IndicatorValues, bool, error) {
	if !rec.IsClosed || rec.Candle == nil {
		return eventbus.IndicatorValues{}, false, nil
	}
	c := rec.Candle
	trueRange := c.High.Sub(c.Low)
	if a.havePrev {
		hc := c.High.Sub(a.prevClose).Abs()
		lc := c.Low.Sub(a.prevClose).Abs()
		trueRange = ffdecimal.Max(trueRange, ffdecimal.Max(hc, lc))
	}
	a.prevClose, a.havePrev = c.Close, true

	if !a.seeded {
		a.seedSum = a.seedSum.Add(trueRange)
		a.seedCount++
		if a.seedCount < a.period {
			return eventbus.IndicatorValues{}, false, nil
		}
		a.value = a.seedSum.Div(ffdecimal.NewFromFloat(float64(a.period)))
		a.seeded = true
	} else {
		periodDec := ffdecimal.NewFromFloat(float64(a.period))
		a.value = a.value.Mul(periodDec.Sub(ffdecimal.NewFromFloat(1))).Add(trueRange).Div(periodDec)
	}

	return eventbus.IndicatorValues{
		Indicator: a.name, Time: rec.TimeClose,
		Plots: map[string]string{"atr": a.value.String()},
	}, true, nil
}

var _ Indicator = (*ATR)(nil)
