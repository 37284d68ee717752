package timeengine

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
	"github.com/fundforge/ffcore/internal/subscription"
	"github.com/fundforge/ffcore/internal/vendor"
	"github.com/stretchr/testify/require"
)

func liveTestLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func emptyManager() *subscription.Manager {
	return subscription.NewManager(nil, historicalstore.NewMemoryStore(), clock.NewRealClock(), 0)
}

func TestLiveSchedulerPublishesShutdownOnContextCancellation(t *testing.T) {
	bus := eventbus.NewBus(16, liveTestLogger())
	s := NewLiveScheduler(clock.NewRealClock(), emptyManager(), bus, NewTimedEventQueue(), 10*time.Millisecond, nil, nil, liveTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	var sawShutdown bool
	for {
		select {
		case ev := <-bus.Events():
			if ev.Kind == eventbus.KindShutdown {
				sawShutdown = true
			}
		default:
			require.True(t, sawShutdown, "expected a shutdown event after Run returns")
			return
		}
	}
}

func TestLiveSchedulerFansOutBrokerageEventsImmediately(t *testing.T) {
	bus := eventbus.NewBus(16, liveTestLogger())
	orderEvents := make(chan domain.OrderEvent, 1)
	positionEvents := make(chan domain.PositionEvent, 1)
	s := NewLiveScheduler(clock.NewRealClock(), emptyManager(), bus, NewTimedEventQueue(), time.Hour, orderEvents, positionEvents, liveTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	now := time.Now()
	orderEvents <- domain.OrderEvent{Order: domain.Order{ID: "o1"}, Time: now}
	positionEvents <- domain.PositionEvent{Position: domain.Position{Side: domain.PositionLong}, Time: now}

	var gotOrder, gotPosition bool
	deadline := time.After(2 * time.Second)
	for !gotOrder || !gotPosition {
		select {
		case ev := <-bus.Events():
			switch ev.Kind {
			case eventbus.KindOrder:
				gotOrder = true
			case eventbus.KindPosition:
				gotPosition = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for brokerage events to be fanned out")
		}
	}
}

// tickStreamVendor supplies one native tick resolution and a writable
// SubscribeStream channel the test feeds directly.
type tickStreamVendor struct {
	ch chan domain.DataRecord
}

func (v *tickStreamVendor) Name() string { return "fake" }
func (v *tickStreamVendor) Symbols(ctx context.Context, market domain.MarketType) ([]domain.Symbol, error) {
	return nil, nil
}
func (v *tickStreamVendor) TickSize(ctx context.Context, sym domain.Symbol) (ffdecimal.Price, error) {
	return ffdecimal.Zero, nil
}
func (v *tickStreamVendor) History(ctx context.Context, sub domain.Subscription, from, to time.Time) (vendor.HistoryIterator, error) {
	return nil, nil
}
func (v *tickStreamVendor) PrimaryResolutions(ctx context.Context, sym domain.Symbol) ([]domain.Resolution, error) {
	return []domain.Resolution{domain.Ticks(1)}, nil
}
func (v *tickStreamVendor) SubscribeStream(ctx context.Context, sub domain.Subscription, streamName string) (<-chan domain.DataRecord, error) {
	return v.ch, nil
}
func (v *tickStreamVendor) UnsubscribeStream(ctx context.Context, sub domain.Subscription, streamName string) error {
	return nil
}

// TestPollPrimariesReturnsPrimaryAndAllDerivedRecords reproduces a
// fill-forward candle consolidator closing several bars off a single
// incoming tick, and checks pollPrimaries returns the raw primary tick
// together with every derived record instead of dropping all but one
// (mirrors BacktestScheduler.Run's batch-build loop).
func TestPollPrimariesReturnsPrimaryAndAllDerivedRecords(t *testing.T) {
	sym := domain.Symbol{Vendor: "fake", MarketType: domain.MarketForex, Name: "EUR_USD"}
	ch := make(chan domain.DataRecord, 2)
	v := &tickStreamVendor{ch: ch}
	store := historicalstore.NewMemoryStore()
	clk := clock.NewRealClock()
	mgr := subscription.NewManager(v, store, clk, 0)

	sub := domain.Subscription{
		Symbol: sym, Resolution: domain.Seconds(1), BaseType: domain.BaseCandle, FillForward: true,
	}
	_, _, err := mgr.Subscribe(context.Background(), sub, 0)
	require.NoError(t, err)
	keys := mgr.PrimaryKeys()
	require.Len(t, keys, 1)

	s := NewLiveScheduler(clk, mgr, eventbus.NewBus(16, liveTestLogger()), NewTimedEventQueue(), time.Hour, nil, nil, liveTestLogger())

	t0 := time.Unix(1_700_000_000, 0).UTC()
	price := ffdecimal.NewFromFloat(100)
	ch <- domain.DataRecord{Symbol: sym, BaseType: domain.BaseTick, TimeStart: t0, Tick: &domain.Tick{Price: price, Size: ffdecimal.NewFromFloat(1)}}

	first, ok := s.pollPrimaries(context.Background())
	require.True(t, ok)
	require.Len(t, first, 1, "first tick opens a window but closes nothing yet")

	t1 := t0.Add(5 * time.Second)
	ch <- domain.DataRecord{Symbol: sym, BaseType: domain.BaseTick, TimeStart: t1, Tick: &domain.Tick{Price: price, Size: ffdecimal.NewFromFloat(1)}}

	second, ok := s.pollPrimaries(context.Background())
	require.True(t, ok)
	require.True(t, len(second) > 1, "fill-forward should have closed multiple 1s windows off the second tick")

	var sawRawTick bool
	for _, rec := range second {
		if rec.BaseType == domain.BaseTick && rec.TimeStart.Equal(t1) {
			sawRawTick = true
		}
	}
	require.True(t, sawRawTick, "pollPrimaries must not drop the raw primary record alongside derived output")
}

func TestLiveSchedulerDrainsTimedEventsOnSchedule(t *testing.T) {
	bus := eventbus.NewBus(16, liveTestLogger())
	clk := clock.NewRealClock()
	timed := NewTimedEventQueue()
	s := NewLiveScheduler(clk, emptyManager(), bus, timed, time.Hour, nil, nil, liveTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	timed.Schedule(clk.Now(), func(now time.Time) []eventbus.Event {
		return []eventbus.Event{eventbus.TimerEvent("wake", now)}
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-bus.Events():
			if ev.Kind == eventbus.KindTimer {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for timed event to drain onto the bus")
		}
	}
}
