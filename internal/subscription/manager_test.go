package subscription

import (
	"context"
	"testing"
	"time"

	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/historicalstore"
	"github.com/fundforge/ffcore/internal/vendor"
	"github.com/stretchr/testify/require"
)

// fixedClock reports a constant instant; SleepUntil returns immediately.
type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) SleepUntil(ctx context.Context, t time.Time) error { return nil }

// fakeVendor supplies only what the manager's primary-selection path needs:
// PrimaryResolutions and SubscribeStream. The rest are unused by these tests.
type fakeVendor struct {
	native []domain.Resolution
}

func (f *fakeVendor) Name() string { return "fake" }
func (f *fakeVendor) Symbols(ctx context.Context, market domain.MarketType) ([]domain.Symbol, error) {
	return nil, nil
}
func (f *fakeVendor) TickSize(ctx context.Context, sym domain.Symbol) (ffdecimal.Price, error) {
	return ffdecimal.Zero, nil
}
func (f *fakeVendor) History(ctx context.Context, sub domain.Subscription, from, to time.Time) (vendor.HistoryIterator, error) {
	return nil, nil
}
func (f *fakeVendor) PrimaryResolutions(ctx context.Context, sym domain.Symbol) ([]domain.Resolution, error) {
	return f.native, nil
}
func (f *fakeVendor) SubscribeStream(ctx context.Context, sub domain.Subscription, streamName string) (<-chan domain.DataRecord, error) {
	ch := make(chan domain.DataRecord)
	close(ch)
	return ch, nil
}
func (f *fakeVendor) UnsubscribeStream(ctx context.Context, sub domain.Subscription, streamName string) error {
	return nil
}

func testSym() domain.Symbol {
	return domain.Symbol{Vendor: "fake", MarketType: domain.MarketForex, Name: "EUR_USD"}
}

func TestSubscribeExactNativeMatchIsPassthrough(t *testing.T) {
	v := &fakeVendor{native: []domain.Resolution{domain.Minutes(1), domain.Minutes(5)}}
	store := historicalstore.NewMemoryStore()
	clk := fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager(v, store, clk, 0)

	sub := domain.Subscription{Symbol: testSym(), Resolution: domain.Minutes(5), BaseType: domain.BaseCandle}
	_, events, err := mgr.Subscribe(context.Background(), sub, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	keys := mgr.PrimaryKeys()
	require.Len(t, keys, 1)
	// A native exact match shares its key with the derived subscription.
	require.Equal(t, sub.Key(), keys[0])
}

func TestSubscribeNonNativeResolutionBuildsConsolidator(t *testing.T) {
	v := &fakeVendor{native: []domain.Resolution{domain.Minutes(1)}}
	store := historicalstore.NewMemoryStore()
	clk := fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager(v, store, clk, 0)

	sub := domain.Subscription{Symbol: testSym(), Resolution: domain.Minutes(15), BaseType: domain.BaseCandle}
	_, _, err := mgr.Subscribe(context.Background(), sub, 0)
	require.NoError(t, err)

	keys := mgr.PrimaryKeys()
	require.Len(t, keys, 1)
	// The primary is the coarsest native resolution that divides the target.
	require.NotEqual(t, sub.Key(), keys[0])
	primarySub, ok := mgr.PrimarySubscription(keys[0])
	require.True(t, ok)
	require.Equal(t, domain.Minutes(1), primarySub.Resolution)
}

func TestSubscribeSharesOnePrimaryAcrossDerived(t *testing.T) {
	v := &fakeVendor{native: []domain.Resolution{domain.Minutes(1)}}
	store := historicalstore.NewMemoryStore()
	clk := fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager(v, store, clk, 0)

	sub5 := domain.Subscription{Symbol: testSym(), Resolution: domain.Minutes(5), BaseType: domain.BaseCandle}
	sub15 := domain.Subscription{Symbol: testSym(), Resolution: domain.Minutes(15), BaseType: domain.BaseCandle}

	_, _, err := mgr.Subscribe(context.Background(), sub5, 0)
	require.NoError(t, err)
	_, _, err = mgr.Subscribe(context.Background(), sub15, 0)
	require.NoError(t, err)

	require.Len(t, mgr.PrimaryKeys(), 1, "both derived subscriptions should share the one 1-minute primary")
}

func TestSubscribeWithNoCompatiblePrimaryFails(t *testing.T) {
	v := &fakeVendor{} // no native candle, tick, or quote stream at all
	store := historicalstore.NewMemoryStore()
	clk := fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager(v, store, clk, 0)

	sub := domain.Subscription{Symbol: testSym(), Resolution: domain.Minutes(7), BaseType: domain.BaseCandle}
	_, events, err := mgr.Subscribe(context.Background(), sub, 0)
	require.Error(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "failed_to_subscribe", string(events[0].Kind))
}

func TestUnsubscribeUnknownReturnsNotFound(t *testing.T) {
	v := &fakeVendor{native: []domain.Resolution{domain.Minutes(1)}}
	store := historicalstore.NewMemoryStore()
	clk := fixedClock{now: time.Now()}
	mgr := NewManager(v, store, clk, 0)

	sub := domain.Subscription{Symbol: testSym(), Resolution: domain.Minutes(1), BaseType: domain.BaseCandle}
	_, err := mgr.Unsubscribe(context.Background(), sub)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// TestDedupeBumpsCollidingTickTimestamps reproduces the tick-collision
// scenario of spec §8: two ticks sharing an identical source timestamp T are
// delivered as T and T+1ns, and the sequence resets once the source
// timestamp actually advances.
func TestDedupeBumpsCollidingTickTimestamps(t *testing.T) {
	v := &fakeVendor{native: []domain.Resolution{domain.Ticks(1)}}
	store := historicalstore.NewMemoryStore()
	clk := fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager(v, store, clk, 0)

	sub := domain.Subscription{Symbol: testSym(), Resolution: domain.Ticks(1), BaseType: domain.BaseTick}
	_, _, err := mgr.Subscribe(context.Background(), sub, 0)
	require.NoError(t, err)
	keys := mgr.PrimaryKeys()
	require.Len(t, keys, 1)
	key := keys[0]

	collisionTime := time.Date(2026, 1, 1, 12, 0, 1, 0, time.UTC)
	first := domain.DataRecord{Symbol: testSym(), BaseType: domain.BaseTick, TimeStart: collisionTime, Tick: &domain.Tick{}}
	second := domain.DataRecord{Symbol: testSym(), BaseType: domain.BaseTick, TimeStart: collisionTime, Tick: &domain.Tick{}}

	got1 := mgr.Dedupe(key, first)
	require.True(t, got1.TimeStart.Equal(collisionTime))
	got2 := mgr.Dedupe(key, second)
	require.True(t, got2.TimeStart.Equal(collisionTime.Add(time.Nanosecond)))
	require.False(t, got1.TimeStart.Equal(got2.TimeStart))

	// A genuinely later tick resets the collision counter.
	laterTime := collisionTime.Add(time.Second)
	later := domain.DataRecord{Symbol: testSym(), BaseType: domain.BaseTick, TimeStart: laterTime, Tick: &domain.Tick{}}
	got3 := mgr.Dedupe(key, later)
	require.True(t, got3.TimeStart.Equal(laterTime))
}

// TestDedupePassesThroughNonTickRecords leaves candle/quote timestamps
// untouched, since the tick-uniqueness invariant only applies to raw ticks.
func TestDedupePassesThroughNonTickRecords(t *testing.T) {
	v := &fakeVendor{native: []domain.Resolution{domain.Minutes(1)}}
	store := historicalstore.NewMemoryStore()
	clk := fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManager(v, store, clk, 0)

	sub := domain.Subscription{Symbol: testSym(), Resolution: domain.Minutes(1), BaseType: domain.BaseCandle}
	_, _, err := mgr.Subscribe(context.Background(), sub, 0)
	require.NoError(t, err)
	key := mgr.PrimaryKeys()[0]

	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := domain.DataRecord{Symbol: testSym(), BaseType: domain.BaseCandle, TimeStart: ts, Candle: &domain.Candle{}}
	got := mgr.Dedupe(key, rec)
	require.True(t, got.TimeStart.Equal(ts))
}

func TestUnsubscribeDropsPrimaryWhenLastRefReleased(t *testing.T) {
	v := &fakeVendor{native: []domain.Resolution{domain.Minutes(1)}}
	store := historicalstore.NewMemoryStore()
	clk := fixedClock{now: time.Now()}
	mgr := NewManager(v, store, clk, 0)

	sub := domain.Subscription{Symbol: testSym(), Resolution: domain.Minutes(1), BaseType: domain.BaseCandle}
	_, _, err := mgr.Subscribe(context.Background(), sub, 0)
	require.NoError(t, err)
	require.Len(t, mgr.PrimaryKeys(), 1)

	_, err = mgr.Unsubscribe(context.Background(), sub)
	require.NoError(t, err)
	require.Empty(t, mgr.PrimaryKeys())
}
