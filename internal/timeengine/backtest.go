// Package timeengine implements the two schedulers of spec §4.6: a
// single-threaded deterministic backtest scheduler (§4.6.1) and a
// cooperative, event-driven live scheduler (§4.6.2), sharing the same
// TimeSlice event shape so strategy code is mode-agnostic.
package timeengine

import (
	"container/heap"
	"context"
	"log/slog"
	"time"

	"github.com/fundforge/ffcore/internal/clock"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/subscription"
	"github.com/fundforge/ffcore/internal/vendor"
)

// Matcher applies a time-ordered batch of primary and derived records to the
// matching engine and ledger, returning the order/position events it
// produced (spec §4.8). Defined here, not in package matching, so timeengine
// has no dependency on the matching engine's internals.
type Matcher interface {
	Apply(batch []domain.DataRecord) []eventbus.Event
}

type cursor struct {
	primaryKey string
	it         vendor.HistoryIterator
	cur        domain.DataRecord
	has        bool
}

func (c *cursor) advance() error {
	if c.it.Next() {
		c.cur = c.it.Record()
		c.has = true
		return nil
	}
	c.has = false
	return c.it.Err()
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	return h[i].cur.TimeStart.Before(h[j].cur.TimeStart)
}
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*cursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// BacktestScheduler drives a fixed set of primary history iterators through
// the subscription manager's consolidator tree and the matching engine,
// deterministically: every scheduling decision is a pure function of the
// input streams, BufferDuration, and EndTime (spec §4.6.1).
type BacktestScheduler struct {
	Clock          *clock.HistoricalClock
	Manager        *subscription.Manager
	Matcher        Matcher
	Bus            *eventbus.Bus
	Timed          *TimedEventQueue
	BufferDuration time.Duration
	EndTime        time.Time
	Logger         *slog.Logger

	sources map[string]vendor.HistoryIterator
}

func NewBacktestScheduler(clk *clock.HistoricalClock, mgr *subscription.Manager, matcher Matcher, bus *eventbus.Bus, timed *TimedEventQueue, bufferDuration time.Duration, endTime time.Time, logger *slog.Logger) *BacktestScheduler {
	return &BacktestScheduler{
		Clock: clk, Manager: mgr, Matcher: matcher, Bus: bus, Timed: timed,
		BufferDuration: bufferDuration, EndTime: endTime,
		Logger:  logger.With(slog.String("component", "backtest_scheduler")),
		sources: make(map[string]vendor.HistoryIterator),
	}
}

// AddSource registers the history iterator backing one active primary. Must
// be called before Run.
func (s *BacktestScheduler) AddSource(primaryKey string, it vendor.HistoryIterator) {
	s.sources[primaryKey] = it
}

// applyMatcherSafely invokes the matcher and recovers a fatal matching-engine
// invariant violation (spec §7: "Internal on matching-engine invariants is
// fatal"), which the engine raises as a panic carrying a *domain.Error rather
// than a normal error return — there is no sane event-level recovery from a
// corrupted ledger. Any other recovered value is not this mechanism's to
// handle and is re-panicked.
func (s *BacktestScheduler) applyMatcherSafely(batch []domain.DataRecord) (events []eventbus.Event, fatalErr *domain.Error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ffErr, ok := r.(*domain.Error)
		if !ok || !ffErr.Fatal() {
			panic(r)
		}
		fatalErr = ffErr
	}()
	events = s.Matcher.Apply(batch)
	return events, nil
}

// Run executes the algorithm of spec §4.6.1 to completion or until ctx is
// cancelled.
func (s *BacktestScheduler) Run(ctx context.Context) error {
	h := &cursorHeap{}
	heap.Init(h)
	for key, it := range s.sources {
		c := &cursor{primaryKey: key, it: it}
		if err := c.advance(); err != nil {
			return err
		}
		if c.has {
			heap.Push(h, c)
		}
	}

	for h.Len() > 0 && s.Clock.Now().Before(s.EndTime) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sliceEnd := s.Clock.Now().Add(s.BufferDuration)
		if top := (*h)[0]; top.cur.TimeStart.After(sliceEnd) {
			// No data within this buffer window: jump directly to the next
			// record's time rather than spin emitting empty slices (spec
			// §4.6.1 tick_over_no_data).
			sliceEnd = top.cur.TimeStart
		}
		if sliceEnd.After(s.EndTime) {
			sliceEnd = s.EndTime
		}

		var batch []domain.DataRecord
		for h.Len() > 0 && !(*h)[0].cur.TimeStart.After(sliceEnd) {
			c := heap.Pop(h).(*cursor)
			rec := s.Manager.Dedupe(c.primaryKey, c.cur)
			batch = append(batch, rec)
			batch = append(batch, s.Manager.Feed(c.primaryKey, rec)...)
			if err := c.advance(); err != nil {
				return err
			}
			if c.has {
				heap.Push(h, c)
			}
		}

		derived := s.Manager.AdvanceAll(sliceEnd)
		all := append(batch, derived...)

		matchEvents, fatalErr := s.applyMatcherSafely(all)
		if fatalErr != nil {
			s.Logger.Error("backtest: fatal matching-engine invariant violation", slog.String("error", fatalErr.Error()))
			s.Bus.Publish(ctx, eventbus.ShutdownEvent("fatal: "+fatalErr.Error(), s.Clock.Now()))
			return fatalErr
		}
		s.Clock.AdvanceTo(sliceEnd)
		timedEvents := s.Timed.DrainUpTo(sliceEnd)

		s.Bus.Publish(ctx, eventbus.TimeSliceEvent(eventbus.TimeSlice{End: sliceEnd, Records: all}))
		s.Bus.PublishAll(ctx, matchEvents)
		s.Bus.PublishAll(ctx, timedEvents)
	}

	if s.Clock.Now().Before(s.EndTime) {
		s.Clock.AdvanceTo(s.EndTime)
	}
	s.Bus.Publish(ctx, eventbus.ShutdownEvent("backtest complete", s.Clock.Now()))
	return nil
}
