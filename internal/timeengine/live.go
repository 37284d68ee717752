package timeengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/fundforge/ffcore/internal/clock"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/subscription"
	"golang.org/x/sync/errgroup"
)

// LiveScheduler buffers incoming vendor records for BufferDuration and
// publishes one TimeSlice per tick; order/position events from the
// brokerage bypass the buffer entirely and are fanned out as soon as they
// arrive, to preserve reaction time (spec §4.6.2).
type LiveScheduler struct {
	Clock          clock.Clock
	Manager        *subscription.Manager
	Bus            *eventbus.Bus
	Timed          *TimedEventQueue
	BufferDuration time.Duration
	Logger         *slog.Logger

	// OrderEvents/PositionEvents are the brokerage's push channels, fanned
	// out immediately and never buffered.
	OrderEvents    <-chan domain.OrderEvent
	PositionEvents <-chan domain.PositionEvent
}

func NewLiveScheduler(clk clock.Clock, mgr *subscription.Manager, bus *eventbus.Bus, timed *TimedEventQueue, bufferDuration time.Duration, orderEvents <-chan domain.OrderEvent, positionEvents <-chan domain.PositionEvent, logger *slog.Logger) *LiveScheduler {
	return &LiveScheduler{
		Clock: clk, Manager: mgr, Bus: bus, Timed: timed, BufferDuration: bufferDuration,
		OrderEvents: orderEvents, PositionEvents: positionEvents,
		Logger: logger.With(slog.String("component", "live_scheduler")),
	}
}

// Run starts the buffering task, the brokerage dispatcher, and the timed
// event wheel as cooperating goroutines under one errgroup (mirrors the
// teacher's Engine.RunAll), returning when ctx is cancelled or any of them
// fails.
func (s *LiveScheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runBuffering(gctx) })
	g.Go(func() error { return s.runBrokerageDispatch(gctx) })
	g.Go(func() error { return s.runTimedWheel(gctx) })
	err := g.Wait()
	s.Bus.Publish(ctx, eventbus.ShutdownEvent("live session stopped", s.Clock.Now()))
	return err
}

// runBuffering accumulates records across every active primary stream for
// BufferDuration, then emits one TimeSlice and advances every consolidator's
// fill-forward state.
func (s *LiveScheduler) runBuffering(ctx context.Context) error {
	ticker := time.NewTicker(s.BufferDuration)
	defer ticker.Stop()

	var batch []domain.DataRecord
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := s.Clock.Now()
			derived := s.Manager.AdvanceAll(now)
			all := append(batch, derived...)
			batch = nil
			if len(all) == 0 {
				continue
			}
			s.Bus.Publish(ctx, eventbus.TimeSliceEvent(eventbus.TimeSlice{End: now, Records: all}))
		default:
			recs, ok := s.pollPrimaries(ctx)
			if !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			batch = append(batch, recs...)
		}
	}
}

// pollPrimaries fans in one primary record plus every record its
// consolidator tree derived from it. Real deployments replace this with a
// select built dynamically over s.Manager's live streams; this minimal poll
// keeps the loop responsive to newly (un)subscribed primaries without a
// fixed select set. It returns the raw primary record and every derived
// output together (mirrors BacktestScheduler.Run's batch-build loop) so no
// record is dropped when a consolidator closes more than one bar at once
// (spec §4.6.2 "the buffering task drops no market records").
func (s *LiveScheduler) pollPrimaries(ctx context.Context) ([]domain.DataRecord, bool) {
	for _, key := range s.Manager.PrimaryKeys() {
		ch, ok := s.Manager.Stream(key)
		if !ok {
			continue
		}
		select {
		case rec, ok := <-ch:
			if !ok {
				continue
			}
			rec = s.Manager.Dedupe(key, rec)
			out := append([]domain.DataRecord{rec}, s.Manager.Feed(key, rec)...)
			return out, true
		default:
		}
	}
	return nil, false
}

func (s *LiveScheduler) runBrokerageDispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.OrderEvents:
			if !ok {
				s.OrderEvents = nil
				continue
			}
			s.Bus.Publish(ctx, eventbus.OrderEvent(ev))
		case ev, ok := <-s.PositionEvents:
			if !ok {
				s.PositionEvents = nil
				continue
			}
			s.Bus.Publish(ctx, eventbus.PositionEvent(ev))
		}
	}
}

func (s *LiveScheduler) runTimedWheel(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			events := s.Timed.DrainUpTo(s.Clock.Now())
			s.Bus.PublishAll(ctx, events)
		}
	}
}
