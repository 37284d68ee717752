package eventbus

import (
	"context"
	"log/slog"
	"time"
)

// Bus is the bounded, single-consumer event channel a strategy process reads
// from. Producers (time engine, matching engine, subscription manager,
// indicator engine) call Publish after releasing any internal locks, in
// keeping with the no-reentrancy rule of spec §4.5/§9.
//
// Back-pressure: Publish never drops an event. If the consumer is behind, it
// blocks (respecting ctx) and logs a lag warning, mirroring the live
// scheduler's flow-control contract in spec §4.6.2.
type Bus struct {
	ch     chan Event
	logger *slog.Logger
}

// NewBus creates a Bus with the given channel capacity.
func NewBus(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		ch:     make(chan Event, capacity),
		logger: logger.With(slog.String("component", "eventbus")),
	}
}

// Events returns the read side of the bus for the strategy consumer.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Publish sends a single event, blocking if the channel is full. When it
// first blocks it logs a lag warning; while still blocked it tries, about
// once per second, to enqueue a LagWarningEvent (dropped if the channel is
// still full).
func (b *Bus) Publish(ctx context.Context, ev Event) {
	select {
	case b.ch <- ev:
		return
	default:
	}

	warned := time.Now()
	blockedSince := warned
	b.logger.Warn("event bus consumer lagging, applying flow control", slog.String("kind", string(ev.Kind)))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case b.ch <- ev:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(warned) >= time.Second {
				warned = now
				select {
				case b.ch <- LagWarningEvent(now.Sub(blockedSince), now):
				default:
				}
			}
		}
	}
}

// PublishAll publishes each event in order, respecting ctx cancellation
// between elements (mirrors Engine.emit in the teacher strategy engine).
func (b *Bus) PublishAll(ctx context.Context, events []Event) {
	for _, ev := range events {
		select {
		case <-ctx.Done():
			return
		default:
		}
		b.Publish(ctx, ev)
	}
}

// Close closes the underlying channel. Callers must ensure no concurrent
// Publish is in flight.
func (b *Bus) Close() {
	close(b.ch)
}
