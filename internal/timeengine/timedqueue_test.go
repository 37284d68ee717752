package timeengine

import (
	"testing"
	"time"

	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/stretchr/testify/require"
)

func TestDrainUpToFiresInChronologicalOrder(t *testing.T) {
	q := NewTimedEventQueue()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var fired []string
	q.Schedule(base.Add(3*time.Second), func(now time.Time) []eventbus.Event {
		fired = append(fired, "third")
		return nil
	})
	q.Schedule(base.Add(1*time.Second), func(now time.Time) []eventbus.Event {
		fired = append(fired, "first")
		return nil
	})
	q.Schedule(base.Add(2*time.Second), func(now time.Time) []eventbus.Event {
		fired = append(fired, "second")
		return nil
	})

	q.DrainUpTo(base.Add(2 * time.Second))
	require.Equal(t, []string{"first", "second"}, fired)

	q.DrainUpTo(base.Add(10 * time.Second))
	require.Equal(t, []string{"first", "second", "third"}, fired)
}

func TestDrainUpToLeavesFutureEventsPending(t *testing.T) {
	q := NewTimedEventQueue()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	calls := 0
	q.Schedule(base.Add(time.Hour), func(now time.Time) []eventbus.Event {
		calls++
		return nil
	})

	q.DrainUpTo(base)
	require.Equal(t, 0, calls)
}

func TestCancelRemovesBeforeItFires(t *testing.T) {
	q := NewTimedEventQueue()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	calls := 0
	id := q.Schedule(base.Add(time.Second), func(now time.Time) []eventbus.Event {
		calls++
		return nil
	})
	q.Cancel(id)
	q.DrainUpTo(base.Add(time.Minute))
	require.Equal(t, 0, calls)
}

func TestDrainUpToCollectsReturnedEvents(t *testing.T) {
	q := NewTimedEventQueue()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q.Schedule(base, func(now time.Time) []eventbus.Event {
		return []eventbus.Event{eventbus.TimerEvent("tick", now)}
	})

	events := q.DrainUpTo(base)
	require.Len(t, events, 1)
	require.Equal(t, "tick", events[0].TimerLabel)
}
