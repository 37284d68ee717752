package timeengine

import (
	"container/heap"
	"sync"
	"time"

	"github.com/fundforge/ffcore/internal/eventbus"
)

// TimedEvent is a strategy-registered callback that fires once clock time
// reaches At (spec §4.9 "timed-event registration").
type TimedEvent struct {
	ID   uint64
	At   time.Time
	Fire func(now time.Time) []eventbus.Event
}

type timedHeap []TimedEvent

func (h timedHeap) Len() int            { return len(h) }
func (h timedHeap) Less(i, j int) bool  { return h[i].At.Before(h[j].At) }
func (h timedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timedHeap) Push(x interface{}) { *h = append(*h, x.(TimedEvent)) }
func (h *timedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TimedEventQueue is a mutex-guarded min-heap of pending timed events,
// drained by the time engine at each slice boundary.
type TimedEventQueue struct {
	mu     sync.Mutex
	nextID uint64
	h      timedHeap
}

func NewTimedEventQueue() *TimedEventQueue {
	return &TimedEventQueue{}
}

// Schedule registers a callback to fire at (or after) at and returns an ID
// usable with Cancel.
func (q *TimedEventQueue) Schedule(at time.Time, fire func(now time.Time) []eventbus.Event) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	id := q.nextID
	heap.Push(&q.h, TimedEvent{ID: id, At: at, Fire: fire})
	return id
}

// Cancel removes a pending timed event by ID; it is a no-op if it already fired.
func (q *TimedEventQueue) Cancel(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, ev := range q.h {
		if ev.ID == id {
			heap.Remove(&q.h, i)
			return
		}
	}
}

// DrainUpTo fires (and removes) every pending event whose At is <= upTo, in
// chronological order, returning the events they produced.
func (q *TimedEventQueue) DrainUpTo(upTo time.Time) []eventbus.Event {
	var fired []TimedEvent
	q.mu.Lock()
	for q.h.Len() > 0 && !q.h[0].At.After(upTo) {
		fired = append(fired, heap.Pop(&q.h).(TimedEvent))
	}
	q.mu.Unlock()

	var events []eventbus.Event
	for _, ev := range fired {
		events = append(events, ev.Fire(ev.At)...)
	}
	return events
}
