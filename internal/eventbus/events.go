// Package eventbus delivers time-slice, order, position, subscription,
// indicator, and control events to the strategy consumer (spec §2 item 11,
// §4.10). Every mutation method elsewhere in the runtime returns its events
// to the caller rather than publishing them directly — the caller (never
// while holding a component lock) forwards them here. This is the documented
// fix for the reentrancy deadlock called out in spec §4.5/§9.
package eventbus

import (
	"time"

	"github.com/fundforge/ffcore/internal/domain"
)

// EventKind discriminates the Event tagged union.
type EventKind string

const (
	KindTimeSlice     EventKind = "time_slice"
	KindOrder         EventKind = "order"
	KindPosition      EventKind = "position"
	KindSubscribed    EventKind = "subscribed"
	KindUnsubscribed  EventKind = "unsubscribed"
	KindFailedSub     EventKind = "failed_to_subscribe"
	KindIndicator     EventKind = "indicator"
	KindIndicatorErr  EventKind = "indicator_error"
	KindTimer         EventKind = "timer"
	KindShutdown      EventKind = "shutdown"
	KindLagWarning    EventKind = "lag_warning"
	KindEngineError   EventKind = "engine_error"
)

// TimeSlice is the batch of records and derived outputs emitted by the time
// engine at one buffer boundary (spec §4.6, GLOSSARY).
type TimeSlice struct {
	End     time.Time
	Records []domain.DataRecord
}

// IndicatorValues maps plot name -> value, timestamped by the record that
// produced them (spec §4.7).
type IndicatorValues struct {
	Indicator string
	Time      time.Time
	Plots     map[string]string // decimal-string values; avoids importing decimal here
}

// Event is the single tagged union delivered on the strategy's event
// channel. Exactly one payload field is populated, selected by Kind.
type Event struct {
	Kind EventKind
	Time time.Time

	TimeSlice    *TimeSlice
	Order        *domain.OrderEvent
	Position     *domain.PositionEvent
	Subscription *domain.Subscription
	FailReason   *domain.Error
	Indicator    *IndicatorValues
	IndicatorErr error
	TimerLabel   string
	ShutdownMsg  string
	LagDuration  time.Duration
	EngineErr    *domain.Error
}

func TimeSliceEvent(ts TimeSlice) Event {
	return Event{Kind: KindTimeSlice, Time: ts.End, TimeSlice: &ts}
}

func OrderEvent(e domain.OrderEvent) Event {
	return Event{Kind: KindOrder, Time: e.Time, Order: &e}
}

func PositionEvent(e domain.PositionEvent) Event {
	return Event{Kind: KindPosition, Time: e.Time, Position: &e}
}

func SubscribedEvent(sub domain.Subscription, at time.Time) Event {
	return Event{Kind: KindSubscribed, Time: at, Subscription: &sub}
}

func UnsubscribedEvent(sub domain.Subscription, at time.Time) Event {
	return Event{Kind: KindUnsubscribed, Time: at, Subscription: &sub}
}

func FailedToSubscribeEvent(sub domain.Subscription, reason *domain.Error, at time.Time) Event {
	return Event{Kind: KindFailedSub, Time: at, Subscription: &sub, FailReason: reason}
}

func IndicatorEvent(v IndicatorValues) Event {
	return Event{Kind: KindIndicator, Time: v.Time, Indicator: &v}
}

func IndicatorErrorEvent(name string, err error, at time.Time) Event {
	return Event{Kind: KindIndicatorErr, Time: at, IndicatorErr: err, Indicator: &IndicatorValues{Indicator: name, Time: at}}
}

// TimerEvent reports that a strategy-registered timed event (spec §4.9) has
// fired.
func TimerEvent(label string, at time.Time) Event {
	return Event{Kind: KindTimer, Time: at, TimerLabel: label}
}

func ShutdownEvent(msg string, at time.Time) Event {
	return Event{Kind: KindShutdown, Time: at, ShutdownMsg: msg}
}

func LagWarningEvent(d time.Duration, at time.Time) Event {
	return Event{Kind: KindLagWarning, Time: at, LagDuration: d}
}

// EngineErrorEvent reports a non-fatal runtime error (e.g. a degraded FX
// lookup during PnL conversion) that a strategy should be able to observe
// without the engine aborting the fill that triggered it. Fatal invariant
// violations take a different path entirely: they panic and surface as a
// ShutdownEvent instead (spec §7).
func EngineErrorEvent(err *domain.Error, at time.Time) Event {
	return Event{Kind: KindEngineError, Time: at, EngineErr: err}
}
