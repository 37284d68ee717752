// Package consolidator implements the consolidator tree of spec §4.4: pure
// transforms from a primary data stream (ticks/quotes/lowest-resolution
// candles) to any requested derived bar type/resolution. Bar-close alignment
// follows spec §3: a bar with open=T and resolution=Δ has close=T+Δ; a tick
// at instant T aligns with the bar whose close=T, not the bar that opened at
// T, eliminating look-ahead when combining resolutions.
package consolidator

import (
	"context"
	"time"

	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/vendor"
)

// Output is the result of feeding one primary record (or advancing the
// clock) into a Consolidator.
type Output struct {
	// Closed holds zero or more newly-closed derived records (more than one
	// when a record or clock advance crosses several windows, e.g. with
	// fill-forward across empty windows, or several Renko bricks at once).
	Closed []domain.DataRecord
	// Open is the currently-building (not yet closed) derived record the
	// strategy may read without consuming. OpenValid is false before the
	// first window has any data.
	Open      domain.DataRecord
	OpenValid bool
}

// Consolidator consumes a primary sequence of records and produces a derived
// sequence for one target Subscription.
type Consolidator interface {
	Subscription() domain.Subscription
	// Update feeds one primary record, emitting any bars it closes.
	Update(rec domain.DataRecord) Output
	// AdvanceTo lets the consolidator close (and, if configured,
	// fill-forward) bars purely due to clock advancement, independent of
	// primary arrival — required for deterministic weekend/halt behavior
	// (spec §4.4 "Fill-forward") and driven by the time engine once per
	// time slice.
	AdvanceTo(now time.Time) Output
	// Warmup replays primary history up to the clock and returns a ready
	// consolidator (the receiver, mutated in place) plus a window of the
	// most recent closed outputs of length <= historyLen (spec §4.4).
	Warmup(ctx context.Context, history vendor.HistoryIterator, upTo time.Time, historyLen int) ([]domain.DataRecord, error)
}

// alignBoundary floors t to the most recent multiple of delta since the Unix
// epoch. This is the windowing convention used by every time-based
// consolidator in this package so that bars from different symbols/vendors
// line up on shared boundaries.
func alignBoundary(t time.Time, delta time.Duration) time.Time {
	if delta <= 0 {
		return t
	}
	unix := t.UnixNano()
	d := delta.Nanoseconds()
	aligned := (unix / d) * d
	return time.Unix(0, aligned).UTC()
}
