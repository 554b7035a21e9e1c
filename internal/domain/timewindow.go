package domain

import "time"

// TimeWindow is a possibly-uncertain interval: the event happened somewhere
// inside [EarliestStart, LatestEnd], and may additionally carry an exact start
// and/or end timestamp.
//
// Construction never validates. Reversed bounds are data, and rules decide
// whether that is suspicious (see IsReversed).
type TimeWindow struct {
	EarliestStart time.Time  `json:"earliestStart"`
	LatestEnd     time.Time  `json:"latestEnd"`
	ExactStart    *time.Time `json:"exactStart,omitempty"`
	ExactEnd      *time.Time `json:"exactEnd,omitempty"`
}

// Window builds a TimeWindow with no exact timestamps.
func Window(earliestStart, latestEnd time.Time) TimeWindow {
	return TimeWindow{EarliestStart: earliestStart, LatestEnd: latestEnd}
}

// ExactWindow builds a TimeWindow whose bounds and exact timestamps coincide.
func ExactWindow(start, end time.Time) TimeWindow {
	s, e := start, end
	return TimeWindow{EarliestStart: start, LatestEnd: end, ExactStart: &s, ExactEnd: &e}
}

// Instant is a zero-length exact window at t.
func Instant(t time.Time) TimeWindow {
	return ExactWindow(t, t)
}

// WithExactStart returns a copy with the exact start set.
func (w TimeWindow) WithExactStart(t time.Time) TimeWindow {
	w.ExactStart = &t
	return w
}

// WithExactEnd returns a copy with the exact end set.
func (w TimeWindow) WithExactEnd(t time.Time) TimeWindow {
	w.ExactEnd = &t
	return w
}

// Start is the effective start: exact start when known, else the earliest start.
func (w TimeWindow) Start() time.Time {
	if w.ExactStart != nil {
		return *w.ExactStart
	}
	return w.EarliestStart
}

// End is the effective end: exact end when known, else the latest end.
func (w TimeWindow) End() time.Time {
	if w.ExactEnd != nil {
		return *w.ExactEnd
	}
	return w.LatestEnd
}

// EarliestEnd is the earliest moment the event can be considered finished.
// Without an exact end, the event may have ended right at its start.
func (w TimeWindow) EarliestEnd() time.Time {
	switch {
	case w.ExactEnd != nil:
		return *w.ExactEnd
	case w.ExactStart != nil:
		return *w.ExactStart
	default:
		return w.EarliestStart
	}
}

// LatestStart is the latest moment the event can have begun.
func (w TimeWindow) LatestStart() time.Time {
	switch {
	case w.ExactStart != nil:
		return *w.ExactStart
	case w.ExactEnd != nil:
		return *w.ExactEnd
	default:
		return w.LatestEnd
	}
}

// Departure is the span of moments the event may have begun.
func (w TimeWindow) Departure() TimeWindow {
	if w.ExactStart != nil {
		return Instant(*w.ExactStart)
	}
	return Window(w.EarliestStart, w.LatestStart())
}

// Arrival is the span of moments the event may have finished.
func (w TimeWindow) Arrival() TimeWindow {
	if w.ExactEnd != nil {
		return Instant(*w.ExactEnd)
	}
	return Window(w.EarliestEnd(), w.LatestEnd)
}

// Duration is End minus Start. It is negative for reversed windows.
func (w TimeWindow) Duration() time.Duration {
	return w.End().Sub(w.Start())
}

// IsReversed reports whether both exact timestamps are known and the end
// precedes the start.
func (w TimeWindow) IsReversed() bool {
	return w.ExactStart != nil && w.ExactEnd != nil && w.ExactEnd.Before(*w.ExactStart)
}

// IsConsistent reports whether the bounds are ordered and any exact
// timestamps fall inside them.
func (w TimeWindow) IsConsistent() bool {
	if w.LatestEnd.Before(w.EarliestStart) || w.IsReversed() {
		return false
	}
	for _, t := range []*time.Time{w.ExactStart, w.ExactEnd} {
		if t != nil && (t.Before(w.EarliestStart) || t.After(w.LatestEnd)) {
			return false
		}
	}
	return true
}

// Contains reports whether t lies within the effective interval, inclusive.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start()) && !t.After(w.End())
}

// Overlaps reports whether the effective intervals intersect.
// Touching endpoints count as overlap.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return !maxTime(w.Start(), o.Start()).After(minTime(w.End(), o.End()))
}

// OverlapDuration is the length of the intersection of the effective
// intervals, never negative.
func (w TimeWindow) OverlapDuration(o TimeWindow) time.Duration {
	d := minTime(w.End(), o.End()).Sub(maxTime(w.Start(), o.Start()))
	if d < 0 {
		return 0
	}
	return d
}

// Span returns the smallest window covering both effective intervals.
func (w TimeWindow) Span(o TimeWindow) TimeWindow {
	return Window(minTime(w.Start(), o.Start()), maxTime(w.End(), o.End()))
}

// HoursDuration converts fractional hours to a duration.
func HoursDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
