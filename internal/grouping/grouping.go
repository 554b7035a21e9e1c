// Package grouping turns a batch of events into the candidate groups a rule
// inspects: one event at a time, one user-day at a time, or a sliding
// multi-day window per user.
package grouping

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/metrics"
)

// Strategy names a grouping scheme.
type Strategy string

const (
	Individual    Strategy = "individual"
	Daily         Strategy = "daily"
	SlidingWindow Strategy = "window"
)

// Anchor places a sliding window relative to its anchor event.
type Anchor string

const (
	// Trailing covers [t - window, t].
	Trailing Anchor = "trailing"
	// Centered covers [t - window/2, t + window/2].
	Centered Anchor = "centered"
)

// Spec is a rule's grouping declaration.
type Spec struct {
	Strategy   Strategy `json:"strategy"`
	WindowDays int      `json:"windowDays,omitempty"`
	Anchor     Anchor   `json:"anchor,omitempty"`
}

// ByEvent groups each event on its own.
func ByEvent() Spec { return Spec{Strategy: Individual} }

// ByDay groups a user's events by local calendar day of their start.
func ByDay() Spec { return Spec{Strategy: Daily} }

// ByWindow groups a user's events in trailing windows of the given days.
func ByWindow(days int) Spec { return Spec{Strategy: SlidingWindow, WindowDays: days, Anchor: Trailing} }

// Validate rejects unusable specs.
func (s Spec) Validate() error {
	switch s.Strategy {
	case Individual, Daily:
		return nil
	case SlidingWindow:
		if s.WindowDays <= 0 {
			return fmt.Errorf("window grouping needs positive windowDays, got %d", s.WindowDays)
		}
		if s.Anchor != "" && s.Anchor != Trailing && s.Anchor != Centered {
			return fmt.Errorf("unknown window anchor %q", s.Anchor)
		}
		return nil
	}
	return fmt.Errorf("unknown grouping strategy %q", s.Strategy)
}

// Window is the sliding window length.
func (s Spec) Window() time.Duration {
	return time.Duration(s.WindowDays) * 24 * time.Hour
}

// Candidate is one group handed to a rule. Events are ordered by effective
// start, then ID.
type Candidate struct {
	Key    string
	UserID string
	// Day is the local calendar day for daily groups.
	Day    time.Time
	From   time.Time
	To     time.Time
	Events []domain.Event
}

// SortEvents orders events by effective start, then ID.
func SortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		si, sj := events[i].Window.Start(), events[j].Window.Start()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return events[i].ID < events[j].ID
	})
}

// PartitionByUser splits events by user. Users come back sorted, and each
// user's events are sorted.
func PartitionByUser(events []domain.Event) (users []string, byUser map[string][]domain.Event) {
	byUser = make(map[string][]domain.Event)
	for _, ev := range events {
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}
	for u, evs := range byUser {
		users = append(users, u)
		SortEvents(evs)
	}
	sort.Strings(users)
	return users, byUser
}

// Group builds the candidate groups for spec. The input slice is not
// modified. loc sets calendar-day boundaries for daily grouping.
func Group(events []domain.Event, spec Spec, loc *time.Location) ([]Candidate, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	users, byUser := PartitionByUser(append([]domain.Event(nil), events...))

	var out []Candidate
	for _, u := range users {
		evs := byUser[u]
		switch spec.Strategy {
		case Individual:
			out = append(out, individual(u, evs)...)
		case Daily:
			out = append(out, daily(u, evs, loc)...)
		case SlidingWindow:
			out = append(out, sliding(u, evs, spec)...)
		}
	}
	metrics.CandidateGroups.WithLabelValues(string(spec.Strategy)).Add(float64(len(out)))
	return out, nil
}

func individual(user string, evs []domain.Event) []Candidate {
	out := make([]Candidate, 0, len(evs))
	for _, ev := range evs {
		out = append(out, Candidate{
			Key:    user + "/" + ev.ID,
			UserID: user,
			From:   ev.Window.Start(),
			To:     ev.Window.End(),
			Events: []domain.Event{ev},
		})
	}
	return out
}

func daily(user string, evs []domain.Event, loc *time.Location) []Candidate {
	var out []Candidate
	for _, ev := range evs {
		start := ev.Window.Start().In(loc)
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)

		// Events are sorted, so a day's events are contiguous.
		if n := len(out); n > 0 && out[n-1].Day.Equal(day) {
			out[n-1].Events = append(out[n-1].Events, ev)
			continue
		}
		out = append(out, Candidate{
			Key:    user + "/" + day.Format("2006-01-02"),
			UserID: user,
			Day:    day,
			From:   day,
			To:     day.AddDate(0, 0, 1),
			Events: []domain.Event{ev},
		})
	}
	return out
}

// sliding anchors one window on every event and keeps only the maximal
// ones. Membership is by effective start, so each window is a contiguous
// index range [lo, hi) over the sorted events, and both ends move forward
// with the anchor. A range contained in another is then contained in a
// neighbor, which is all that needs checking.
func sliding(user string, evs []domain.Event, spec Spec) []Candidate {
	if len(evs) == 0 {
		return nil
	}
	w := spec.Window()
	before, after := w, time.Duration(0)
	if spec.Anchor == Centered {
		before, after = w/2, w-w/2
	}

	type span struct {
		lo, hi   int
		from, to time.Time
	}
	spans := make([]span, len(evs))
	lo, hi := 0, 0
	for i, ev := range evs {
		t := ev.Window.Start()
		from, to := t.Add(-before), t.Add(after)
		for lo < len(evs) && evs[lo].Window.Start().Before(from) {
			lo++
		}
		if hi < lo {
			hi = lo
		}
		for hi < len(evs) && !evs[hi].Window.Start().After(to) {
			hi++
		}
		spans[i] = span{lo: lo, hi: hi, from: from, to: to}
	}

	contains := func(outer, inner span) bool {
		return outer.lo <= inner.lo && inner.hi <= outer.hi
	}

	var out []Candidate
	for i, s := range spans {
		// Identical ranges keep the first; strictly contained ranges drop.
		if i > 0 && contains(spans[i-1], s) {
			continue
		}
		if i+1 < len(spans) && contains(spans[i+1], s) && !(spans[i+1].lo == s.lo && spans[i+1].hi == s.hi) {
			continue
		}
		group := make([]domain.Event, s.hi-s.lo)
		copy(group, evs[s.lo:s.hi])
		out = append(out, Candidate{
			Key:    fmt.Sprintf("%s/%s", user, evs[i].ID),
			UserID: user,
			From:   s.from,
			To:     s.to,
			Events: group,
		})
	}
	return out
}
