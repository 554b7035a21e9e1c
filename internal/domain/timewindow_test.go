package domain

import (
	"testing"
	"time"
)

var base = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return base.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func TestTimeWindowEffectiveTimes(t *testing.T) {
	t.Run("BoundsOnly", func(t *testing.T) {
		w := Window(at(8, 0), at(20, 0))
		if !w.Start().Equal(at(8, 0)) || !w.End().Equal(at(20, 0)) {
			t.Errorf("got start %v end %v", w.Start(), w.End())
		}
		if w.Duration() != 12*time.Hour {
			t.Errorf("Duration = %v, want 12h", w.Duration())
		}
	})

	t.Run("ExactOverridesBounds", func(t *testing.T) {
		w := Window(at(8, 0), at(20, 0)).WithExactStart(at(9, 30)).WithExactEnd(at(11, 0))
		if !w.Start().Equal(at(9, 30)) {
			t.Errorf("Start = %v, want 09:30", w.Start())
		}
		if !w.End().Equal(at(11, 0)) {
			t.Errorf("End = %v, want 11:00", w.End())
		}
	})

	t.Run("FavorableEndpoints", func(t *testing.T) {
		w := Window(at(8, 0), at(20, 0))
		if !w.EarliestEnd().Equal(at(8, 0)) {
			t.Errorf("EarliestEnd = %v, want 08:00", w.EarliestEnd())
		}
		if !w.LatestStart().Equal(at(20, 0)) {
			t.Errorf("LatestStart = %v, want 20:00", w.LatestStart())
		}

		onlyStart := Window(at(8, 0), at(20, 0)).WithExactStart(at(10, 0))
		if !onlyStart.EarliestEnd().Equal(at(10, 0)) || !onlyStart.LatestStart().Equal(at(10, 0)) {
			t.Errorf("exact start should pin both favorable endpoints")
		}
	})
}

func TestTimeWindowReversed(t *testing.T) {
	// Construction must accept reversed data; only the predicate reports it.
	w := Window(at(13, 0), at(15, 0)).WithExactStart(at(14, 0)).WithExactEnd(at(13, 30))

	if !w.IsReversed() {
		t.Error("exact end before exact start should be reversed")
	}
	if w.IsConsistent() {
		t.Error("reversed window should not be consistent")
	}
	if w.Duration() >= 0 {
		t.Errorf("Duration = %v, want negative", w.Duration())
	}

	onlyStart := Window(at(13, 0), at(15, 0)).WithExactStart(at(14, 0))
	if onlyStart.IsReversed() {
		t.Error("window with a single exact timestamp cannot be reversed")
	}
}

func TestTimeWindowOverlap(t *testing.T) {
	tests := []struct {
		name    string
		a, b    TimeWindow
		overlap bool
		dur     time.Duration
	}{
		{"Disjoint", ExactWindow(at(9, 0), at(10, 0)), ExactWindow(at(11, 0), at(12, 0)), false, 0},
		{"Touching", ExactWindow(at(9, 0), at(10, 0)), ExactWindow(at(10, 0), at(11, 0)), true, 0},
		{"Partial", ExactWindow(at(9, 0), at(11, 0)), ExactWindow(at(10, 0), at(12, 0)), true, time.Hour},
		{"Nested", Window(at(0, 0), at(23, 0)), ExactWindow(at(10, 0), at(12, 0)), true, 2 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.overlap {
				t.Errorf("Overlaps = %v, want %v", got, tt.overlap)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.overlap {
				t.Errorf("Overlaps not symmetric")
			}
			if got := tt.a.OverlapDuration(tt.b); got != tt.dur {
				t.Errorf("OverlapDuration = %v, want %v", got, tt.dur)
			}
			if got := tt.b.OverlapDuration(tt.a); got != tt.dur {
				t.Errorf("OverlapDuration not symmetric")
			}
		})
	}
}

func TestTimeWindowSpanAndContains(t *testing.T) {
	a := ExactWindow(at(9, 0), at(11, 0))
	b := ExactWindow(at(10, 0), at(12, 0))
	span := a.Span(b)
	if !span.Start().Equal(at(9, 0)) || !span.End().Equal(at(12, 0)) {
		t.Errorf("Span = %v..%v, want 09:00..12:00", span.Start(), span.End())
	}
	if !a.Contains(at(11, 0)) {
		t.Error("end bound should be contained")
	}
	if a.Contains(at(11, 1)) {
		t.Error("time after end should not be contained")
	}
}
