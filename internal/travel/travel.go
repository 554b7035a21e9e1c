// Package travel decides whether a person could physically have been at two
// places within two uncertain time windows.
//
// Every check resolves uncertainty in the person's favor: windows are read
// so as to leave the most time available for travel. A pair is only judged
// infeasible when even that best case is too short.
package travel

import (
	"context"
	"time"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/geo"
)

// DefaultSpeedKmh is used when a caller passes a non-positive speed.
const DefaultSpeedKmh = 100.0

// Verdict is the outcome of a feasibility check.
type Verdict int

const (
	// Unknown means the check could not be made, usually because the
	// distance between the cities is not known. Rules must not flag it.
	Unknown Verdict = iota
	Feasible
	Infeasible
)

func (v Verdict) String() string {
	switch v {
	case Feasible:
		return "feasible"
	case Infeasible:
		return "infeasible"
	}
	return "unknown"
}

// Params are the caller-supplied travel assumptions.
type Params struct {
	SpeedKmh float64
	// Buffer is added to the pure travel time, e.g. airport transfer.
	Buffer time.Duration
}

// Assessment explains a verdict.
type Assessment struct {
	Verdict    Verdict
	SameCity   bool
	DistanceKm float64
	Required   time.Duration
	Available  time.Duration
}

// MinimumTravelTime is distance divided by speed. A non-positive speed
// falls back to DefaultSpeedKmh; a non-positive distance needs no time.
func MinimumTravelTime(distanceKm, speedKmh float64) time.Duration {
	if distanceKm <= 0 {
		return 0
	}
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	return time.Duration(distanceKm / speedKmh * float64(time.Hour))
}

// AvailableTime is the most time the person could have had to travel
// between the two windows, in whichever order suits them best. It is
// negative when the windows force the person to be in both places at once.
func AvailableTime(a, b domain.TimeWindow) time.Duration {
	ab := b.LatestStart().Sub(a.EarliestEnd())
	ba := a.LatestStart().Sub(b.EarliestEnd())
	if ba > ab {
		return ba
	}
	return ab
}

// Evaluator runs feasibility checks against a distance service.
type Evaluator struct {
	geo geo.DistanceService
}

// NewEvaluator creates an evaluator.
func NewEvaluator(distances geo.DistanceService) *Evaluator {
	return &Evaluator{geo: distances}
}

// DistanceKm exposes the underlying distance lookup to rules.
func (e *Evaluator) DistanceKm(ctx context.Context, a, b *domain.Location) (float64, bool) {
	if !a.HasCity() || !b.HasCity() {
		return 0, false
	}
	if domain.SameCity(a, b) {
		return 0, true
	}
	return e.geo.DistanceKm(ctx, a.City, b.City)
}

// Assess judges whether someone could be at locA during winA and at locB
// during winB. Same-city pairs are always feasible. Missing locations or
// unknown distances yield Unknown.
func (e *Evaluator) Assess(ctx context.Context, locA *domain.Location, winA domain.TimeWindow, locB *domain.Location, winB domain.TimeWindow, p Params) Assessment {
	if !locA.HasCity() || !locB.HasCity() {
		return Assessment{Verdict: Unknown}
	}
	if domain.SameCity(locA, locB) {
		return Assessment{Verdict: Feasible, SameCity: true}
	}

	km, ok := e.geo.DistanceKm(ctx, locA.City, locB.City)
	if !ok {
		return Assessment{Verdict: Unknown}
	}

	a := Assessment{
		DistanceKm: km,
		Required:   MinimumTravelTime(km, p.SpeedKmh) + p.Buffer,
		Available:  AvailableTime(winA, winB),
	}
	if a.Available >= a.Required {
		a.Verdict = Feasible
	} else {
		a.Verdict = Infeasible
	}
	return a
}

// IsFeasible is Assess reduced to (feasible, known).
func (e *Evaluator) IsFeasible(ctx context.Context, locA *domain.Location, winA domain.TimeWindow, locB *domain.Location, winB domain.TimeWindow, p Params) (feasible, known bool) {
	switch e.Assess(ctx, locA, winA, locB, winB, p).Verdict {
	case Feasible:
		return true, true
	case Infeasible:
		return false, true
	}
	return false, false
}

// ConnectingTransport looks for a directed transport event that links
// cityA and cityB (either direction) and whose window overlaps the span
// covering both windows. It returns the earliest such event.
func ConnectingTransport(candidates []domain.Event, cityA, cityB string, winA, winB domain.TimeWindow) (*domain.Event, bool) {
	a, b := domain.NormalizeName(cityA), domain.NormalizeName(cityB)
	if a == "" || b == "" {
		return nil, false
	}
	span := winA.Span(winB)

	var best *domain.Event
	for i := range candidates {
		ev := &candidates[i]
		from, to, ok := ev.Route()
		if !ok {
			continue
		}
		f, t := from.CityKey(), to.CityKey()
		if !(f == a && t == b) && !(f == b && t == a) {
			continue
		}
		if !ev.Window.Overlaps(span) {
			continue
		}
		if best == nil || ev.Window.Start().Before(best.Window.Start()) {
			best = ev
		}
	}
	return best, best != nil
}
