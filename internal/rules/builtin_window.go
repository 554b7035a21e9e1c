package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/grouping"
	"github.com/opensource-finance/tripwire/internal/travel"
)

// Rules over a sliding multi-day window of one user's events. Overlapping
// windows can surface the same pair twice; the engine drops the repeat.

func multiHotelRule() *Rule {
	r := &Rule{
		ID:          "FD-MULTI-HOTEL-SAME-NIGHT",
		Title:       "Two hotels the same night",
		Description: "Overlapping stays at different hotels.",
		Severity:    domain.SeverityHigh,
		Kinds:       []domain.EventKind{domain.KindHotel},
		Grouping:    grouping.ByWindow(2),
	}
	r.Detect = func(_ context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
		minOverlap := domain.HoursDuration(env.Config.HotelOverlapHours)

		var out []domain.Finding
		evs := group.Events
		for i := 0; i < len(evs); i++ {
			for j := i + 1; j < len(evs); j++ {
				a, b := evs[i], evs[j]
				overlap := a.Window.OverlapDuration(b.Window)
				if overlap < minOverlap || sameStay(a, b) {
					continue
				}
				out = append(out, r.NewFinding(a, []string{b.ID}, map[string]any{
					"firstHotel":   hotelName(a),
					"secondHotel":  hotelName(b),
					"firstCity":    cityOf(a.Location),
					"secondCity":   cityOf(b.Location),
					"overlapHours": hours(overlap),
				}))
			}
		}
		return out, nil
	}
	return r
}

func hotelName(ev domain.Event) string {
	if ev.Hotel != nil && ev.Hotel.HotelName != "" {
		return ev.Hotel.HotelName
	}
	if ev.Location != nil {
		return ev.Location.Place
	}
	return ""
}

// sameStay reports whether two hotel records describe the same property,
// e.g. a stay split over two invoices.
func sameStay(a, b domain.Event) bool {
	if !domain.SameCity(a.Location, b.Location) {
		return false
	}
	na, nb := domain.NormalizeName(hotelName(a)), domain.NormalizeName(hotelName(b))
	if na != "" && nb != "" {
		return na == nb
	}
	return domain.MatchLocations(a.Location, b.Location) == domain.MatchPlace
}

func flightRailwayRule() *Rule {
	r := &Rule{
		ID:          "FD-FLIGHT-RAILWAY-SAME-TIME",
		Title:       "Flight and train at the same time",
		Description: "A flight and a train journey overlapping in time.",
		Severity:    domain.SeverityHigh,
		Kinds:       []domain.EventKind{domain.KindFlight, domain.KindRailway},
		Grouping:    grouping.ByWindow(3),
	}
	r.Detect = func(_ context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
		minOverlap := domain.HoursDuration(env.Config.TransportOverlapHours)

		var out []domain.Finding
		for _, f := range group.Events {
			if f.Kind != domain.KindFlight {
				continue
			}
			for _, t := range group.Events {
				if t.Kind != domain.KindRailway {
					continue
				}
				overlap := f.Window.OverlapDuration(t.Window)
				if overlap < minOverlap {
					continue
				}
				out = append(out, r.NewFinding(f, []string{t.ID}, map[string]any{
					"flightRoute":  route(f),
					"railwayRoute": route(t),
					"overlapHours": hours(overlap),
				}))
			}
		}
		return out, nil
	}
	return r
}

func route(ev domain.Event) string {
	return cityOf(ev.From) + "-" + cityOf(ev.To)
}

// hotelFlightRule compares each stay with each flight. Uncertain times are
// read in the user's favour: a conflict must hold for every check-in,
// checkout, departure and arrival the windows allow.
func hotelFlightRule() *Rule {
	r := &Rule{
		ID:          "FD-HOTEL-FLIGHT-TEMPORAL-CONFLICT",
		Title:       "Flight elsewhere during hotel stay",
		Description: "A flight in another city during a stay, or too close to its check-in or checkout.",
		Severity:    domain.SeverityMedium,
		Kinds:       []domain.EventKind{domain.KindHotel, domain.KindFlight},
		Grouping:    grouping.ByWindow(14),
	}
	r.Detect = func(_ context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
		transfer := domain.HoursDuration(env.Config.AirportTransferHours)
		gap := domain.HoursDuration(env.Config.FlightHotelGapHours)

		var out []domain.Finding
		for _, h := range group.Events {
			if h.Kind != domain.KindHotel || !h.Location.HasCity() {
				continue
			}
			checkIn, checkOut := h.Window.Departure(), h.Window.Arrival()
			for _, f := range group.Events {
				if f.Kind != domain.KindFlight || !f.From.HasCity() || !f.To.HasCity() {
					continue
				}
				dep, arr := f.Window.Departure(), f.Window.Arrival()
				fromElsewhere := !domain.SameCity(f.From, h.Location)
				toElsewhere := !domain.SameCity(f.To, h.Location)

				var conflicts []string
				var flightTime time.Time
				note := func(conflict string, at time.Time) {
					if conflicts == nil {
						flightTime = at
					}
					conflicts = append(conflicts, conflict)
				}

				// Still in the hotel when leaving from another city.
				if fromElsewhere &&
					dep.EarliestStart.Add(-transfer).After(checkIn.LatestEnd) &&
					dep.LatestEnd.Before(checkOut.EarliestStart) {
					note("departure", f.Window.Start())
				}
				// Landing in another city well before the stay ends.
				if toElsewhere &&
					arr.EarliestStart.After(checkIn.LatestEnd) &&
					arr.LatestEnd.Add(transfer).Before(checkOut.EarliestStart) {
					note("arrival", f.Window.End())
				}
				// Checking in too soon after landing elsewhere.
				if toElsewhere && checkIn.EarliestStart.After(arr.LatestEnd) &&
					checkIn.LatestEnd.Sub(arr.EarliestStart) < gap {
					note("checkin-after-flight", f.Window.End())
				}
				// Flying out of another city too soon after checkout.
				if fromElsewhere && dep.EarliestStart.After(checkOut.LatestEnd) &&
					dep.LatestEnd.Sub(checkOut.EarliestStart) < gap {
					note("checkout-before-flight", f.Window.Start())
				}

				if len(conflicts) == 0 {
					continue
				}
				out = append(out, r.NewFinding(h, []string{f.ID}, map[string]any{
					"conflictType": conflicts[0],
					"conflicts":    conflicts,
					"flightTime":   stamp(flightTime),
					"hotelCity":    h.Location.City,
					"flightRoute":  route(f),
					"checkIn":      stamp(h.Window.Start()),
					"checkOut":     stamp(h.Window.End()),
				}))
			}
		}
		return out, nil
	}
	return r
}

func impossibleSequenceRule() *Rule {
	r := &Rule{
		ID:          "FD-TRAVEL-IMPOSSIBLE-SEQUENCE",
		Title:       "Impossible travel sequence",
		Description: "Consecutive records in different cities with no time to travel between them and no transport on file.",
		Severity:    domain.SeverityHigh,
		Grouping:    grouping.ByWindow(3),
	}
	r.Detect = func(ctx context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
		params := travel.Params{SpeedKmh: env.Config.GroundSpeedKmh}

		byID := make(map[string]domain.Event, len(group.Events))
		var obs []domain.Observation
		for _, ev := range group.Events {
			byID[ev.ID] = ev
			obs = append(obs, ev.Observations()...)
		}
		sort.SliceStable(obs, func(i, j int) bool {
			return obs[i].Window.Start().Before(obs[j].Window.Start())
		})

		var out []domain.Finding
		for i := 1; i < len(obs); i++ {
			a, b := obs[i-1], obs[i]
			// a trip's own departure and arrival explain each other
			if a.EventID == b.EventID || domain.SameCity(a.Location, b.Location) {
				continue
			}
			as := env.Travel.Assess(ctx, a.Location, a.Window, b.Location, b.Window, params)
			if as.Verdict != travel.Infeasible {
				continue
			}
			if _, ok := travel.ConnectingTransport(group.Events, a.Location.City, b.Location.City, a.Window, b.Window); ok {
				continue
			}
			out = append(out, r.NewFinding(byID[b.EventID], []string{a.EventID}, map[string]any{
				"fromCity":       a.Location.City,
				"toCity":         b.Location.City,
				"fromKind":       string(a.Kind),
				"toKind":         string(b.Kind),
				"distanceKm":     as.DistanceKm,
				"requiredHours":  hours(as.Required),
				"availableHours": hours(as.Available),
			}))
		}
		return out, nil
	}
	r.Format = func(f domain.Finding) (string, string) {
		return r.Title, fmt.Sprintf("%v to %v (%.0f km) with %.1fh available, %.1fh needed",
			f.Evidence["fromCity"], f.Evidence["toCity"], f.Evidence["distanceKm"],
			f.Evidence["availableHours"], f.Evidence["requiredHours"])
	}
	return r
}
