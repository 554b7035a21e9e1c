package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/geo"
	"github.com/opensource-finance/tripwire/internal/grouping"
	"github.com/opensource-finance/tripwire/internal/travel"
)

// Rules over one user's calendar day.

type cityPresence struct {
	loc    *domain.Location
	window domain.TimeWindow
	events []domain.Event
}

// presenceByCity folds a day's events into one loose window per city,
// from the earliest start to the latest end seen there. Cities keep the
// order they first appear in.
func presenceByCity(events []domain.Event) []*cityPresence {
	var out []*cityPresence
	byKey := make(map[string]*cityPresence)
	for _, ev := range events {
		p := ev.Place()
		if !p.HasCity() {
			continue
		}
		w := domain.Window(ev.Window.Start(), ev.Window.End())
		c, ok := byKey[p.CityKey()]
		if !ok {
			c = &cityPresence{loc: p, window: w}
			byKey[p.CityKey()] = c
			out = append(out, c)
		} else {
			c.window = c.window.Span(w)
		}
		c.events = append(c.events, ev)
	}
	return out
}

func ubiquitousPresenceRule() *Rule {
	r := &Rule{
		ID:          "FD-UBIQUITOUS-PRESENCE",
		Title:       "Present in too many cities",
		Description: "Expenses in several distant cities on one day that no flight could connect.",
		Severity:    domain.SeverityHigh,
		Grouping:    grouping.ByDay(),
	}
	r.Detect = func(ctx context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
		cfg := env.Config
		cities := presenceByCity(group.Events)
		if len(cities) < cfg.UbiquitousMinCityCount {
			return nil, nil
		}

		var pairs []map[string]any
		for i := 0; i < len(cities); i++ {
			for j := i + 1; j < len(cities); j++ {
				a, b := cities[i], cities[j]
				as := env.Travel.Assess(ctx, a.loc, a.window, b.loc, b.window, travel.Params{SpeedKmh: cfg.PresenceSpeedKmh})
				if as.Verdict != travel.Infeasible || as.DistanceKm < cfg.UbiquitousMinDistanceKm {
					continue
				}
				pairs = append(pairs, map[string]any{
					"from":           a.loc.City,
					"to":             b.loc.City,
					"distanceKm":     as.DistanceKm,
					"requiredHours":  hours(as.Required),
					"availableHours": hours(as.Available),
				})
			}
		}
		if len(pairs) < cfg.UbiquitousMinCityCount-1 {
			return nil, nil
		}

		var names []string
		var involved []domain.Event
		for _, c := range cities {
			names = append(names, c.loc.City)
			involved = append(involved, c.events...)
		}
		grouping.SortEvents(involved)
		primary := involved[0]
		return []domain.Finding{r.NewFinding(primary, eventIDs(involved[1:]), map[string]any{
			"date":   group.Day.Format("2006-01-02"),
			"cities": names,
			"pairs":  pairs,
		})}, nil
	}
	r.Format = func(f domain.Finding) (string, string) {
		names := stringsOf(f.Evidence["cities"])
		return r.Title, fmt.Sprintf("%s: expenses in %s", f.Evidence["date"], strings.Join(names, ", "))
	}
	return r
}

func checkInCitiesRule() *Rule {
	r := &Rule{
		ID:          "FD-CHECKIN-DIFFERENT-CITIES-SAME-DAY",
		Title:       "Check-ins in distant cities",
		Description: "Two same-day check-ins too far apart for the time between them.",
		Severity:    domain.SeverityHigh,
		Kinds:       []domain.EventKind{domain.KindCheckIn},
		Grouping:    grouping.ByDay(),
	}
	r.Detect = func(ctx context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
		cfg := env.Config
		params := travel.Params{SpeedKmh: cfg.MaxTravelSpeedKmh, Buffer: domain.HoursDuration(cfg.MinTravelHours)}

		var out []domain.Finding
		evs := group.Events
		for i := 0; i < len(evs); i++ {
			for j := i + 1; j < len(evs); j++ {
				a, b := evs[i], evs[j]
				as := env.Travel.Assess(ctx, a.Location, a.Window, b.Location, b.Window, params)
				if as.Verdict != travel.Infeasible || as.DistanceKm < cfg.MinSuspiciousDistanceKm {
					continue
				}
				out = append(out, r.NewFinding(b, []string{a.ID}, map[string]any{
					"firstCity":      a.Location.City,
					"secondCity":     b.Location.City,
					"distanceKm":     as.DistanceKm,
					"requiredHours":  hours(as.Required),
					"availableHours": hours(as.Available),
				}))
			}
		}
		return out, nil
	}
	return r
}

func sequentialTaxiRule() *Rule {
	r := &Rule{
		ID:          "FD-TAXI-SEQUENTIAL-RIDES",
		Title:       "Split taxi journey",
		Description: "Chained taxi rides, each picking up where the last dropped off, adding up to a large fare.",
		Severity:    domain.SeverityMedium,
		Kinds:       []domain.EventKind{domain.KindTaxi},
		Grouping:    grouping.ByDay(),
	}
	r.Detect = func(_ context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
		cfg := env.Config
		maxGap := domain.HoursDuration(cfg.SequentialTaxiGapHours)

		chained := func(prev, next domain.Event) bool {
			gap := next.Window.Start().Sub(prev.Window.End())
			if gap < 0 || gap > maxGap {
				return false
			}
			return prev.To != nil && next.From != nil && geo.WithinDistance(prev.To, next.From, cfg.SequentialTaxiMaxHopKm)
		}

		var out []domain.Finding
		var chain []domain.Event
		flush := func() {
			if len(chain) < cfg.SequentialTaxiMinRides {
				return
			}
			var total float64
			for _, ev := range chain {
				total += ev.Amount
			}
			if total < cfg.SequentialTaxiAmountThreshold {
				return
			}
			first, last := chain[0], chain[len(chain)-1]
			out = append(out, r.NewFinding(first, eventIDs(chain[1:]), map[string]any{
				"rides":       len(chain),
				"totalAmount": total,
				"from":        cityOf(first.From),
				"to":          cityOf(last.To),
				"spanHours":   hours(last.Window.End().Sub(first.Window.Start())),
			}))
		}

		for _, ev := range group.Events {
			if n := len(chain); n > 0 && chained(chain[n-1], ev) {
				chain = append(chain, ev)
				continue
			}
			flush()
			chain = []domain.Event{ev}
		}
		flush()
		return out, nil
	}
	return r
}
