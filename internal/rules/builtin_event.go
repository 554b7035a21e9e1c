package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/geo"
	"github.com/opensource-finance/tripwire/internal/grouping"
)

// Single-event rules. Each group holds exactly one event.

func reverseTimeRule() *Rule {
	r := &Rule{
		ID:          "FD-TRANSPORT-REVERSE-TIME",
		Title:       "Reversed transport time",
		Description: "Recorded end time is earlier than the recorded start time.",
		Severity:    domain.SeverityHigh,
		Kinds:       []domain.EventKind{domain.KindTaxi, domain.KindFlight, domain.KindRailway, domain.KindFuel},
		Grouping:    grouping.ByEvent(),
	}
	r.Detect = func(_ context.Context, _ *Env, group grouping.Candidate) ([]domain.Finding, error) {
		var out []domain.Finding
		for _, ev := range group.Events {
			if !ev.Window.IsReversed() {
				continue
			}
			w := ev.Window
			out = append(out, r.NewFinding(ev, nil, map[string]any{
				"start":           stamp(*w.ExactStart),
				"end":             stamp(*w.ExactEnd),
				"reversedMinutes": w.ExactStart.Sub(*w.ExactEnd).Minutes(),
			}))
		}
		return out, nil
	}
	r.Format = func(f domain.Finding) (string, string) {
		return r.Title, fmt.Sprintf("event %s ends %v minutes before it starts", f.PrimaryEventID, f.Evidence["reversedMinutes"])
	}
	return r
}

func taxiHighValueRule() *Rule {
	r := &Rule{
		ID:          "FD-TAXI-HIGH-VALUE",
		Title:       "High-value taxi ride",
		Description: "Company-paid taxi fare above the configured threshold.",
		Severity:    domain.SeverityLow,
		Kinds:       []domain.EventKind{domain.KindTaxi},
		Grouping:    grouping.ByEvent(),
	}
	r.Detect = func(_ context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
		threshold := env.Config.TaxiHighValueThreshold
		var out []domain.Finding
		for _, ev := range group.Events {
			if ev.Taxi != nil && ev.Taxi.SelfPaid {
				continue
			}
			if ev.Amount <= threshold {
				continue
			}
			out = append(out, r.NewFinding(ev, nil, map[string]any{
				"amount":    ev.Amount,
				"threshold": threshold,
				"from":      cityOf(ev.From),
				"to":        cityOf(ev.To),
			}))
		}
		return out, nil
	}
	return r
}

func fuelTankRule() *Rule {
	r := &Rule{
		ID:          "FD-FUEL-EXCEED-TANK-CAPACITY",
		Title:       "Fuel above tank capacity",
		Description: "A single refuel holds more litres than a tank can.",
		Severity:    domain.SeverityMedium,
		Kinds:       []domain.EventKind{domain.KindFuel},
		Grouping:    grouping.ByEvent(),
	}
	r.Detect = func(_ context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
		capacity := env.Config.FuelTankCapacityLiters
		var out []domain.Finding
		for _, ev := range group.Events {
			liters, ok := ev.Liters(env.Config.FuelPricePerLiter)
			if !ok || liters <= capacity {
				continue
			}
			out = append(out, r.NewFinding(ev, nil, map[string]any{
				"liters":    liters,
				"estimated": ev.Fuel == nil || ev.Fuel.Liters == nil,
				"capacity":  capacity,
				"amount":    ev.Amount,
			}))
		}
		return out, nil
	}
	r.Format = func(f domain.Finding) (string, string) {
		return r.Title, fmt.Sprintf("%.1f litres against a %.0f litre tank", f.Evidence["liters"], f.Evidence["capacity"])
	}
	return r
}

func commuteTripRule() *Rule {
	r := &Rule{
		ID:          "FD-POLICY-COMMUTE-TRIP",
		Title:       "Commute ride claimed",
		Description: "Company-paid weekday taxi between home and work during commute hours.",
		Severity:    domain.SeverityLow,
		Kinds:       []domain.EventKind{domain.KindTaxi},
		Grouping:    grouping.ByEvent(),
	}
	r.Detect = func(_ context.Context, env *Env, group grouping.Candidate) ([]domain.Finding, error) {
		cfg := env.Config
		home, work := cfg.HomeLocations[group.UserID], cfg.WorkLocations[group.UserID]
		if home == nil || work == nil {
			return nil, nil
		}

		var out []domain.Finding
		for _, ev := range group.Events {
			if ev.Taxi != nil && ev.Taxi.SelfPaid {
				continue
			}
			if ev.From == nil || ev.To == nil {
				continue
			}
			start := ev.Window.Start().In(env.Zone)
			if start.Weekday() == time.Saturday || start.Weekday() == time.Sunday {
				continue
			}
			hour := float64(start.Hour()) + float64(start.Minute())/60
			if hour >= cfg.LateNightHour {
				continue
			}
			period, ok := commutePeriod(cfg.CommuteWindows, hour)
			if !ok {
				continue
			}

			var direction string
			switch radius := cfg.CommuteRadiusKm; {
			case geo.WithinDistance(ev.From, home, radius) && geo.WithinDistance(ev.To, work, radius):
				direction = "home_to_work"
			case geo.WithinDistance(ev.From, work, radius) && geo.WithinDistance(ev.To, home, radius):
				direction = "work_to_home"
			default:
				continue
			}
			out = append(out, r.NewFinding(ev, nil, map[string]any{
				"commuteType": direction,
				"period":      period,
				"localTime":   start.Format("15:04"),
				"amount":      ev.Amount,
			}))
		}
		return out, nil
	}
	return r
}

func commutePeriod(windows []domain.HourRange, hour float64) (string, bool) {
	for _, w := range windows {
		if w.Contains(hour) {
			return fmt.Sprintf("%s-%s", clock(w.Start), clock(w.End)), true
		}
	}
	return "", false
}

func clock(h float64) string {
	m := int(h*60 + 0.5)
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
