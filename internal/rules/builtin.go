package rules

import (
	"time"

	"github.com/opensource-finance/tripwire/internal/domain"
)

// Builtin returns the standard rule catalog. Each call returns fresh
// values, so callers may register them on several engines.
func Builtin() []*Rule {
	return []*Rule{
		reverseTimeRule(),
		taxiHighValueRule(),
		fuelTankRule(),
		commuteTripRule(),
		ubiquitousPresenceRule(),
		checkInCitiesRule(),
		multiHotelRule(),
		sequentialTaxiRule(),
		impossibleSequenceRule(),
		flightRailwayRule(),
		hotelFlightRule(),
	}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func hours(d time.Duration) float64 {
	return float64(d.Round(time.Minute)) / float64(time.Hour)
}

func cityOf(l *domain.Location) string {
	if l == nil {
		return ""
	}
	return l.City
}

func eventIDs(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

// stringsOf reads a string list from evidence, which holds []string when
// fresh and []any after a JSON round trip.
func stringsOf(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, x := range vs {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
