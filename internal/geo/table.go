package geo

import (
	"context"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/metrics"
)

type pairKey struct{ a, b string }

func makeKey(a, b string) pairKey {
	a, b = domain.NormalizeName(a), domain.NormalizeName(b)
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Table is a static, symmetric city-pair distance table.
type Table struct {
	pairs map[pairKey]float64
}

// NewTable builds a table from entries. Negative distances and
// self-pairs are ignored.
func NewTable(entries []domain.CityDistance) *Table {
	t := &Table{pairs: make(map[pairKey]float64, len(entries))}
	for _, e := range entries {
		k := makeKey(e.From, e.To)
		if e.Km < 0 || k.a == "" || k.a == k.b {
			continue
		}
		t.pairs[k] = e.Km
	}
	return t
}

// Len is the number of known pairs.
func (t *Table) Len() int { return len(t.pairs) }

// DistanceKm implements DistanceService.
func (t *Table) DistanceKm(_ context.Context, cityA, cityB string) (float64, bool) {
	k := makeKey(cityA, cityB)
	if k.a == "" {
		return 0, false
	}
	if k.a == k.b {
		return 0, true
	}
	km, ok := t.pairs[k]
	if ok {
		metrics.DistanceLookups.WithLabelValues("table", "known").Inc()
	}
	return km, ok
}

// CoordinateTable measures cities by great-circle distance between their
// centroids.
type CoordinateTable struct {
	cities map[string]domain.Coordinates
}

// NewCoordinateTable indexes centroids by normalized city name.
func NewCoordinateTable(cities map[string]domain.Coordinates) *CoordinateTable {
	c := &CoordinateTable{cities: make(map[string]domain.Coordinates, len(cities))}
	for name, coord := range cities {
		c.cities[domain.NormalizeName(name)] = coord
	}
	return c
}

// DistanceKm implements DistanceService.
func (c *CoordinateTable) DistanceKm(_ context.Context, cityA, cityB string) (float64, bool) {
	a, okA := c.cities[domain.NormalizeName(cityA)]
	b, okB := c.cities[domain.NormalizeName(cityB)]
	if !okA || !okB {
		return 0, false
	}
	metrics.DistanceLookups.WithLabelValues("coordinates", "known").Inc()
	return Haversine(a, b), true
}
