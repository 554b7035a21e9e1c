// Package geo answers "how far apart are these two cities" from a static
// table, city centroid coordinates, and an optional remote backend.
package geo

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/opensource-finance/tripwire/internal/domain"
	"github.com/opensource-finance/tripwire/internal/metrics"
)

// ErrRemoteUnavailable is returned by the remote backend when the circuit
// is open or the request failed.
var ErrRemoteUnavailable = errors.New("distance backend unavailable")

// DistanceService resolves the distance between two cities in kilometres.
// ok is false when the distance is unknown; callers must then skip the
// comparison rather than treat the cities as far apart or close.
type DistanceService interface {
	DistanceKm(ctx context.Context, cityA, cityB string) (km float64, ok bool)
}

// Chain tries each backend in order and returns the first known answer.
type Chain []DistanceService

// DistanceKm implements DistanceService.
func (c Chain) DistanceKm(ctx context.Context, cityA, cityB string) (float64, bool) {
	for _, svc := range c {
		if svc == nil {
			continue
		}
		if km, ok := svc.DistanceKm(ctx, cityA, cityB); ok {
			return km, true
		}
	}
	return 0, false
}

// Service is the process-wide distance service. Static data can be swapped
// on config reload while the remote backend is kept.
type Service struct {
	mu      sync.RWMutex
	backend DistanceService
	remote  DistanceService
}

// New builds a Service from config. cache may be nil; when set, remote
// answers are memoised in it.
func New(cfg domain.GeoConfig, cache domain.Cache) *Service {
	s := &Service{}
	if cfg.RemoteURL != "" {
		var remote DistanceService = NewRemote(cfg)
		if cache != nil {
			remote = NewCached(remote, cache, ttlSeconds(cfg.CacheTTL))
		}
		s.remote = remote
	}
	s.Reload(cfg)
	return s
}

// Reload replaces the static table and coordinates.
func (s *Service) Reload(cfg domain.GeoConfig) {
	backend := Chain{NewTable(cfg.Distances), NewCoordinateTable(cfg.Cities)}
	if s.remote != nil {
		backend = append(backend, s.remote)
	}
	s.mu.Lock()
	s.backend = backend
	s.mu.Unlock()
}

// DistanceKm implements DistanceService. Identical cities are always 0 km.
func (s *Service) DistanceKm(ctx context.Context, cityA, cityB string) (float64, bool) {
	a, b := domain.NormalizeName(cityA), domain.NormalizeName(cityB)
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 0, true
	}
	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()

	km, ok := backend.DistanceKm(ctx, a, b)
	if !ok {
		metrics.DistanceLookups.WithLabelValues("service", "unknown").Inc()
		slog.Debug("distance unknown", "from", a, "to", b)
	}
	return km, ok
}

// Haversine is the great-circle distance between two points in kilometres.
func Haversine(a, b domain.Coordinates) float64 {
	const earthRadiusKm = 6371.0

	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180.0

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// PlaceDistanceKm measures two locations by their own coordinates.
func PlaceDistanceKm(a, b *domain.Location) (float64, bool) {
	if !a.HasCoordinates() || !b.HasCoordinates() {
		return 0, false
	}
	return Haversine(
		domain.Coordinates{Lat: *a.Lat, Lng: *a.Lng},
		domain.Coordinates{Lat: *b.Lat, Lng: *b.Lng},
	), true
}

// WithinDistance reports whether two specific places are at most km apart.
// Coordinates are used when both sides have them; otherwise the places
// must match textually.
func WithinDistance(a, b *domain.Location, km float64) bool {
	if d, ok := PlaceDistanceKm(a, b); ok {
		return d <= km
	}
	return domain.MatchLocations(a, b) == domain.MatchPlace
}
