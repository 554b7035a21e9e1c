package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Location is where an event took place. Only City is required for
// city-level reasoning; Place and Address refine it.
type Location struct {
	City    string   `json:"city" yaml:"city"`
	Place   string   `json:"place,omitempty" yaml:"place,omitempty"`
	Address string   `json:"address,omitempty" yaml:"address,omitempty"`
	Lat     *float64 `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty" yaml:"lng,omitempty"`
}

// HasCity reports whether the location carries a usable city name.
func (l *Location) HasCity() bool {
	return l != nil && NormalizeName(l.City) != ""
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Lat != nil && l.Lng != nil
}

// CityKey is the normalized city name used for comparisons and lookups.
func (l *Location) CityKey() string {
	if l == nil {
		return ""
	}
	return NormalizeName(l.City)
}

var folder = cases.Fold()

// NormalizeName folds case, applies NFKC and collapses whitespace so that
// "  New  York" and "new york" compare equal.
func NormalizeName(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// MatchLevel describes how closely two locations agree.
type MatchLevel int

const (
	MatchNone MatchLevel = iota
	MatchCity
	MatchPlace
)

// MatchLocations compares two locations. Differing cities never match. A
// place match requires one specific place (or address) to contain the
// other; a city match requires equal normalized city names.
func MatchLocations(a, b *Location) MatchLevel {
	if a == nil || b == nil {
		return MatchNone
	}
	if a.HasCity() && b.HasCity() && a.CityKey() != b.CityKey() {
		return MatchNone
	}
	if placesMatch(a.Place, b.Place) || placesMatch(a.Address, b.Address) {
		return MatchPlace
	}
	if a.HasCity() && a.CityKey() == b.CityKey() {
		return MatchCity
	}
	return MatchNone
}

// SameCity reports whether both locations resolve to the same city.
func SameCity(a, b *Location) bool {
	return MatchLocations(a, b) >= MatchCity
}

func placesMatch(a, b string) bool {
	a, b = NormalizeName(a), NormalizeName(b)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
