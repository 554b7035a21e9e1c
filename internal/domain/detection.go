package domain

import (
	"fmt"
	"time"
)

// DetectionConfig holds the thresholds and registries rules read while
// evaluating. A snapshot is immutable once handed to the engine; reloads
// produce a new value.
type DetectionConfig struct {
	// TimeZone names the IANA zone used for calendar-day grouping and
	// wall-clock checks such as commute hours.
	TimeZone string `json:"timeZone" yaml:"timeZone"`

	GroundSpeedKmh    float64 `json:"groundSpeedKmh" yaml:"groundSpeedKmh"`
	MaxTravelSpeedKmh float64 `json:"maxTravelSpeedKmh" yaml:"maxTravelSpeedKmh"`
	PresenceSpeedKmh  float64 `json:"presenceSpeedKmh" yaml:"presenceSpeedKmh"`
	MinTravelHours    float64 `json:"minTravelHours" yaml:"minTravelHours"`

	MinSuspiciousDistanceKm float64 `json:"minSuspiciousDistanceKm" yaml:"minSuspiciousDistanceKm"`
	UbiquitousMinCityCount  int     `json:"ubiquitousMinCityCount" yaml:"ubiquitousMinCityCount"`
	UbiquitousMinDistanceKm float64 `json:"ubiquitousMinDistanceKm" yaml:"ubiquitousMinDistanceKm"`

	TaxiHighValueThreshold float64 `json:"taxiHighValueThreshold" yaml:"taxiHighValueThreshold"`
	FuelTankCapacityLiters float64 `json:"fuelTankCapacityLiters" yaml:"fuelTankCapacityLiters"`
	FuelPricePerLiter      float64 `json:"fuelPricePerLiter" yaml:"fuelPricePerLiter"`

	SequentialTaxiGapHours        float64 `json:"sequentialTaxiGapHours" yaml:"sequentialTaxiGapHours"`
	SequentialTaxiAmountThreshold float64 `json:"sequentialTaxiAmountThreshold" yaml:"sequentialTaxiAmountThreshold"`
	SequentialTaxiMinRides        int     `json:"sequentialTaxiMinRides" yaml:"sequentialTaxiMinRides"`
	SequentialTaxiMaxHopKm        float64 `json:"sequentialTaxiMaxHopKm" yaml:"sequentialTaxiMaxHopKm"`

	CommuteRadiusKm       float64 `json:"commuteRadiusKm" yaml:"commuteRadiusKm"`
	HotelOverlapHours     float64 `json:"hotelOverlapHours" yaml:"hotelOverlapHours"`
	TransportOverlapHours float64 `json:"transportOverlapHours" yaml:"transportOverlapHours"`
	AirportTransferHours  float64 `json:"airportTransferHours" yaml:"airportTransferHours"`
	// FlightHotelGapHours is the least time needed between a flight in one
	// city and a hotel check-in or checkout in another.
	FlightHotelGapHours float64 `json:"flightHotelGapHours" yaml:"flightHotelGapHours"`

	// CommuteWindows are the wall-clock ranges treated as commute hours.
	CommuteWindows []HourRange `json:"commuteWindows" yaml:"commuteWindows"`
	// LateNightHour is when company-paid rides home become allowed.
	LateNightHour float64 `json:"lateNightHour" yaml:"lateNightHour"`

	HomeLocations map[string]*Location `json:"homeLocations,omitempty" yaml:"homeLocations,omitempty"`
	WorkLocations map[string]*Location `json:"workLocations,omitempty" yaml:"workLocations,omitempty"`
	DisabledRules []string             `json:"disabledRules,omitempty" yaml:"disabledRules,omitempty"`
}

// HourRange is a wall-clock interval in fractional hours, e.g. 17 to 19.5.
type HourRange struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Contains reports whether the wall-clock hour h falls in the range,
// inclusive at both ends.
func (r HourRange) Contains(h float64) bool {
	return h >= r.Start && h <= r.End
}

// DefaultDetectionConfig returns the documented defaults.
func DefaultDetectionConfig() *DetectionConfig {
	return &DetectionConfig{
		TimeZone:                      "UTC",
		GroundSpeedKmh:                100,
		MaxTravelSpeedKmh:             200,
		PresenceSpeedKmh:              500,
		MinTravelHours:                1.0,
		MinSuspiciousDistanceKm:       150,
		UbiquitousMinCityCount:        3,
		UbiquitousMinDistanceKm:       500,
		TaxiHighValueThreshold:        50,
		FuelTankCapacityLiters:        100,
		FuelPricePerLiter:             7.5,
		SequentialTaxiGapHours:        0.5,
		SequentialTaxiAmountThreshold: 150,
		SequentialTaxiMinRides:        3,
		SequentialTaxiMaxHopKm:        2,
		CommuteRadiusKm:               1,
		HotelOverlapHours:             8,
		TransportOverlapHours:         0.5,
		AirportTransferHours:          2,
		FlightHotelGapHours:           3,
		CommuteWindows:                []HourRange{{Start: 7, End: 10}, {Start: 17, End: 19.5}},
		LateNightHour:                 22.5,
	}
}

// Location resolves TimeZone, falling back to UTC.
func (c *DetectionConfig) Location() *time.Location {
	if c == nil || c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RuleEnabled reports whether ruleID is not listed in DisabledRules.
func (c *DetectionConfig) RuleEnabled(ruleID string) bool {
	for _, id := range c.DisabledRules {
		if id == ruleID {
			return false
		}
	}
	return true
}

// Validate rejects configurations that would make feasibility math
// meaningless.
func (c *DetectionConfig) Validate() error {
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("timeZone %q: %w", c.TimeZone, err)
	}
	speeds := map[string]float64{
		"groundSpeedKmh":    c.GroundSpeedKmh,
		"maxTravelSpeedKmh": c.MaxTravelSpeedKmh,
		"presenceSpeedKmh":  c.PresenceSpeedKmh,
	}
	for name, v := range speeds {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, v)
		}
	}
	for _, r := range c.CommuteWindows {
		if r.End < r.Start {
			return fmt.Errorf("commute window end %v before start %v", r.End, r.Start)
		}
	}
	return nil
}

// Clone returns a deep copy, so a reload can start from the current
// snapshot without touching it.
func (c *DetectionConfig) Clone() *DetectionConfig {
	out := *c
	out.HomeLocations = cloneLocations(c.HomeLocations)
	out.WorkLocations = cloneLocations(c.WorkLocations)
	out.DisabledRules = append([]string(nil), c.DisabledRules...)
	out.CommuteWindows = append([]HourRange(nil), c.CommuteWindows...)
	return &out
}

func cloneLocations(in map[string]*Location) map[string]*Location {
	if in == nil {
		return nil
	}
	out := make(map[string]*Location, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		l := *v
		out[k] = &l
	}
	return out
}
