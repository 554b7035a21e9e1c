package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent is returned when an event cannot be ingested.
var ErrInvalidEvent = errors.New("invalid event")

// EventKind tags the variant carried by an Event.
type EventKind string

const (
	KindFlight  EventKind = "flight"
	KindRailway EventKind = "railway"
	KindTaxi    EventKind = "taxi"
	KindFuel    EventKind = "fuel"
	KindHotel   EventKind = "hotel"
	KindCheckIn EventKind = "checkin"
)

// AllKinds lists every supported event kind.
var AllKinds = []EventKind{KindFlight, KindRailway, KindTaxi, KindFuel, KindHotel, KindCheckIn}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is a single trajectory record: something a user did, somewhere,
// during a possibly-uncertain time window. Exactly one of the kind-specific
// detail blocks matches Kind; the others are nil.
//
// Point events (hotel, fuel, check-in) use Location. Directed transport
// (flight, railway, taxi) uses From and To and may also set Location.
type Event struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId,omitempty"`
	UserID     string     `json:"userId"`
	UserName   string     `json:"userName,omitempty"`
	Department string     `json:"department,omitempty"`
	Kind       EventKind  `json:"kind"`
	Window     TimeWindow `json:"window"`
	Location   *Location  `json:"location,omitempty"`
	From       *Location  `json:"from,omitempty"`
	To         *Location  `json:"to,omitempty"`
	Amount     float64    `json:"amount,omitempty"`

	Flight  *FlightDetails  `json:"flight,omitempty"`
	Railway *RailwayDetails `json:"railway,omitempty"`
	Taxi    *TaxiDetails    `json:"taxi,omitempty"`
	Fuel    *FuelDetails    `json:"fuel,omitempty"`
	Hotel   *HotelDetails   `json:"hotel,omitempty"`
	CheckIn *CheckInDetails `json:"checkIn,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// FlightDetails are carried by flight events.
type FlightDetails struct {
	FlightNo   string `json:"flightNo,omitempty"`
	Airline    string `json:"airline,omitempty"`
	CabinClass string `json:"cabinClass,omitempty"`
}

// RailwayDetails are carried by railway events.
type RailwayDetails struct {
	TrainNo   string `json:"trainNo,omitempty"`
	TrainType string `json:"trainType,omitempty"`
	SeatClass string `json:"seatClass,omitempty"`
}

// TaxiDetails are carried by taxi events.
type TaxiDetails struct {
	// SelfPaid rides are not reimbursed and are ignored by spend rules.
	SelfPaid bool   `json:"selfPaid,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
}

// FuelDetails are carried by fuel purchases.
type FuelDetails struct {
	Liters       *float64 `json:"liters,omitempty"`
	FuelType     string   `json:"fuelType,omitempty"`
	Station      string   `json:"station,omitempty"`
	LicensePlate string   `json:"licensePlate,omitempty"`
}

// HotelDetails are carried by hotel stays.
type HotelDetails struct {
	HotelName string `json:"hotelName,omitempty"`
	GuestName string `json:"guestName,omitempty"`
	RoomType  string `json:"roomType,omitempty"`
}

// CheckInDetails are carried by attendance check-ins.
type CheckInDetails struct {
	Activity string `json:"activity,omitempty"`
	Device   string `json:"device,omitempty"`
}

// IsTransport reports whether the event moves the user between places.
func (e *Event) IsTransport() bool {
	switch e.Kind {
	case KindFlight, KindRailway, KindTaxi:
		return true
	}
	return false
}

// Route returns the endpoints of a directed event. ok is false when the
// event is not transport or either endpoint lacks a city.
func (e *Event) Route() (from, to *Location, ok bool) {
	if !e.IsTransport() || !e.From.HasCity() || !e.To.HasCity() {
		return nil, nil, false
	}
	return e.From, e.To, true
}

// Place returns the best single location for the event: Location when set,
// otherwise the departure point of a directed event.
func (e *Event) Place() *Location {
	if e.Location != nil {
		return e.Location
	}
	return e.From
}

// Observation pins a user to a location during a window.
type Observation struct {
	EventID  string
	Kind     EventKind
	Location *Location
	Window   TimeWindow
}

// Observations derives presence facts from the event. A point event yields
// one observation over its window. A directed event yields a departure
// somewhere between its earliest and latest possible start, and an arrival
// between its earliest and latest possible end; exact times pin them to an
// instant. Endpoints without a city are skipped.
func (e *Event) Observations() []Observation {
	if e.IsTransport() && (e.From != nil || e.To != nil) {
		var obs []Observation
		if e.From.HasCity() {
			obs = append(obs, Observation{EventID: e.ID, Kind: e.Kind, Location: e.From, Window: e.Window.Departure()})
		}
		if e.To.HasCity() {
			obs = append(obs, Observation{EventID: e.ID, Kind: e.Kind, Location: e.To, Window: e.Window.Arrival()})
		}
		return obs
	}
	if e.Location.HasCity() {
		return []Observation{{EventID: e.ID, Kind: e.Kind, Location: e.Location, Window: e.Window}}
	}
	return nil
}

// Validate checks the fields required for ingestion. It does not judge the
// time window: reversed or inconsistent windows are accepted.
func (e *Event) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	case e.UserID == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidEvent)
	case !e.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	case e.Window.EarliestStart.IsZero() && e.Window.ExactStart == nil:
		return fmt.Errorf("%w: window start is required", ErrInvalidEvent)
	case e.Window.LatestEnd.IsZero() && e.Window.ExactEnd == nil:
		return fmt.Errorf("%w: window end is required", ErrInvalidEvent)
	}
	return nil
}

// Normalize fills missing bounds from exact timestamps so that effective
// times are always defined.
func (e *Event) Normalize() {
	w := &e.Window
	if w.EarliestStart.IsZero() && w.ExactStart != nil {
		w.EarliestStart = *w.ExactStart
	}
	if w.LatestEnd.IsZero() && w.ExactEnd != nil {
		w.LatestEnd = *w.ExactEnd
	}
}

// Liters returns the fuel volume, estimating it from the amount when the
// volume was not recorded.
func (e *Event) Liters(pricePerLiter float64) (float64, bool) {
	if e.Kind != KindFuel {
		return 0, false
	}
	if e.Fuel != nil && e.Fuel.Liters != nil {
		return *e.Fuel.Liters, true
	}
	if pricePerLiter <= 0 || e.Amount <= 0 {
		return 0, false
	}
	return e.Amount / pricePerLiter, true
}

// FilterByKind keeps events whose kind is in kinds. An empty kinds list
// keeps everything.
func FilterByKind(events []Event, kinds []EventKind) []Event {
	if len(kinds) == 0 {
		return events
	}
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		for _, k := range kinds {
			if ev.Kind == k {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}
