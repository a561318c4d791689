package model

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionType identifies the family of an external connection.
type ConnectionType int

const (
	ConnectionBusRoute ConnectionType = iota
	ConnectionRail
	ConnectionCollegeClass
	ConnectionSchoolBell
)

func (t ConnectionType) String() string {
	switch t {
	case ConnectionBusRoute:
		return "bus_route"
	case ConnectionRail:
		return "rail"
	case ConnectionCollegeClass:
		return "college_class"
	case ConnectionSchoolBell:
		return "school_bell"
	default:
		return "unknown"
	}
}

// ParseConnectionType converts a name such as "rail" into a ConnectionType.
func ParseConnectionType(s string) (ConnectionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bus_route", "bus", "bus-route":
		return ConnectionBusRoute, nil
	case "rail", "train", "go_train":
		return ConnectionRail, nil
	case "college_class", "college", "class":
		return ConnectionCollegeClass, nil
	case "school_bell", "school", "bell":
		return ConnectionSchoolBell, nil
	default:
		return 0, fmt.Errorf("unknown connection type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t ConnectionType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ConnectionType) UnmarshalText(b []byte) error {
	v, err := ParseConnectionType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Scenario tells on which side of the connection the bus must be.
type Scenario int

const (
	// ArriveBefore means the bus reaches the location before the connection
	// (class start, train departure, school start bell).
	ArriveBefore Scenario = iota
	// DepartAfter means the bus leaves the location after the connection
	// (class end, train arrival, dismissal bell).
	DepartAfter
)

func (s Scenario) String() string {
	if s == DepartAfter {
		return "depart_after"
	}
	return "arrive_before"
}

// ParseScenario converts "arrive_before"/"depart_after" into a Scenario.
func ParseScenario(s string) (Scenario, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "arrive_before", "arrival", "before":
		return ArriveBefore, nil
	case "depart_after", "departure", "after":
		return DepartAfter, nil
	default:
		return 0, fmt.Errorf("unknown scenario %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Scenario) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scenario) UnmarshalText(b []byte) error {
	v, err := ParseScenario(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// WindowType is the quality class of a connection.
type WindowType string

const (
	WindowIdeal   WindowType = "ideal"
	WindowPartial WindowType = "partial"
	WindowMissed  WindowType = "missed"
)

// ConnectionOpportunity is an external time a trip should line up with.
type ConnectionOpportunity struct {
	ID         string         `json:"id" yaml:"id" validate:"required"`
	Type       ConnectionType `json:"type" yaml:"type"`
	Scenario   Scenario       `json:"scenario" yaml:"scenario"`
	LocationID string         `json:"location_id" yaml:"location_id" validate:"required"`
	TargetTime string         `json:"target_time" yaml:"target_time" validate:"required,clock"`
	// TransferMinutes is the walking time between the stop and the
	// connection; it moves the effective target away from the connection.
	TransferMinutes float64           `json:"transfer_minutes,omitempty" yaml:"transfer_minutes,omitempty" validate:"gte=0"`
	Priority        int               `json:"priority" yaml:"priority" validate:"min=1,max=10"`
	WindowType      WindowType        `json:"window_type,omitempty" yaml:"window_type,omitempty"`
	AffectedTrips   []int             `json:"affected_trips,omitempty" yaml:"affected_trips,omitempty"`
	OperatingDays   []time.Weekday    `json:"operating_days,omitempty" yaml:"operating_days,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// EffectiveTarget returns the time the bus is measured against, i.e. the
// target time corrected by the transfer walk.
func (c ConnectionOpportunity) EffectiveTarget() (Clock, error) {
	t, err := ParseClock(c.TargetTime)
	if err != nil {
		return 0, err
	}
	return c.Adjust(t), nil
}

// Adjust applies the transfer walk to an already parsed target time.
func (c ConnectionOpportunity) Adjust(t Clock) Clock {
	if c.Scenario == DepartAfter {
		return t.Add(c.TransferMinutes)
	}
	return t.Add(-c.TransferMinutes)
}

// BusTime returns the trip time relevant for the connection scenario at the
// opportunity location.
func (c ConnectionOpportunity) BusTime(t *Trip) (Clock, bool) {
	if c.Scenario == DepartAfter {
		return t.DepartureAt(c.LocationID)
	}
	return t.ArrivalAt(c.LocationID)
}

// OperatesOn reports whether the opportunity applies on the given weekday.
// An empty OperatingDays list means every day.
func (c ConnectionOpportunity) OperatesOn(d time.Weekday) bool {
	if len(c.OperatingDays) == 0 {
		return true
	}
	for _, od := range c.OperatingDays {
		if od == d {
			return true
		}
	}
	return false
}

// Weekdays is Monday through Friday.
var Weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
