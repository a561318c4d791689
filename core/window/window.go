// Package window classifies how well a bus time lines up with an external
// connection and generates connection opportunities from domain schedules
// (college classes, commuter rail, school bells).
package window

import (
	"fmt"
	"math"

	"github.com/kilianp07/connopt/core/logger"
	"github.com/kilianp07/connopt/core/model"
)

// Range is an inclusive band of gap minutes.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Width returns Max-Min.
func (r Range) Width() float64 { return r.Max - r.Min }

// Midpoint returns the centre of the range.
func (r Range) Midpoint() float64 { return (r.Min + r.Max) / 2 }

// Table is the window definition of one connection type.
type Table struct {
	Ideal             Range   `json:"ideal" yaml:"ideal"`
	Partial           Range   `json:"partial" yaml:"partial"`
	PartialMultiplier float64 `json:"partial_multiplier" yaml:"partial_multiplier"`
}

// Validate checks that both ranges are ordered and that the ideal band is
// no wider than the partial band.
func (t Table) Validate() error {
	if t.Ideal.Min > t.Ideal.Max {
		return fmt.Errorf("ideal range inverted: [%v,%v]", t.Ideal.Min, t.Ideal.Max)
	}
	if t.Partial.Min > t.Partial.Max {
		return fmt.Errorf("partial range inverted: [%v,%v]", t.Partial.Min, t.Partial.Max)
	}
	if t.Ideal.Width() > t.Partial.Width() {
		return fmt.Errorf("ideal range wider than partial range")
	}
	if t.PartialMultiplier < 0 || t.PartialMultiplier > 1 {
		return fmt.Errorf("partial multiplier %v outside [0,1]", t.PartialMultiplier)
	}
	return nil
}

// Outer returns the band covering both ideal and partial ranges.
func (t Table) Outer() Range {
	return Range{Min: math.Min(t.Ideal.Min, t.Partial.Min), Max: math.Max(t.Ideal.Max, t.Partial.Max)}
}

// Classify places an absolute gap into ideal, partial or missed. The ideal
// range is checked first.
func (t Table) Classify(absGap float64) model.WindowType {
	switch {
	case t.Ideal.Contains(absGap):
		return model.WindowIdeal
	case t.Partial.Contains(absGap):
		return model.WindowPartial
	default:
		return model.WindowMissed
	}
}

// Multiplier returns the score multiplier of a classification.
func (t Table) Multiplier(w model.WindowType) float64 {
	switch w {
	case model.WindowIdeal:
		return 1.0
	case model.WindowPartial:
		return t.PartialMultiplier
	default:
		return 0
	}
}

// DefaultTables returns the built-in window table per connection type.
func DefaultTables() map[model.ConnectionType]Table {
	return map[model.ConnectionType]Table{
		model.ConnectionSchoolBell:   {Ideal: Range{5, 15}, Partial: Range{2, 25}, PartialMultiplier: 0.7},
		model.ConnectionRail:         {Ideal: Range{10, 15}, Partial: Range{5, 10}, PartialMultiplier: 0.6},
		model.ConnectionCollegeClass: {Ideal: Range{5, 10}, Partial: Range{2, 15}, PartialMultiplier: 0.7},
		model.ConnectionBusRoute:     {Ideal: Range{3, 10}, Partial: Range{1, 15}, PartialMultiplier: 0.5},
	}
}

// Result is the classification of one bus time against one connection.
type Result struct {
	// GapMinutes is positive when the bus is on the correct side of the
	// connection.
	GapMinutes     float64          `json:"gap_minutes"`
	Classification model.WindowType `json:"classification"`
	Score          float64          `json:"score"`
	Multiplier     float64          `json:"multiplier"`
	// RecommendedAdjustment moves the bus toward the ideal midpoint. It is
	// zero for ideal connections.
	RecommendedAdjustment float64 `json:"recommended_adjustment"`
}

// Service is the connection window classifier. It is safe for concurrent
// reads once constructed.
type Service struct {
	tables map[model.ConnectionType]Table
	log    logger.Logger
}

// NewService returns a Service using DefaultTables overlaid with overrides.
func NewService(overrides map[model.ConnectionType]Table, log logger.Logger) (*Service, error) {
	tables := DefaultTables()
	for k, v := range overrides {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("window table %s: %w", k, err)
		}
		tables[k] = v
	}
	return &Service{tables: tables, log: logger.OrNop(log)}, nil
}

// Table returns the window table for the type, falling back to the bus
// route table for unknown types.
func (s *Service) Table(t model.ConnectionType) Table {
	if tb, ok := s.tables[t]; ok {
		return tb
	}
	return s.tables[model.ConnectionBusRoute]
}

// SignedGap returns the gap between bus and connection, positive when the
// bus is on the expected side, normalised across midnight.
func SignedGap(busTime, connectionTime model.Clock, scenario model.Scenario) float64 {
	if scenario == model.DepartAfter {
		return model.GapMinutes(connectionTime, busTime)
	}
	return model.GapMinutes(busTime, connectionTime)
}

// CalculateConnectionWindow classifies busTime against connectionTime for
// the type and scenario and scores it by priority.
func (s *Service) CalculateConnectionWindow(busTime, connectionTime model.Clock, typ model.ConnectionType, scenario model.Scenario, priority int) Result {
	tb := s.Table(typ)
	gap := SignedGap(busTime, connectionTime, scenario)
	class := tb.Classify(math.Abs(gap))
	mult := tb.Multiplier(class)
	res := Result{
		GapMinutes:     gap,
		Classification: class,
		Multiplier:     mult,
		Score:          mult * float64(priority) / 10,
	}
	if class != model.WindowIdeal {
		mid := tb.Ideal.Midpoint()
		if scenario == model.DepartAfter {
			res.RecommendedAdjustment = mid - gap
		} else {
			res.RecommendedAdjustment = gap - mid
		}
	}
	return res
}

// Evaluate classifies the trip closest to the opportunity. ok is false when
// no candidate trip serves the location.
func (s *Service) Evaluate(sched *model.Schedule, c model.ConnectionOpportunity) (Result, *model.Trip, bool) {
	target, err := c.EffectiveTarget()
	if err != nil {
		s.log.Warnf("connection %s: %v", c.ID, err)
		return Result{Classification: model.WindowMissed}, nil, false
	}
	trip, bus, ok := ClosestTrip(sched.Trips, c, target)
	if !ok {
		return Result{Classification: model.WindowMissed}, nil, false
	}
	return s.CalculateConnectionWindow(bus, target, c.Type, c.Scenario, c.Priority), trip, true
}

// ClosestTrip returns the trip whose time at the connection location is
// nearest to target. Trips listed in AffectedTrips are preferred when any
// of them serves the location.
func ClosestTrip(trips []*model.Trip, c model.ConnectionOpportunity, target model.Clock) (*model.Trip, model.Clock, bool) {
	if len(c.AffectedTrips) > 0 {
		want := make(map[int]struct{}, len(c.AffectedTrips))
		for _, n := range c.AffectedTrips {
			want[n] = struct{}{}
		}
		var subset []*model.Trip
		for _, t := range trips {
			if _, ok := want[t.TripNumber]; ok {
				subset = append(subset, t)
			}
		}
		if trip, bus, ok := closest(subset, c, target); ok {
			return trip, bus, true
		}
	}
	return closest(trips, c, target)
}

func closest(trips []*model.Trip, c model.ConnectionOpportunity, target model.Clock) (*model.Trip, model.Clock, bool) {
	var (
		best     *model.Trip
		bestTime model.Clock
		bestDist = math.Inf(1)
	)
	for _, t := range trips {
		bus, ok := c.BusTime(t)
		if !ok {
			continue
		}
		d := math.Abs(model.GapMinutes(bus, target))
		if d < bestDist || (d == bestDist && best != nil && t.TripNumber < best.TripNumber) {
			best, bestTime, bestDist = t, bus, d
		}
	}
	return best, bestTime, best != nil
}
