package model

import "sort"

// TimePoint is an ordered stop along a route.
type TimePoint struct {
	ID       string `json:"id" yaml:"id" validate:"required"`
	Name     string `json:"name" yaml:"name"`
	Sequence int    `json:"sequence" yaml:"sequence" validate:"gte=0"`
}

// Trip is one scheduled run of a vehicle along the route.
type Trip struct {
	TripNumber     int                `json:"trip_number" yaml:"trip_number" validate:"gt=0"`
	BlockNumber    int                `json:"block_number" yaml:"block_number" validate:"gte=0"`
	DepartureTime  Clock              `json:"departure_time" yaml:"departure_time"`
	ArrivalTimes   map[string]Clock   `json:"arrival_times" yaml:"arrival_times"`
	DepartureTimes map[string]Clock   `json:"departure_times" yaml:"departure_times"`
	RecoveryTimes  map[string]float64 `json:"recovery_times" yaml:"recovery_times"`
}

// Clone returns a deep copy of the trip.
func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	cp := *t
	cp.ArrivalTimes = cloneClockMap(t.ArrivalTimes)
	cp.DepartureTimes = cloneClockMap(t.DepartureTimes)
	cp.RecoveryTimes = make(map[string]float64, len(t.RecoveryTimes))
	for k, v := range t.RecoveryTimes {
		cp.RecoveryTimes[k] = v
	}
	return &cp
}

// ArrivalAt returns the arrival time at the timepoint, falling back to the
// departure time when no arrival is recorded.
func (t *Trip) ArrivalAt(id string) (Clock, bool) {
	if c, ok := t.ArrivalTimes[id]; ok {
		return c, true
	}
	c, ok := t.DepartureTimes[id]
	return c, ok
}

// DepartureAt returns the departure time at the timepoint, falling back to
// the arrival time when no departure is recorded.
func (t *Trip) DepartureAt(id string) (Clock, bool) {
	if c, ok := t.DepartureTimes[id]; ok {
		return c, true
	}
	c, ok := t.ArrivalTimes[id]
	return c, ok
}

// Serves reports whether the trip has a time at the timepoint.
func (t *Trip) Serves(id string) bool {
	_, a := t.ArrivalTimes[id]
	_, d := t.DepartureTimes[id]
	return a || d
}

// Shift moves every time of the trip by delta minutes.
func (t *Trip) Shift(delta float64) {
	t.DepartureTime = t.DepartureTime.Add(delta)
	for k, v := range t.ArrivalTimes {
		t.ArrivalTimes[k] = v.Add(delta)
	}
	for k, v := range t.DepartureTimes {
		t.DepartureTimes[k] = v.Add(delta)
	}
}

// ShiftDownstream moves the stop times of every timepoint after the first
// one by delta minutes. The origin and DepartureTime are left untouched.
func (t *Trip) ShiftDownstream(points []TimePoint, delta float64) {
	ordered := SortedTimePoints(points)
	for i, tp := range ordered {
		if i == 0 {
			continue
		}
		if v, ok := t.ArrivalTimes[tp.ID]; ok {
			t.ArrivalTimes[tp.ID] = v.Add(delta)
		}
		if v, ok := t.DepartureTimes[tp.ID]; ok {
			t.DepartureTimes[tp.ID] = v.Add(delta)
		}
	}
}

func cloneClockMap(m map[string]Clock) map[string]Clock {
	out := make(map[string]Clock, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Schedule is the unit of input and output for the optimizer.
type Schedule struct {
	ID         string      `json:"id" yaml:"id" validate:"required"`
	RouteName  string      `json:"route_name" yaml:"route_name"`
	Direction  string      `json:"direction" yaml:"direction"`
	TimePoints []TimePoint `json:"time_points" yaml:"time_points" validate:"required,min=1,dive"`
	Trips      []*Trip     `json:"trips" yaml:"trips" validate:"dive,required"`
}

// Clone returns a deep copy of the schedule, including every per-trip map.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	cp := &Schedule{
		ID:         s.ID,
		RouteName:  s.RouteName,
		Direction:  s.Direction,
		TimePoints: append([]TimePoint(nil), s.TimePoints...),
		Trips:      make([]*Trip, len(s.Trips)),
	}
	for i, t := range s.Trips {
		cp.Trips[i] = t.Clone()
	}
	return cp
}

// TimePoint returns the timepoint with the given id.
func (s *Schedule) TimePoint(id string) (TimePoint, bool) {
	for _, tp := range s.TimePoints {
		if tp.ID == id {
			return tp, true
		}
	}
	return TimePoint{}, false
}

// TripIndex returns the trips keyed by trip number.
func (s *Schedule) TripIndex() map[int]*Trip {
	idx := make(map[int]*Trip, len(s.Trips))
	for _, t := range s.Trips {
		idx[t.TripNumber] = t
	}
	return idx
}

// SortedByDeparture returns the trips ordered by departure time, ties broken
// by trip number.
func (s *Schedule) SortedByDeparture() []*Trip {
	out := append([]*Trip(nil), s.Trips...)
	SortTrips(out)
	return out
}

// Blocks groups the trips by block number, each block ordered by departure.
func (s *Schedule) Blocks() map[int][]*Trip {
	blocks := make(map[int][]*Trip)
	for _, t := range s.Trips {
		blocks[t.BlockNumber] = append(blocks[t.BlockNumber], t)
	}
	for _, b := range blocks {
		SortTrips(b)
	}
	return blocks
}

// Replace swaps the trip with the same trip number for t.
func (s *Schedule) Replace(t *Trip) bool {
	for i, cur := range s.Trips {
		if cur.TripNumber == t.TripNumber {
			s.Trips[i] = t
			return true
		}
	}
	return false
}

// SortTrips orders trips by departure time then trip number.
func SortTrips(trips []*Trip) {
	sort.SliceStable(trips, func(i, j int) bool {
		if trips[i].DepartureTime != trips[j].DepartureTime {
			return trips[i].DepartureTime < trips[j].DepartureTime
		}
		return trips[i].TripNumber < trips[j].TripNumber
	})
}

// SortedTimePoints returns a copy of points ordered by sequence.
func SortedTimePoints(points []TimePoint) []TimePoint {
	out := append([]TimePoint(nil), points...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
