package headway

import (
	"github.com/kilianp07/connopt/core/model"
)

// ViolationKind names a headway problem.
type ViolationKind string

const (
	TooShort ViolationKind = "too_short"
	Bunching ViolationKind = "bunching"
	TooLong  ViolationKind = "too_long"
)

// Severity grades how far a headway is outside tolerance.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Violation is one out-of-tolerance headway between two trips.
type Violation struct {
	FromTrip int           `json:"from_trip"`
	ToTrip   int           `json:"to_trip"`
	Headway  float64       `json:"headway"`
	Kind     ViolationKind `json:"kind"`
	Severity Severity      `json:"severity"`
}

func severity(excess float64) Severity {
	switch {
	case excess < 0.25:
		return SeverityLow
	case excess < 0.5:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// ValidateHeadwayConsistency flags headways under minHeadway (too_short),
// under half the target (bunching) and over twice the target (too_long).
// A zero target is inferred from the schedule.
func ValidateHeadwayConsistency(sched *model.Schedule, minHeadway, target float64) []Violation {
	if target <= 0 {
		target = InferTargetHeadway(sched)
	}
	trips := sched.SortedByDeparture()
	var out []Violation
	for i := 1; i < len(trips); i++ {
		h := model.GapMinutes(trips[i-1].DepartureTime, trips[i].DepartureTime)
		v := Violation{FromTrip: trips[i-1].TripNumber, ToTrip: trips[i].TripNumber, Headway: h}
		switch {
		case minHeadway > 0 && h < minHeadway:
			v.Kind, v.Severity = TooShort, severity((minHeadway-h)/minHeadway)
		case target > 0 && h < target*0.5:
			v.Kind, v.Severity = Bunching, severity((target*0.5-h)/(target*0.5))
		case target > 0 && h > target*2:
			v.Kind, v.Severity = TooLong, severity((h-target*2)/(target*2))
		default:
			continue
		}
		out = append(out, v)
	}
	return out
}
