package recovery

import (
	"fmt"
	"strings"

	"github.com/kilianp07/connopt/core/model"
)

// StopType is the operational role of a stop. It drives how much recovery
// time the stop may lend.
type StopType int

const (
	StopRegular StopType = iota
	StopTerminal
	StopMajor
	StopSchool
	StopHospital
	StopMall
)

func (t StopType) String() string {
	switch t {
	case StopTerminal:
		return "terminal"
	case StopMajor:
		return "major_stop"
	case StopSchool:
		return "school"
	case StopHospital:
		return "hospital"
	case StopMall:
		return "mall"
	default:
		return "regular"
	}
}

// ParseStopType converts a name such as "terminal" into a StopType.
func ParseStopType(s string) (StopType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "terminal":
		return StopTerminal, nil
	case "major_stop", "major":
		return StopMajor, nil
	case "school":
		return StopSchool, nil
	case "hospital":
		return StopHospital, nil
	case "mall":
		return StopMall, nil
	case "regular", "":
		return StopRegular, nil
	default:
		return StopRegular, fmt.Errorf("unknown stop type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t StopType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *StopType) UnmarshalText(b []byte) error {
	v, err := ParseStopType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Profile holds the lending characteristics of a stop type.
type Profile struct {
	Flexibility     float64 `json:"flexibility"`
	MaxCredit       float64 `json:"max_credit"`
	MinRecoveryTime float64 `json:"min_recovery_time"`
	MaxRecoveryTime float64 `json:"max_recovery_time"`
}

// DefaultProfiles returns the built-in profile per stop type. Terminals lend
// the most; schools and hospitals barely lend at all.
func DefaultProfiles() map[StopType]Profile {
	return map[StopType]Profile{
		StopTerminal: {Flexibility: 0.95, MaxCredit: 20, MinRecoveryTime: 3, MaxRecoveryTime: 30},
		StopMajor:    {Flexibility: 0.7, MaxCredit: 10, MinRecoveryTime: 1, MaxRecoveryTime: 15},
		StopMall:     {Flexibility: 0.6, MaxCredit: 8, MinRecoveryTime: 1, MaxRecoveryTime: 12},
		StopHospital: {Flexibility: 0.3, MaxCredit: 3, MinRecoveryTime: 2, MaxRecoveryTime: 10},
		StopSchool:   {Flexibility: 0.2, MaxCredit: 2, MinRecoveryTime: 2, MaxRecoveryTime: 10},
		StopRegular:  {Flexibility: 0.5, MaxCredit: 5, MinRecoveryTime: 0, MaxRecoveryTime: 10},
	}
}

// Position locates a timepoint along its route.
type Position struct {
	Index int
	Count int
}

// First reports whether the timepoint starts the route.
func (p Position) First() bool { return p.Index == 0 }

// Last reports whether the timepoint ends the route.
func (p Position) Last() bool { return p.Count > 0 && p.Index == p.Count-1 }

// StopClassifier infers the type of a stop. ok is false when the classifier
// has no opinion.
type StopClassifier interface {
	Classify(tp model.TimePoint, pos Position) (StopType, bool)
}

// ExplicitClassifier maps stop ids to types.
type ExplicitClassifier map[string]StopType

// Classify implements StopClassifier.
func (e ExplicitClassifier) Classify(tp model.TimePoint, _ Position) (StopType, bool) {
	t, ok := e[tp.ID]
	return t, ok
}

// NameClassifier matches keywords against the stop name and id.
type NameClassifier struct {
	Rules []NameRule
}

// NameRule assigns Type to any stop whose name contains one of Keywords.
type NameRule struct {
	Type     StopType
	Keywords []string
}

// DefaultNameClassifier returns the keyword rules used when no explicit
// classification is configured. Rules are checked in order.
func DefaultNameClassifier() NameClassifier {
	return NameClassifier{Rules: []NameRule{
		{Type: StopHospital, Keywords: []string{"hospital", "medical", "clinic", "health"}},
		{Type: StopSchool, Keywords: []string{"school", "college", "university", "campus", "academy", "secondary"}},
		{Type: StopTerminal, Keywords: []string{"terminal", "terminus", "depot", "garage", "transit centre", "transit center"}},
		{Type: StopMall, Keywords: []string{"mall", "shopping", "outlet", "market"}},
		{Type: StopMajor, Keywords: []string{"station", "plaza", "square", "downtown", "hub", "exchange"}},
	}}
}

// Classify implements StopClassifier.
func (n NameClassifier) Classify(tp model.TimePoint, _ Position) (StopType, bool) {
	hay := strings.ToLower(tp.Name + " " + tp.ID)
	for _, r := range n.Rules {
		for _, kw := range r.Keywords {
			if strings.Contains(hay, kw) {
				return r.Type, true
			}
		}
	}
	return StopRegular, false
}

// EndpointClassifier treats the first and last timepoint of a route as
// terminals.
type EndpointClassifier struct{}

// Classify implements StopClassifier.
func (EndpointClassifier) Classify(_ model.TimePoint, pos Position) (StopType, bool) {
	if pos.First() || pos.Last() {
		return StopTerminal, true
	}
	return StopRegular, false
}

// ChainClassifier asks each classifier in turn and returns the first answer.
type ChainClassifier []StopClassifier

// Classify implements StopClassifier.
func (c ChainClassifier) Classify(tp model.TimePoint, pos Position) (StopType, bool) {
	for _, cl := range c {
		if cl == nil {
			continue
		}
		if t, ok := cl.Classify(tp, pos); ok {
			return t, true
		}
	}
	return StopRegular, false
}

// DefaultClassifier matches names first and falls back to route endpoints.
func DefaultClassifier() StopClassifier {
	return ChainClassifier{DefaultNameClassifier(), EndpointClassifier{}}
}
