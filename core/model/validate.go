package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError lists every problem found in a malformed input.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) addValidator(prefix string, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			e.add("%s%s failed on %s", prefix, fe.Namespace(), fe.Tag())
		}
		return
	}
	if err != nil {
		e.add("%s%v", prefix, err)
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with the custom "clock" tag
// registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
			_, err := ParseClock(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// ValidateSchedule checks the schedule structure and that every stop time
// refers to a known timepoint.
func ValidateSchedule(s *Schedule) error {
	verr := &ValidationError{}
	if s == nil {
		verr.add("schedule is nil")
		return verr
	}
	verr.addValidator("", Validator().Struct(s))
	known := make(map[string]struct{}, len(s.TimePoints))
	for _, tp := range s.TimePoints {
		if _, dup := known[tp.ID]; dup {
			verr.add("duplicate timepoint %s", tp.ID)
		}
		known[tp.ID] = struct{}{}
	}
	seen := make(map[int]struct{}, len(s.Trips))
	for _, t := range s.Trips {
		if t == nil {
			continue
		}
		if _, dup := seen[t.TripNumber]; dup {
			verr.add("duplicate trip %d", t.TripNumber)
		}
		seen[t.TripNumber] = struct{}{}
		for id := range t.ArrivalTimes {
			if _, ok := known[id]; !ok {
				verr.add("trip %d: unknown timepoint %s", t.TripNumber, id)
			}
		}
		for id := range t.DepartureTimes {
			if _, ok := known[id]; !ok {
				verr.add("trip %d: unknown timepoint %s", t.TripNumber, id)
			}
		}
		for id, r := range t.RecoveryTimes {
			if r < 0 {
				verr.add("trip %d: negative recovery at %s", t.TripNumber, id)
			}
		}
	}
	return verr.orNil()
}

// ValidateConnections checks every opportunity and that each one refers to
// a timepoint of the schedule.
func ValidateConnections(s *Schedule, conns []ConnectionOpportunity) error {
	verr := &ValidationError{}
	ids := make(map[string]struct{}, len(conns))
	for i := range conns {
		c := conns[i]
		verr.addValidator(fmt.Sprintf("connection[%d] ", i), Validator().Struct(c))
		if _, dup := ids[c.ID]; dup && c.ID != "" {
			verr.add("duplicate connection %s", c.ID)
		}
		ids[c.ID] = struct{}{}
		if s != nil && c.LocationID != "" {
			if _, ok := s.TimePoint(c.LocationID); !ok {
				verr.add("connection %s: unknown location %s", c.ID, c.LocationID)
			}
		}
	}
	return verr.orNil()
}

// ValidateConstraints checks the constraint set.
func ValidateConstraints(c OptimizationConstraints) error {
	verr := &ValidationError{}
	verr.addValidator("", Validator().Struct(c))
	return verr.orNil()
}

// ValidateInput validates a complete optimization request.
func ValidateInput(s *Schedule, conns []ConnectionOpportunity, c OptimizationConstraints) error {
	verr := &ValidationError{}
	for _, err := range []error{ValidateSchedule(s), ValidateConnections(s, conns), ValidateConstraints(c)} {
		var v *ValidationError
		if errors.As(err, &v) {
			verr.Problems = append(verr.Problems, v.Problems...)
		}
	}
	return verr.orNil()
}
