package optimize

import (
	"github.com/kilianp07/connopt/core/headway"
	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/recovery"
)

// State is the working state of one run.
type State struct {
	Schedule *model.Schedule
	Bank     *recovery.Bank
	Score    float64
	// Multipliers holds the current window multiplier per connection id.
	Multipliers       map[string]float64
	AppliedMoves      []Move
	RejectedMoves     []Move
	HeadwayDeviations []headway.Deviation
	// Locked lists trips moved to meet a connection; headway refinement
	// leaves them alone.
	Locked map[int]bool
	// Revision increases with every committed move.
	Revision int
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	cp := &State{
		Schedule:          s.Schedule.Clone(),
		Score:             s.Score,
		Multipliers:       make(map[string]float64, len(s.Multipliers)),
		AppliedMoves:      append([]Move(nil), s.AppliedMoves...),
		RejectedMoves:     append([]Move(nil), s.RejectedMoves...),
		HeadwayDeviations: append([]headway.Deviation(nil), s.HeadwayDeviations...),
		Locked:            make(map[int]bool, len(s.Locked)),
		Revision:          s.Revision,
	}
	if s.Bank != nil {
		cp.Bank = s.Bank.Clone()
	}
	for k, v := range s.Multipliers {
		cp.Multipliers[k] = v
	}
	for k, v := range s.Locked {
		cp.Locked[k] = v
	}
	return cp
}
