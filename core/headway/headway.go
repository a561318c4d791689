// Package headway smooths schedule perturbations over the next trips of a
// vehicle block and checks the spacing between consecutive trips.
package headway

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/connopt/core/logger"
	"github.com/kilianp07/connopt/core/model"
)

// DefaultWindow is the number of trips a correction reaches.
const DefaultWindow = 3

// Not-applied reasons.
const (
	ReasonExceedsDeviation = "exceeds max trip deviation"
	ReasonLocked           = "trip locked by connection alignment"
	ReasonUnknownTrip      = "unknown trip"
)

// Deviation is the headway error observed on one trip, in minutes.
type Deviation struct {
	TripNumber int     `json:"trip_number"`
	Minutes    float64 `json:"minutes"`
}

// Correction is the shift proposed for one trip.
type Correction struct {
	TripNumber  int     `json:"trip_number"`
	BlockNumber int     `json:"block_number"`
	SourceTrip  int     `json:"source_trip"`
	Offset      int     `json:"offset"`
	Deviation   float64 `json:"deviation"`
	Adjustment  float64 `json:"adjustment"`
	Applied     bool    `json:"applied"`
	Reason      string  `json:"reason,omitempty"`
}

// Service computes and applies headway corrections.
type Service struct {
	strategy Strategy
	window   int
	capShare float64
	log      logger.Logger
}

// NewService returns a corrector. A nil strategy selects exponential decay
// and a non-positive window selects DefaultWindow.
func NewService(strategy Strategy, window int, log logger.Logger) *Service {
	if strategy == nil {
		strategy = Exponential{Decay: DefaultDecay}
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{strategy: strategy, window: window, log: logger.OrNop(log)}
}

// CapCorrections limits every correction to share x targetHeadway. A zero
// share removes the cap.
func (s *Service) CapCorrections(share float64) *Service {
	s.capShare = share
	return s
}

// Strategy returns the configured strategy.
func (s *Service) Strategy() Strategy { return s.strategy }

// CalculateHeadwayCorrections spreads every deviation larger than threshold
// over the following trips of the ordered trips slice. The correction at
// offset k is -deviation x factor[k]. Corrections are only bounded by
// targetHeadway when CapCorrections was set.
func (s *Service) CalculateHeadwayCorrections(trips []*model.Trip, deviations []Deviation, targetHeadway, threshold float64) []Correction {
	pos := make(map[int]int, len(trips))
	for i, t := range trips {
		pos[t.TripNumber] = i
	}
	devs := append([]Deviation(nil), deviations...)
	sort.SliceStable(devs, func(i, j int) bool { return pos[devs[i].TripNumber] < pos[devs[j].TripNumber] })

	factors := s.strategy.Factors(s.window)
	var (
		out     []Correction
		history []float64
	)
	for _, d := range devs {
		idx, ok := pos[d.TripNumber]
		if !ok {
			continue
		}
		eff := s.strategy.Effective(d.Minutes, history)
		history = append(history, d.Minutes)
		if math.Abs(eff) <= threshold {
			continue
		}
		for off, f := range factors {
			if idx+off >= len(trips) || f == 0 {
				break
			}
			adj := -eff * f
			if s.capShare > 0 && targetHeadway > 0 {
				limit := targetHeadway * s.capShare
				adj = math.Max(-limit, math.Min(limit, adj))
			}
			t := trips[idx+off]
			out = append(out, Correction{
				TripNumber:  t.TripNumber,
				BlockNumber: t.BlockNumber,
				SourceTrip:  d.TripNumber,
				Offset:      off,
				Deviation:   d.Minutes,
				Adjustment:  adj,
			})
		}
	}
	return out
}

// Totals sums the adjustments per trip.
func Totals(cs []Correction) map[int]float64 {
	out := make(map[int]float64)
	for _, c := range cs {
		out[c.TripNumber] += c.Adjustment
	}
	return out
}

// CorrectHeadwaysWithinBlocks computes corrections block by block so that
// no correction reaches into another vehicle's trips, then applies them to a
// copy of the schedule. Corrections larger than the maximum trip deviation
// and corrections on locked trips are returned unapplied with a reason.
func (s *Service) CorrectHeadwaysWithinBlocks(sched *model.Schedule, deviations []Deviation, c model.OptimizationConstraints, locked map[int]bool) (*model.Schedule, []Correction) {
	out := sched.Clone()
	target := c.TargetHeadway
	if target <= 0 {
		target = InferTargetHeadway(sched)
	}
	index := out.TripIndex()
	byBlock := make(map[int][]Deviation)
	for _, d := range deviations {
		t, ok := index[d.TripNumber]
		if !ok {
			s.log.Debugf("headway deviation on unknown trip %d", d.TripNumber)
			continue
		}
		byBlock[t.BlockNumber] = append(byBlock[t.BlockNumber], d)
	}

	blocks := out.Blocks()
	ids := make([]int, 0, len(byBlock))
	for id := range byBlock {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var all []Correction
	for _, id := range ids {
		cs := s.CalculateHeadwayCorrections(blocks[id], byBlock[id], target, c.HeadwayThreshold)
		for i := range cs {
			cor := &cs[i]
			switch {
			case math.Abs(cor.Adjustment) > c.MaxTripDeviation:
				cor.Reason = ReasonExceedsDeviation
			case locked[cor.TripNumber]:
				cor.Reason = ReasonLocked
			default:
				index[cor.TripNumber].ShiftDownstream(out.TimePoints, cor.Adjustment)
				cor.Applied = true
			}
		}
		all = append(all, cs...)
	}
	if len(all) > 0 {
		s.log.Debugw("headway corrections", map[string]any{
			"schedule": sched.ID, "strategy": s.strategy.Name(), "corrections": len(all),
		})
	}
	return out, all
}

// Headways returns the gaps between consecutive departures at the first
// timepoint, in departure order.
func Headways(sched *model.Schedule) []float64 {
	trips := sched.SortedByDeparture()
	if len(trips) < 2 {
		return nil
	}
	out := make([]float64, 0, len(trips)-1)
	for i := 1; i < len(trips); i++ {
		out = append(out, model.GapMinutes(trips[i-1].DepartureTime, trips[i].DepartureTime))
	}
	return out
}

// DeviationsAt measures headway errors at the timepoint instead of the
// origin. Trips that do not serve the timepoint are skipped.
func DeviationsAt(sched *model.Schedule, tpID string, target float64) []Deviation {
	type obs struct {
		trip int
		at   model.Clock
	}
	var seen []obs
	for _, t := range sched.Trips {
		if at, ok := t.ArrivalAt(tpID); ok {
			seen = append(seen, obs{trip: t.TripNumber, at: at})
		}
	}
	sort.SliceStable(seen, func(i, j int) bool {
		if seen[i].at != seen[j].at {
			return seen[i].at < seen[j].at
		}
		return seen[i].trip < seen[j].trip
	})
	var out []Deviation
	for i := 1; i < len(seen); i++ {
		h := model.GapMinutes(seen[i-1].at, seen[i].at)
		out = append(out, Deviation{TripNumber: seen[i].trip, Minutes: h - target})
	}
	return out
}

// InferTargetHeadway returns the median headway of the schedule, or zero
// when it has fewer than two trips.
func InferTargetHeadway(sched *model.Schedule) float64 {
	hs := Headways(sched)
	if len(hs) == 0 {
		return 0
	}
	sort.Float64s(hs)
	return stat.Quantile(0.5, stat.Empirical, hs, nil)
}

// Stats summarises the headways of a schedule.
type Stats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	// CV is the coefficient of variation, Std/Mean.
	CV  float64 `json:"cv"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// HeadwayStats computes Stats over Headways.
func HeadwayStats(sched *model.Schedule) Stats {
	hs := Headways(sched)
	if len(hs) == 0 {
		return Stats{}
	}
	st := Stats{Count: len(hs), Min: math.Inf(1), Max: math.Inf(-1)}
	st.Mean, st.Std = stat.MeanStdDev(hs, nil)
	if len(hs) == 1 {
		st.Std = 0
	}
	if st.Mean != 0 {
		st.CV = st.Std / st.Mean
	}
	for _, h := range hs {
		st.Min = math.Min(st.Min, h)
		st.Max = math.Max(st.Max, h)
	}
	return st
}
