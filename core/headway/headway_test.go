package headway

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/connopt/core/model"
)

func blockSchedule(deps map[int][]string) *model.Schedule {
	s := &model.Schedule{
		ID:         "hw",
		TimePoints: []model.TimePoint{{ID: "a", Sequence: 0}, {ID: "b", Sequence: 1}},
	}
	n := 1
	for block := 1; block <= len(deps); block++ {
		for _, d := range deps[block] {
			c := model.MustParseClock(d)
			s.Trips = append(s.Trips, &model.Trip{
				TripNumber:     n,
				BlockNumber:    block,
				DepartureTime:  c,
				ArrivalTimes:   map[string]model.Clock{"b": c + 20},
				DepartureTimes: map[string]model.Clock{"a": c},
				RecoveryTimes:  map[string]float64{"b": 5},
			})
			n++
		}
	}
	return s
}

func TestExponentialDecayScenario(t *testing.T) {
	s := blockSchedule(map[int][]string{1: {"06:00", "06:30", "07:00", "07:30", "08:00"}})
	svc := NewService(nil, 0, nil)
	cs := svc.CalculateHeadwayCorrections(s.SortedByDeparture(), []Deviation{{TripNumber: 2, Minutes: 8}}, 30, 2)
	totals := Totals(cs)
	assert.InDelta(t, -8.0, totals[2], 1e-9)
	assert.InDelta(t, -4.8, totals[3], 1e-9)
	assert.InDelta(t, -1.6, totals[4], 1e-9)
	assert.Zero(t, totals[5])
	assert.Zero(t, totals[1])
	assert.Len(t, cs, 3)
}

func TestLargeDeviationIsNotCapped(t *testing.T) {
	s := blockSchedule(map[int][]string{1: {"06:00", "06:10", "06:20", "06:30"}})
	cs := NewService(nil, 0, nil).CalculateHeadwayCorrections(s.SortedByDeparture(), []Deviation{{TripNumber: 1, Minutes: 8}}, 10, 2)
	require.Len(t, cs, 3)
	assert.InDelta(t, -8.0, cs[0].Adjustment, 1e-9)
	assert.InDelta(t, -4.8, cs[1].Adjustment, 1e-9)
	assert.InDelta(t, -1.6, cs[2].Adjustment, 1e-9)
}

func TestCapCorrections(t *testing.T) {
	s := blockSchedule(map[int][]string{1: {"06:00", "06:10", "06:20", "06:30"}})
	svc := NewService(nil, 0, nil).CapCorrections(0.5)
	cs := svc.CalculateHeadwayCorrections(s.SortedByDeparture(), []Deviation{{TripNumber: 1, Minutes: 8}}, 10, 2)
	require.Len(t, cs, 3)
	assert.InDelta(t, -5.0, cs[0].Adjustment, 1e-9)
	assert.InDelta(t, -4.8, cs[1].Adjustment, 1e-9)
	assert.InDelta(t, -1.6, cs[2].Adjustment, 1e-9)

	cs = svc.CapCorrections(0).CalculateHeadwayCorrections(s.SortedByDeparture(), []Deviation{{TripNumber: 1, Minutes: 8}}, 10, 2)
	assert.InDelta(t, -8.0, cs[0].Adjustment, 1e-9)
}

func TestOversizedCorrectionNotApplied(t *testing.T) {
	s := blockSchedule(map[int][]string{1: {"06:00", "06:10", "06:20", "06:30"}})
	c := model.DefaultConstraints()
	c.TargetHeadway = 10
	c.MaxTripDeviation = 6
	out, cs := NewService(nil, 0, nil).CorrectHeadwaysWithinBlocks(s, []Deviation{{TripNumber: 1, Minutes: 8}}, c, nil)

	require.Len(t, cs, 3)
	assert.False(t, cs[0].Applied)
	assert.Equal(t, ReasonExceedsDeviation, cs[0].Reason)
	assert.InDelta(t, -8.0, cs[0].Adjustment, 1e-9)
	assert.True(t, cs[1].Applied)
	assert.Equal(t, s.TripIndex()[1].ArrivalTimes["b"], out.TripIndex()[1].ArrivalTimes["b"])
}

func TestDeviationUnderThresholdIgnored(t *testing.T) {
	s := blockSchedule(map[int][]string{1: {"06:00", "06:30"}})
	cs := NewService(nil, 0, nil).CalculateHeadwayCorrections(s.Trips, []Deviation{{TripNumber: 1, Minutes: 1.5}}, 30, 2)
	assert.Empty(t, cs)
}

func TestFactorsDecrease(t *testing.T) {
	for _, name := range []string{"exponential", "linear", "weighted_historical", "momentum"} {
		st, err := StrategyByName(name)
		require.NoError(t, err)
		f := st.Factors(3)
		require.Len(t, f, 3)
		assert.LessOrEqual(t, f[0], 1.0, name)
		for i := 1; i < len(f); i++ {
			if f[i] >= f[i-1] {
				t.Fatalf("%s factors not decreasing: %v", name, f)
			}
		}
	}
	_, err := StrategyByName("random")
	assert.Error(t, err)
}

func TestHistoryAwareStrategies(t *testing.T) {
	wh := WeightedHistorical{Alpha: 0.5}
	assert.InDelta(t, 6.0, wh.Effective(8, []float64{4, 4}), 1e-9)
	assert.Equal(t, 8.0, wh.Effective(8, nil))

	m := Momentum{Beta: 0.5}
	assert.InDelta(t, 10.0, m.Effective(8, []float64{4}), 1e-9)
}

func TestCorrectionsStayInsideBlock(t *testing.T) {
	// Block 1 ends after trip 2; trip 3 opens block 2.
	s := blockSchedule(map[int][]string{
		1: {"06:00", "06:30"},
		2: {"06:15", "06:45", "07:15"},
	})
	c := model.DefaultConstraints()
	c.TargetHeadway = 30
	out, cs := NewService(nil, 0, nil).CorrectHeadwaysWithinBlocks(s, []Deviation{{TripNumber: 2, Minutes: 6}}, c, nil)

	require.Len(t, cs, 1)
	assert.Equal(t, 2, cs[0].TripNumber)
	assert.True(t, cs[0].Applied)
	for _, cor := range cs {
		assert.Equal(t, 1, cor.BlockNumber)
	}
	moved := out.TripIndex()[2]
	assert.Equal(t, model.MustParseClock("06:30"), moved.DepartureTimes["a"], "origin untouched")
	assert.Equal(t, model.MustParseClock("06:44"), moved.ArrivalTimes["b"])
	assert.Equal(t, model.MustParseClock("06:50"), s.TripIndex()[2].ArrivalTimes["b"], "input untouched")
}

func TestCorrectionsNotAppliedWithReason(t *testing.T) {
	s := blockSchedule(map[int][]string{1: {"06:00", "06:30", "07:00"}})
	c := model.DefaultConstraints()
	c.TargetHeadway = 40
	c.MaxTripDeviation = 6
	out, cs := NewService(nil, 0, nil).CorrectHeadwaysWithinBlocks(s, []Deviation{{TripNumber: 1, Minutes: 9}}, c, map[int]bool{2: true})

	require.Len(t, cs, 3)
	assert.False(t, cs[0].Applied)
	assert.Equal(t, ReasonExceedsDeviation, cs[0].Reason)
	assert.False(t, cs[1].Applied)
	assert.Equal(t, ReasonLocked, cs[1].Reason)
	assert.True(t, cs[2].Applied)
	assert.InDelta(t, -1.8, cs[2].Adjustment, 1e-9)
	assert.Equal(t, s.TripIndex()[1].ArrivalTimes["b"], out.TripIndex()[1].ArrivalTimes["b"])
}

func TestValidateHeadwayConsistency(t *testing.T) {
	s := blockSchedule(map[int][]string{1: {"06:00", "06:02", "06:14", "06:42", "07:50"}})
	vs := ValidateHeadwayConsistency(s, 3, 30)
	kinds := make([]string, 0, len(vs))
	for _, v := range vs {
		kinds = append(kinds, fmt.Sprintf("%d-%d:%s:%s", v.FromTrip, v.ToTrip, v.Kind, v.Severity))
	}
	assert.Equal(t, []string{
		"1-2:too_short:medium",
		"2-3:bunching:low",
		"4-5:too_long:low",
	}, kinds)
}

func TestHeadwayStatsAndInference(t *testing.T) {
	s := blockSchedule(map[int][]string{1: {"06:00", "06:20", "06:40", "07:10"}})
	assert.Equal(t, []float64{20, 20, 30}, Headways(s))
	assert.Equal(t, 20.0, InferTargetHeadway(s))
	st := HeadwayStats(s)
	assert.Equal(t, 3, st.Count)
	assert.InDelta(t, 70.0/3.0, st.Mean, 1e-9)
	assert.Equal(t, 20.0, st.Min)
	assert.Equal(t, 30.0, st.Max)
	assert.Greater(t, st.CV, 0.0)
}

func TestDeviationsAtDownstreamStop(t *testing.T) {
	s := blockSchedule(map[int][]string{1: {"06:00", "06:30"}, 2: {"06:10"}})
	s.TripIndex()[2].ArrivalTimes["b"] = model.MustParseClock("07:05")
	devs := DeviationsAt(s, "b", 15)
	require.Len(t, devs, 2)
	assert.Equal(t, Deviation{TripNumber: 3, Minutes: -5}, devs[0])
	assert.Equal(t, Deviation{TripNumber: 2, Minutes: 20}, devs[1])
}
