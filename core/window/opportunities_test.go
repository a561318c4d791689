package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/connopt/core/model"
)

func TestRailOpportunitiesApplyWalkAndDecay(t *testing.T) {
	svc := newTestService(t)
	ops, err := svc.GenerateRailOpportunities(stationSchedule(), RailConfig{
		Station:    "Central",
		LocationID: "station",
		Departures: []RailTrain{{Time: "08:30", Priority: 8, Line: "Lakeshore"}},
		Arrivals:   []RailTrain{{Time: "07:50", Priority: 8}},
	})
	require.NoError(t, err)
	require.Len(t, ops, 2)

	dep := ops[0]
	assert.Equal(t, "rail-station-dep-0830", dep.ID)
	assert.Equal(t, model.ArriveBefore, dep.Scenario)
	assert.Equal(t, 8, dep.Priority)
	assert.Equal(t, float64(DefaultRailWalkMinutes), dep.TransferMinutes)
	// Effective target 08:25; band [5,15] covers arrivals 08:10..08:20.
	assert.Equal(t, []int{2, 3}, dep.AffectedTrips)
	assert.Equal(t, model.WindowPartial, dep.WindowType)

	arr := ops[1]
	assert.Equal(t, "rail-station-arr-0750", arr.ID)
	assert.Equal(t, model.DepartAfter, arr.Scenario)
	assert.Equal(t, 7, arr.Priority)
	// Effective target 07:55; only the 08:01 departure falls inside [5,15].
	assert.Equal(t, []int{1}, arr.AffectedTrips)
}

func TestCollegeOpportunitiesPriorityDecay(t *testing.T) {
	svc := newTestService(t)
	ops, err := svc.GenerateCollegeOpportunities(nil, CollegeConfig{
		Name:       "Sheridan",
		LocationID: "Campus East",
		Classes: []ClassSession{
			{Name: "Calculus", Start: "09:00", End: "10:50", Priority: 8},
			{Name: "Lunch", Start: "12:00", End: "13:00", Priority: 4, Lunch: true},
		},
	})
	require.NoError(t, err)
	require.Len(t, ops, 4)
	assert.Equal(t, "college-campus_east-start-0900", ops[0].ID)
	assert.Equal(t, 8, ops[0].Priority)
	assert.Equal(t, 6, ops[1].Priority)
	assert.Equal(t, model.DepartAfter, ops[1].Scenario)
	assert.Equal(t, 1, ops[2].Priority)
	assert.Equal(t, 1, ops[3].Priority, "priority clamps at 1")
	for _, op := range ops {
		assert.Empty(t, op.AffectedTrips)
		assert.Equal(t, model.ConnectionCollegeClass, op.Type)
	}
}

func TestCollegeOpportunitiesRejectBadTime(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GenerateCollegeOpportunities(nil, CollegeConfig{
		Name:    "x",
		Classes: []ClassSession{{Name: "bad", Start: "9am", End: "10:00", Priority: 5}},
	})
	assert.Error(t, err)
}

func TestSchoolOpportunitiesDefaultToWeekdays(t *testing.T) {
	svc := newTestService(t)
	ops, err := svc.GenerateSchoolOpportunities(stationSchedule(), SchoolConfig{
		Name:       "Maple PS",
		LocationID: "station",
		Bells: []Bell{
			{Name: "start", Time: "08:25", Priority: 12},
			{Name: "dismissal", Time: "15:10", Priority: 9, Dismissal: true, Days: []time.Weekday{time.Friday}},
		},
	})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, 10, ops[0].Priority)
	assert.Equal(t, model.Weekdays, ops[0].OperatingDays)
	assert.True(t, ops[0].OperatesOn(time.Monday))
	assert.False(t, ops[0].OperatesOn(time.Sunday))
	assert.Equal(t, "school-station-dismissal-1510", ops[1].ID)
	assert.False(t, ops[1].OperatesOn(time.Monday))
	assert.Equal(t, model.WindowMissed, ops[1].WindowType)
}

func TestGenerateAllDeduplicates(t *testing.T) {
	svc := newTestService(t)
	rail := RailConfig{LocationID: "station", Departures: []RailTrain{{Time: "08:30", Priority: 4}}}
	dup := RailConfig{LocationID: "station", Departures: []RailTrain{{Time: "08:30", Priority: 9}}}
	ops, err := svc.GenerateAll(stationSchedule(), DomainConfigs{Rail: []RailConfig{rail, dup}})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 9, ops[0].Priority)
}
