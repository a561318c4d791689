package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateScheduleOK(t *testing.T) {
	require.NoError(t, ValidateSchedule(testSchedule()))
}

func TestValidateScheduleErrors(t *testing.T) {
	s := testSchedule()
	s.ID = ""
	s.Trips[0].ArrivalTimes["zz"] = 1
	s.Trips = append(s.Trips, s.Trips[1].Clone())
	err := ValidateSchedule(s)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	msg := err.Error()
	assert.Contains(t, msg, "unknown timepoint zz")
	assert.Contains(t, msg, "duplicate trip 1")
	assert.True(t, strings.Contains(msg, "ID"), msg)
}

func TestValidateConnections(t *testing.T) {
	s := testSchedule()
	good := ConnectionOpportunity{ID: "c1", LocationID: "b", TargetTime: "08:20", Priority: 5}
	require.NoError(t, ValidateConnections(s, []ConnectionOpportunity{good}))

	bad := []ConnectionOpportunity{
		{ID: "c2", LocationID: "nowhere", TargetTime: "08:20", Priority: 5},
		{ID: "c3", LocationID: "b", TargetTime: "8h20", Priority: 5},
		{ID: "c4", LocationID: "b", TargetTime: "08:20", Priority: 11},
	}
	err := ValidateConnections(s, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown location nowhere")
	assert.Contains(t, err.Error(), "clock")
	assert.Contains(t, err.Error(), "max")
}

func TestDefaultConstraintsValid(t *testing.T) {
	c := DefaultConstraints()
	assert.Equal(t, 10.0, c.MaxTripDeviation)
	assert.Equal(t, 25, c.Performance.BatchSize)
	assert.Equal(t, 10000, c.Performance.CacheSize)
	assert.Equal(t, "exponential", c.HeadwayStrategy)
	require.NoError(t, ValidateConstraints(c))

	c.MaxRecoveryTime = -1
	assert.Error(t, ValidateConstraints(c))
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	c := OptimizationConstraints{MaxTripDeviation: 6, TypeWeights: map[string]float64{"rail": 9}}
	require.NoError(t, c.ApplyDefaults())
	assert.Equal(t, 6.0, c.MaxTripDeviation)
	assert.Equal(t, 30.0, c.MaxRecoveryTime)
	assert.Equal(t, 9.0, c.TypeWeights["rail"])
	assert.Equal(t, "greedy", c.AllocationStrategy)
}

func TestTypeWeightOrdering(t *testing.T) {
	c := DefaultConstraints()
	assert.Greater(t, c.TypeWeight(ConnectionSchoolBell), c.TypeWeight(ConnectionRail))
	assert.Greater(t, c.TypeWeight(ConnectionRail), c.TypeWeight(ConnectionBusRoute))
}
