package window

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/connopt/core/model"
)

func TestAnalyzeAllConnectionsFlagsWeakTypes(t *testing.T) {
	svc := newTestService(t)
	reqs := []model.ConnectionOpportunity{
		// trip 2 arrives 08:12, 13 minutes early: ideal rail.
		{ID: "r1", Type: model.ConnectionRail, LocationID: "station", TargetTime: "08:25", Priority: 10, AffectedTrips: []int{2}},
		// Nothing within 25 minutes of 10:00 at the station.
		{ID: "s1", Type: model.ConnectionSchoolBell, LocationID: "station", TargetTime: "10:00", Priority: 6},
		{ID: "s2", Type: model.ConnectionSchoolBell, LocationID: "station", TargetTime: "08:10", Priority: 6},
	}
	a := svc.AnalyzeAllConnections(stationSchedule(), reqs)

	assert.Equal(t, 3, a.Total)
	assert.Equal(t, 2, a.Successful)
	assert.InDelta(t, 2.0/3.0, a.SuccessRate, 1e-9)
	assert.Len(t, a.Outcomes, 3)

	rail := a.ByType[model.ConnectionRail]
	if rail == nil || rail.Ideal != 1 || rail.Flagged {
		t.Fatalf("unexpected rail breakdown %+v", rail)
	}
	school := a.ByType[model.ConnectionSchoolBell]
	if school == nil || school.Missed != 1 || !school.Flagged {
		t.Fatalf("unexpected school breakdown %+v", school)
	}
	assert.Len(t, a.Recommendations, 1)
}

func TestAnalyzeEmpty(t *testing.T) {
	a := newTestService(t).AnalyzeAllConnections(stationSchedule(), nil)
	assert.Zero(t, a.Total)
	assert.Zero(t, a.SuccessRate)
	assert.Empty(t, a.Recommendations)
}
