package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/connopt/core/model"
)

func TestPrioritizeOrder(t *testing.T) {
	c := model.DefaultConstraints()
	c.TypeWeights = map[string]float64{"rail": 2}
	conns := []model.ConnectionOpportunity{
		{ID: "low", Type: model.ConnectionBusRoute, Priority: 2},
		{ID: "bus-wide", Type: model.ConnectionBusRoute, Priority: 8, AffectedTrips: []int{1, 2, 3}},
		{ID: "bus-narrow", Type: model.ConnectionBusRoute, Priority: 8, AffectedTrips: []int{1}},
		{ID: "rail", Type: model.ConnectionRail, Priority: 8, AffectedTrips: []int{1, 2, 3}},
		{ID: "top", Type: model.ConnectionSchoolBell, Priority: 10},
	}
	var got []string
	for _, cn := range prioritize(conns, c) {
		got = append(got, cn.ID)
	}
	assert.Equal(t, []string{"top", "rail", "bus-narrow", "bus-wide", "low"}, got)
}

func TestPrioritizeEmpty(t *testing.T) {
	assert.Empty(t, prioritize(nil, model.DefaultConstraints()))
}
