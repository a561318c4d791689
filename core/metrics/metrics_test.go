package metrics

import (
	"testing"
	"time"

	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/optimize"
)

func TestSummarizeFailure(t *testing.T) {
	conns := []model.ConnectionOpportunity{{ID: "c1", Priority: 5}, {ID: "c2", Priority: 3}}
	res := optimize.FailureResult(nil, conns, "bad input")
	res.RunID = "run-1"
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	s := Summarize("route-26", res, at)
	if s.Success || s.Score != 0 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.RunID != "run-1" || s.ScheduleID != "route-26" || !s.Time.Equal(at) {
		t.Fatalf("identity fields not copied: %+v", s)
	}
	if s.Failed != 2 || s.Connections != 2 || s.Termination != string(optimize.TerminationFailed) {
		t.Fatalf("unexpected counts %+v", s)
	}
}
