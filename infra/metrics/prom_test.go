package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/connopt/core/events"
	coremetrics "github.com/kilianp07/connopt/core/metrics"
)

func TestPromSinkRecordOptimizationRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	run := coremetrics.RunSummary{
		ScheduleID: "route-26", Strategy: "greedy", Termination: "completed",
		Success: true, InitialScore: 0.6, Score: 0.9, UtilizationRate: 0.25,
	}
	if err := sink.RecordOptimizationRun(run); err != nil {
		t.Fatalf("record: %v", err)
	}

	expected := `
# HELP connopt_service_runs_total Optimization runs recorded by the service
# TYPE connopt_service_runs_total counter
connopt_service_runs_total{schedule="route-26",success="true",termination="completed"} 1
`
	if err := testutil.CollectAndCompare(sink.runs, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if v := testutil.ToFloat64(sink.score.WithLabelValues("route-26", "final")); v != 0.9 {
		t.Fatalf("final score gauge %v", v)
	}
	if v := testutil.ToFloat64(sink.utilization.WithLabelValues("route-26")); v != 0.25 {
		t.Fatalf("utilization gauge %v", v)
	}
	if c := testutil.CollectAndCount(sink.improvement); c != 1 {
		t.Fatalf("improvement not observed")
	}
}

func TestPromSinkReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	_ = a.RecordMove(events.MoveEvent{Kind: "connection_align", Accepted: true})
	_ = b.RecordMove(events.MoveEvent{Kind: "connection_align", Accepted: true})
	if v := testutil.ToFloat64(a.moves.WithLabelValues("connection_align", "true")); v != 2 {
		t.Fatalf("expected shared counter at 2, got %v", v)
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	_ = sink.RecordProgress(events.ProgressEvent{ScheduleID: "route-26", Phase: "searching", Progress: 40})
	path := filepath.Join(t.TempDir(), "connopt.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `connopt_service_run_progress_percent{phase="searching",schedule="route-26"} 40`) {
		t.Fatalf("progress missing from textfile:\n%s", data)
	}
}
