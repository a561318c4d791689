package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/connopt/core/events"
	"github.com/kilianp07/connopt/internal/eventbus"
)

func TestEventCollectorForwardsEngineEvents(t *testing.T) {
	sink, err := NewPromSinkWithRegistry(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	bus := eventbus.New(eventbus.WithBuffer(16))
	done := StartEventCollector(context.Background(), bus, sink)

	bus.Publish(events.ProgressEvent{ScheduleID: "s1", Phase: "searching", Progress: 50})
	bus.Publish(events.MoveEvent{Kind: "connection_align", Accepted: false})
	bus.Publish(events.StrategyEvent{Action: "greedy"})
	bus.Close()
	<-done

	if v := testutil.ToFloat64(sink.progress.WithLabelValues("s1", "searching")); v != 50 {
		t.Fatalf("progress gauge %v", v)
	}
	if v := testutil.ToFloat64(sink.moves.WithLabelValues("connection_align", "false")); v != 1 {
		t.Fatalf("move counter %v", v)
	}
}

func TestEventCollectorNilInputs(t *testing.T) {
	done := StartEventCollector(context.Background(), nil, nil)
	<-done
}
