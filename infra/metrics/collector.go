package metrics

import (
	"context"

	"github.com/kilianp07/connopt/core/events"
	coremetrics "github.com/kilianp07/connopt/core/metrics"
	"github.com/kilianp07/connopt/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards engine events
// to the sink recorders. It stops when the context is canceled or the bus is
// closed. The returned channel is closed once the collector has drained.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	sub := bus.Subscribe()
	progress, _ := sink.(coremetrics.ProgressRecorder)
	moves, _ := sink.(coremetrics.MoveRecorder)
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				switch e := ev.(type) {
				case events.ProgressEvent:
					if progress != nil {
						_ = progress.RecordProgress(e)
					}
				case events.MoveEvent:
					if moves != nil {
						_ = moves.RecordMove(e)
					}
				}
			}
		}
	}()
	return done
}
