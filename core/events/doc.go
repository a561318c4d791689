// Package events defines the optimizer events emitted on the event bus.
//
// Available event types:
//   - ProgressEvent: phase and score progress of a run
//   - MoveEvent: a candidate move accepted or rejected
//   - StrategyEvent: search and allocation strategy selection
package events
