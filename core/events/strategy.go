package events

// StrategyEvent is emitted when the engine picks its search strategy.
// Action is "greedy" or "progressive".
type StrategyEvent struct {
	RunID  string
	Action string
	Err    error
}
