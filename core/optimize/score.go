package optimize

import (
	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/window"
)

type evalKey struct {
	revision int
	conn     string
}

type evaluation struct {
	result window.Result
	trip   int
	ok     bool
}

// scorer evaluates connections against a schedule and memoises the results
// of the committed revision.
type scorer struct {
	windows *window.Service
	targets *memo[string, model.Clock]
	evals   *memo[evalKey, evaluation]
}

func newScorer(w *window.Service, cacheSize int) *scorer {
	return &scorer{
		windows: w,
		targets: newMemo[string, model.Clock](cacheSize),
		evals:   newMemo[evalKey, evaluation](cacheSize),
	}
}

func (s *scorer) reset() {
	s.targets.clear()
	s.evals.clear()
}

func (s *scorer) target(c model.ConnectionOpportunity) (model.Clock, bool) {
	key := c.ID + "@" + c.TargetTime
	if v, ok := s.targets.get(key); ok {
		return v, true
	}
	t, err := c.EffectiveTarget()
	if err != nil {
		return 0, false
	}
	s.targets.put(key, t)
	return t, true
}

// evaluate classifies the connection on the committed schedule revision.
func (s *scorer) evaluate(sched *model.Schedule, revision int, c model.ConnectionOpportunity) evaluation {
	key := evalKey{revision: revision, conn: c.ID}
	if v, ok := s.evals.get(key); ok {
		return v
	}
	v := s.evaluateFresh(sched, c)
	s.evals.put(key, v)
	return v
}

// evaluateFresh classifies the connection without touching the cache.
func (s *scorer) evaluateFresh(sched *model.Schedule, c model.ConnectionOpportunity) evaluation {
	target, ok := s.target(c)
	if !ok {
		return evaluation{result: window.Result{Classification: model.WindowMissed}}
	}
	trip, bus, ok := window.ClosestTrip(sched.Trips, c, target)
	if !ok {
		return evaluation{result: window.Result{Classification: model.WindowMissed}}
	}
	return evaluation{
		result: s.windows.CalculateConnectionWindow(bus, target, c.Type, c.Scenario, c.Priority),
		trip:   trip.TripNumber,
		ok:     true,
	}
}

func (s *scorer) hits() int   { return s.targets.hits + s.evals.hits }
func (s *scorer) misses() int { return s.targets.misses + s.evals.misses }
func (s *scorer) size() int   { return s.targets.len() + s.evals.len() }

// weightedScore is the priority weighted mean of the multipliers.
func weightedScore(conns []model.ConnectionOpportunity, mults map[string]float64) float64 {
	var num, den float64
	for _, c := range conns {
		p := float64(c.Priority)
		num += p * mults[c.ID]
		den += p
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// CalculateScore returns the priority weighted mean of the window
// multipliers of every connection against the schedule.
func CalculateScore(w *window.Service, sched *model.Schedule, conns []model.ConnectionOpportunity) float64 {
	mults := make(map[string]float64, len(conns))
	for _, c := range conns {
		res, _, ok := w.Evaluate(sched, c)
		if ok {
			mults[c.ID] = res.Multiplier
		}
	}
	return weightedScore(conns, mults)
}
