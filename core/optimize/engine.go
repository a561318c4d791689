// Package optimize searches for trip shifts that line a schedule up with its
// connection opportunities without breaking recovery, deviation, block or
// headway limits.
package optimize

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/connopt/core/events"
	"github.com/kilianp07/connopt/core/headway"
	"github.com/kilianp07/connopt/core/logger"
	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/recovery"
	"github.com/kilianp07/connopt/core/window"
	"github.com/kilianp07/connopt/internal/eventbus"
)

const (
	// maxCandidates bounds the trips tried for one connection.
	maxCandidates = 3
	eps           = 1e-9
)

// ProgressFunc receives progress notifications during a run.
type ProgressFunc func(events.ProgressEvent)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = logger.OrNop(l) }
}

// WithEventBus publishes progress, move and strategy events on bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithClock sets the time source used for budgets and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs connection optimizations. Runs on one engine are serialized;
// Cancel may be called from any goroutine.
type Engine struct {
	windows *window.Service
	log     logger.Logger
	bus     eventbus.EventBus
	now     func() time.Time

	mu        sync.Mutex
	cancelled atomic.Bool
}

// NewEngine returns an engine scoring with windows. A nil windows service
// uses the default window tables.
func NewEngine(windows *window.Service, opts ...Option) *Engine {
	e := &Engine{windows: windows, log: logger.Nop{}, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	if e.windows == nil {
		e.windows, _ = window.NewService(nil, e.log)
	}
	return e
}

// Cancel asks the running optimization to stop at the next batch boundary.
// The run returns the best committed state.
func (e *Engine) Cancel() { e.cancelled.Store(true) }

// Optimize aligns the schedule with the connections under the constraints.
// It never panics and never returns nil: malformed input and internal
// faults produce a failure result.
func (e *Engine) Optimize(ctx context.Context, sched *model.Schedule, conns []model.ConnectionOpportunity, c model.OptimizationConstraints, onProgress ProgressFunc) (res *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled.Store(false)

	runID := uuid.NewString()
	start := e.now()
	defaultsErr := c.ApplyDefaults()
	strategy := StrategyGreedy
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Errorf("optimization %s internal failure: %v", runID, rec)
			res = FailureResult(sched, conns, fmt.Sprintf("internal failure: %v", rec))
		}
		res.RunID = runID
		res.Statistics.DurationMs = e.now().Sub(start).Milliseconds()
		if res.Statistics.Strategy == "" {
			res.Statistics.Strategy = strategy
		}
		e.observe(sched, res)
	}()

	if defaultsErr != nil {
		e.log.Errorf("optimization %s: %v", runID, defaultsErr)
		return FailureResult(sched, conns, defaultsErr.Error())
	}
	if err := model.ValidateInput(sched, conns, c); err != nil {
		e.log.Warnf("optimization %s rejected: %v", runID, err)
		return FailureResult(sched, conns, err.Error())
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r := &run{
		e:          e,
		id:         runID,
		ctx:        ctx,
		c:          c,
		original:   sched,
		onProgress: onProgress,
		started:    start,
	}
	if err := r.initialize(conns); err != nil {
		e.log.Errorf("optimization %s initialization failed: %v", runID, err)
		return FailureResult(sched, conns, err.Error())
	}
	strategy = r.strategy
	r.prioritize()
	r.search()
	r.validate()
	return r.finalize()
}

func (e *Engine) observe(sched *model.Schedule, res *Result) {
	outcome := "success"
	switch {
	case !res.Success:
		outcome = "failure"
	case res.Interrupted != nil:
		outcome = "interrupted"
	}
	strategy := string(res.Statistics.Strategy)
	runsTotal.WithLabelValues(strategy, outcome).Inc()
	runDuration.WithLabelValues(strategy).Observe(float64(res.Statistics.DurationMs) / 1000)
	if sched != nil {
		finalScore.WithLabelValues(sched.ID).Set(res.Score)
	}
	for _, cr := range res.Connections {
		connectionsSeen.WithLabelValues(cr.Type.String(), string(cr.Status)).Inc()
	}
}

func (e *Engine) publish(ev any) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// run holds everything scoped to one Optimize call.
type run struct {
	e          *Engine
	id         string
	ctx        context.Context
	c          model.OptimizationConstraints
	original   *model.Schedule
	onProgress ProgressFunc
	started    time.Time

	strategy      Strategy
	conns         []model.ConnectionOpportunity
	byLocation    map[string][]int
	origTrips     map[int]*model.Trip
	trips         map[int]*model.Trip
	blockPrev     map[int]int
	blockNext     map[int]int
	lastTimepoint string
	target        float64

	state        *State
	scorer       *scorer
	departures   *memo[int, []*model.Trip]
	headways     *headway.Service
	initialScore float64
	results      map[string]*ConnectionResult
	processed    int
	corrections  []headway.Correction
	hwViolations []headway.Violation
	warnings     []string
	stats        Statistics
	interrupted  error
}

func (r *run) initialize(conns []model.ConnectionOpportunity) error {
	r.emit(PhaseInitializing, 0)
	perf := r.c.Performance
	r.scorer = newScorer(r.e.windows, perf.CacheSize)
	r.scorer.reset()
	r.departures = newMemo[int, []*model.Trip](perf.CacheSize)

	work := r.original.Clone()
	bank := recovery.NewBank(r.e.log)
	if err := bank.Initialize(work, r.c.StopOverrides, r.c); err != nil {
		return err
	}
	r.state = &State{
		Schedule:    work,
		Bank:        bank,
		Multipliers: make(map[string]float64, len(conns)),
		Locked:      make(map[int]bool),
	}

	r.origTrips = r.original.TripIndex()
	r.trips = work.TripIndex()
	r.blockPrev = make(map[int]int)
	r.blockNext = make(map[int]int)
	for _, block := range work.Blocks() {
		for i := 1; i < len(block); i++ {
			r.blockPrev[block[i].TripNumber] = block[i-1].TripNumber
			r.blockNext[block[i-1].TripNumber] = block[i].TripNumber
		}
	}
	if tps := model.SortedTimePoints(work.TimePoints); len(tps) > 1 {
		r.lastTimepoint = tps[len(tps)-1].ID
	}
	r.target = r.c.TargetHeadway
	if r.target <= 0 {
		r.target = headway.InferTargetHeadway(r.original)
	}
	strat, err := headway.StrategyByName(r.c.HeadwayStrategy)
	if err != nil {
		r.warn("%v; using exponential smoothing", err)
		strat = nil
	}
	r.headways = headway.NewService(strat, r.c.HeadwayWindow, r.e.log).CapCorrections(r.c.HeadwayCorrectionCap)

	r.conns = append([]model.ConnectionOpportunity(nil), conns...)
	r.strategy = StrategyGreedy
	if len(work.Trips) > perf.ProgressiveTripThreshold || len(conns) > perf.ProgressiveConnectionThreshold {
		r.strategy = StrategyProgressive
	}
	r.stats = Statistics{Strategy: r.strategy, Trips: len(work.Trips), Connections: len(conns)}
	r.results = make(map[string]*ConnectionResult, len(conns))
	for _, c := range r.conns {
		ev := r.scorer.evaluate(work, 0, c)
		r.state.Multipliers[c.ID] = ev.result.Multiplier
		status := StatusSkipped
		if ev.ok && ev.result.Classification == model.WindowIdeal {
			status = StatusAlreadyIdeal
		}
		r.results[c.ID] = &ConnectionResult{
			ConnectionID: c.ID,
			Type:         c.Type,
			Priority:     c.Priority,
			Status:       status,
			Before:       ev.result.Classification,
			After:        ev.result.Classification,
			TripNumber:   ev.trip,
		}
	}
	r.state.Score = weightedScore(r.conns, r.state.Multipliers)
	r.initialScore = r.state.Score
	r.e.log.Infow("optimization started", map[string]any{
		"run": r.id, "schedule": work.ID, "trips": len(work.Trips),
		"connections": len(conns), "strategy": string(r.strategy), "initial_score": r.initialScore,
	})
	return nil
}

func (r *run) prioritize() {
	r.emit(PhasePrioritizing, 5)
	r.conns = prioritize(r.conns, r.c)
	r.byLocation = make(map[string][]int)
	for i, c := range r.conns {
		r.byLocation[c.LocationID] = append(r.byLocation[c.LocationID], i)
	}
	action := "greedy"
	if r.strategy == StrategyProgressive {
		action = "progressive"
	}
	r.e.publish(events.StrategyEvent{RunID: r.id, Action: action})
}

func (r *run) batches() [][]model.ConnectionOpportunity {
	if r.strategy == StrategyGreedy {
		return [][]model.ConnectionOpportunity{r.conns}
	}
	size := r.c.Performance.BatchSize
	var out [][]model.ConnectionOpportunity
	for i := 0; i < len(r.conns); i += size {
		end := i + size
		if end > len(r.conns) {
			end = len(r.conns)
		}
		out = append(out, r.conns[i:end])
	}
	return out
}

func (r *run) search() {
	r.emit(PhaseSearching, 5)
	for bi, batch := range r.batches() {
		if bi > 0 {
			if r.shouldStop() {
				break
			}
			if !r.pause() {
				break
			}
		} else if r.stopRequested() {
			break
		}
		for _, c := range batch {
			if r.strategy == StrategyGreedy && r.budgetReached() {
				break
			}
			r.processConnection(c)
			r.processed++
		}
		r.stats.Batches++
		r.emit(PhaseSearching, 5+85*float64(r.processed)/math.Max(1, float64(len(r.conns))))
		if r.strategy == StrategyGreedy && (r.stats.TimedOut || r.stats.EarlyTerminated) {
			break
		}
	}
	for _, c := range r.conns {
		if cr := r.results[c.ID]; cr.Status == StatusSkipped && cr.Reason == "" {
			cr.Reason = "run stopped before this connection"
		}
	}
}

// stopRequested reports cancellation through Cancel or the context.
func (r *run) stopRequested() bool {
	if r.e.cancelled.Load() || r.ctx.Err() != nil {
		r.stats.Cancelled = true
		r.interrupted = ErrCancelled
		r.warn("%v after %d of %d connections", ErrCancelled, r.processed, len(r.conns))
		return true
	}
	return false
}

// budgetReached checks the soft time budget and early termination score.
func (r *run) budgetReached() bool {
	if r.state.Score >= r.c.EarlyTerminationScore {
		r.stats.EarlyTerminated = true
		return true
	}
	if r.e.now().Sub(r.started) > r.c.Performance.MaxDuration() {
		r.stats.TimedOut = true
		r.interrupted = ErrResourceExceeded
		r.warn("%v: time budget of %v reached", ErrResourceExceeded, r.c.Performance.MaxDuration())
		return true
	}
	return false
}

// shouldStop runs the checks made between batches.
func (r *run) shouldStop() bool {
	if r.stopRequested() || r.budgetReached() {
		return true
	}
	if mem := r.memoryEstimate(); mem > r.c.Performance.MaxMemoryMB {
		r.stats.MemoryExceeded = true
		r.interrupted = ErrResourceExceeded
		r.warn("%v: memory estimate %.1fMB above %.1fMB", ErrResourceExceeded, mem, r.c.Performance.MaxMemoryMB)
		return true
	}
	return false
}

// pause yields between batches. It returns false when the context ends
// during the pause.
func (r *run) pause() bool {
	d := time.Duration(r.c.Performance.BatchPauseMs) * time.Millisecond
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.ctx.Done():
		return !r.stopRequested()
	case <-t.C:
		return true
	}
}

// memoryEstimate is a deterministic approximation of the run footprint.
func (r *run) memoryEstimate() float64 {
	s := r.state.Schedule
	bytes := len(s.Trips)*len(s.TimePoints)*3*48 + len(s.Trips)*128 +
		len(r.conns)*256 + r.scorer.size()*96 + r.departures.len()*64*len(s.Trips) +
		(len(r.state.AppliedMoves)+len(r.state.RejectedMoves))*512
	return float64(bytes) / (1 << 20)
}

type tripOption struct {
	trip   *model.Trip
	result window.Result
}

func (r *run) processConnection(c model.ConnectionOpportunity) {
	cr := r.results[c.ID]
	cur := r.scorer.evaluate(r.state.Schedule, r.state.Revision, c)
	cr.Before = cur.result.Classification
	cr.After = cur.result.Classification
	cr.TripNumber = cur.trip
	switch {
	case !cur.ok:
		cr.Status, cr.Reason = StatusFailed, "no trip serves "+c.LocationID
		return
	case cur.result.Classification == model.WindowIdeal:
		cr.Status = StatusAlreadyIdeal
		return
	}

	options := r.candidates(c)
	if len(options) == 0 {
		cr.Status, cr.Reason = StatusFailed, "no candidate trip"
		return
	}
	var last Move
	for _, opt := range options {
		mv, ok := r.tryAlign(c, opt, cur.result.Classification)
		if ok {
			cr.Status = StatusImproved
			cr.After = mv.Detail.(ConnectionAlignDetail).After
			cr.TripNumber = opt.trip.TripNumber
			cr.Shift = mv.TimeAdjustment
			cr.Reason = ""
			return
		}
		last = mv
	}
	cr.Status = StatusFailed
	cr.Reason = rejectionReason(last)
}

func rejectionReason(m Move) string {
	if len(m.ConstraintViolations) > 0 {
		return m.ConstraintViolations[0].Message
	}
	return m.Reason
}

// candidates returns the trips that could be shifted for the connection,
// smallest adjustment first.
func (r *run) candidates(c model.ConnectionOpportunity) []tripOption {
	target, ok := r.scorer.target(c)
	if !ok {
		return nil
	}
	pool := r.state.Schedule.Trips
	if len(c.AffectedTrips) > 0 {
		var sub []*model.Trip
		for _, n := range c.AffectedTrips {
			if t, ok := r.trips[n]; ok && t.Serves(c.LocationID) {
				sub = append(sub, t)
			}
		}
		if len(sub) > 0 {
			pool = sub
		}
	}
	var out []tripOption
	for _, t := range pool {
		bus, ok := c.BusTime(t)
		if !ok {
			continue
		}
		res := r.e.windows.CalculateConnectionWindow(bus, target, c.Type, c.Scenario, c.Priority)
		if res.Classification == model.WindowIdeal || res.RecommendedAdjustment == 0 {
			continue
		}
		out = append(out, tripOption{trip: t, result: res})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].result.RecommendedAdjustment), math.Abs(out[j].result.RecommendedAdjustment)
		if ai != aj {
			return ai < aj
		}
		return out[i].trip.TripNumber < out[j].trip.TripNumber
	})
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}

// tryAlign trials a whole-trip shift on a copy of the trip, funds it from
// the recovery bank and commits it only when it is violation free and
// raises the score. Rejected trials leave the state untouched.
func (r *run) tryAlign(c model.ConnectionOpportunity, opt tripOption, before model.WindowType) (Move, bool) {
	adj := opt.result.RecommendedAdjustment
	tripNum := opt.trip.TripNumber
	mv := Move{
		ID:               uuid.NewString(),
		Kind:             MoveConnectionAlign,
		TargetConnection: c.ID,
		TimeAdjustment:   adj,
		AffectedTrips:    []int{tripNum},
	}
	detail := ConnectionAlignDetail{
		ConnectionID: c.ID,
		TripNumber:   tripNum,
		Before:       before,
		After:        before,
		Shift:        TimeShiftDetail{TripNumber: tripNum, Delta: adj},
	}
	r.stats.MovesEvaluated++

	if math.Abs(adj) > r.c.MaxTripDeviation+eps {
		mv.ConstraintViolations = []Violation{{
			Kind: ViolationDeviation, TripNumber: tripNum,
			Message: fmt.Sprintf("adjustment %.1f exceeds max trip deviation %.1f", adj, r.c.MaxTripDeviation),
		}}
		return r.reject(mv, detail), false
	}

	trial := opt.trip.Clone()
	trial.Shift(adj)
	if v := r.structuralViolations(trial); len(v) > 0 {
		mv.ConstraintViolations = v
		return r.reject(mv, detail), false
	}

	mults, after := r.projectedMultipliers(trial, c.ID)
	newScore := r.projectedScore(mults)
	mv.ScoreImprovement = newScore - r.state.Score
	detail.After = after
	if mv.ScoreImprovement <= eps {
		mv.Reason = "no score improvement"
		return r.reject(mv, detail), false
	}

	txs, v := r.fund(c, mv.ID, math.Abs(adj), tripNum)
	if len(v) == 0 {
		pre := trial.Clone()
		for _, tx := range txs {
			applyTransfer(trial, tx)
			detail.Transfers = append(detail.Transfers, RecoveryTransferDetail{
				TripNumber: tripNum, LenderStopID: tx.LenderStopID, BorrowerStopID: tx.BorrowerStopID, Amount: tx.Amount,
			})
		}
		v = r.recoveryViolations(pre, trial)
	}
	if len(v) > 0 {
		for i := len(txs) - 1; i >= 0; i-- {
			_ = r.state.Bank.RollbackTransaction(txs[i].ID)
		}
		mv.ConstraintViolations = v
		detail.Transfers = nil
		return r.reject(mv, detail), false
	}

	mv.RequiredTransactions = txs
	mv.Detail = detail
	r.commit(trial, mults, newScore)
	r.state.Locked[tripNum] = true
	r.state.AppliedMoves = append(r.state.AppliedMoves, mv)
	r.stats.MovesApplied++
	movesTotal.WithLabelValues(string(mv.Kind), "applied").Inc()
	r.e.publish(events.MoveEvent{RunID: r.id, MoveID: mv.ID, Kind: string(mv.Kind), ConnectionID: c.ID, Accepted: true, ScoreImprovement: mv.ScoreImprovement})
	r.e.log.Debugw("move applied", map[string]any{
		"run": r.id, "connection": c.ID, "trip": tripNum, "shift": adj, "score": newScore,
	})
	return mv, true
}

func (r *run) reject(mv Move, detail MoveDetail) Move {
	mv.Detail = detail
	r.state.RejectedMoves = append(r.state.RejectedMoves, mv)
	r.stats.MovesRejected++
	movesTotal.WithLabelValues(string(mv.Kind), "rejected").Inc()
	r.e.publish(events.MoveEvent{RunID: r.id, MoveID: mv.ID, Kind: string(mv.Kind), ConnectionID: mv.TargetConnection, Reason: rejectionReason(mv)})
	return mv
}

// commit replaces the trip in the working schedule.
func (r *run) commit(trial *model.Trip, mults map[string]float64, score float64) {
	r.state.Schedule.Replace(trial)
	r.trips[trial.TripNumber] = trial
	for id, m := range mults {
		r.state.Multipliers[id] = m
	}
	r.state.Score = score
	r.state.Revision++
}

// fund borrows amount minutes at the connection stop for the trip.
func (r *run) fund(c model.ConnectionOpportunity, moveID string, amount float64, trip int) ([]recovery.Transaction, []Violation) {
	req := []recovery.Request{{
		ID:             moveID,
		BorrowerStopID: c.LocationID,
		Amount:         amount,
		Priority:       c.Priority,
		AffectedTrips:  []int{trip},
	}}
	var alloc recovery.AllocationResult
	if r.c.AllocationStrategy == "lp" {
		alloc = r.state.Bank.FindOptimalAllocationLP(req)
	} else {
		alloc = r.state.Bank.FindOptimalAllocation(req)
	}
	if len(alloc.Unmet) > 0 {
		return nil, []Violation{{
			Kind: ViolationFunding, TripNumber: trip,
			Message: fmt.Sprintf("recovery funding of %.1f at %s failed: %s", amount, c.LocationID, alloc.Unmet[0].Reason),
		}}
	}
	var txs []recovery.Transaction
	for _, a := range alloc.Allocations {
		txs = append(txs, a.Transactions...)
	}
	return txs, nil
}

// applyTransfer moves the loaned recovery on the trip from lender to
// borrower. The lender only gives up time it holds on this trip.
func applyTransfer(t *model.Trip, tx recovery.Transaction) {
	if t.RecoveryTimes == nil {
		t.RecoveryTimes = make(map[string]float64)
	}
	t.RecoveryTimes[tx.BorrowerStopID] += tx.Amount
	if v, ok := t.RecoveryTimes[tx.LenderStopID]; ok && v > 0 {
		t.RecoveryTimes[tx.LenderStopID] = v - math.Min(v, tx.Amount)
	}
}

// projectedMultipliers evaluates the connections at the stops the trial
// trip serves as if it replaced the committed trip.
func (r *run) projectedMultipliers(trial *model.Trip, focus string) (map[string]float64, model.WindowType) {
	sched := r.state.Schedule
	idx := -1
	for i, t := range sched.Trips {
		if t.TripNumber == trial.TripNumber {
			idx = i
			break
		}
	}
	prev := sched.Trips[idx]
	sched.Trips[idx] = trial
	defer func() { sched.Trips[idx] = prev }()

	out := make(map[string]float64)
	after := model.WindowMissed
	seen := make(map[string]bool)
	for _, tps := range [][]map[string]model.Clock{{prev.ArrivalTimes, prev.DepartureTimes}, {trial.ArrivalTimes, trial.DepartureTimes}} {
		for _, m := range tps {
			for loc := range m {
				if seen[loc] {
					continue
				}
				seen[loc] = true
				for _, ci := range r.byLocation[loc] {
					c := r.conns[ci]
					ev := r.scorer.evaluateFresh(sched, c)
					out[c.ID] = ev.result.Multiplier
					if c.ID == focus {
						after = ev.result.Classification
					}
				}
			}
		}
	}
	return out, after
}

func (r *run) projectedScore(changed map[string]float64) float64 {
	var num, den float64
	for _, c := range r.conns {
		m, ok := changed[c.ID]
		if !ok {
			m = r.state.Multipliers[c.ID]
		}
		num += float64(c.Priority) * m
		den += float64(c.Priority)
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// maxDeviation is the largest difference between any time of the trip and
// the same time in the input schedule.
func maxDeviation(orig, t *model.Trip) float64 {
	if orig == nil {
		return 0
	}
	d := math.Abs(float64(t.DepartureTime - orig.DepartureTime))
	for id, v := range t.ArrivalTimes {
		if o, ok := orig.ArrivalTimes[id]; ok {
			d = math.Max(d, math.Abs(float64(v-o)))
		}
	}
	for id, v := range t.DepartureTimes {
		if o, ok := orig.DepartureTimes[id]; ok {
			d = math.Max(d, math.Abs(float64(v-o)))
		}
	}
	return d
}

// structuralViolations checks deviation, block order and headway limits of
// a trial trip against the committed schedule.
func (r *run) structuralViolations(trial *model.Trip) []Violation {
	var out []Violation
	n := trial.TripNumber
	if d := maxDeviation(r.origTrips[n], trial); d > r.c.MaxTripDeviation+eps {
		out = append(out, Violation{Kind: ViolationDeviation, TripNumber: n,
			Message: fmt.Sprintf("trip %d would deviate %.1f minutes, max %.1f", n, d, r.c.MaxTripDeviation)})
	}
	if p, ok := r.blockPrev[n]; ok && r.trips[p].DepartureTime > trial.DepartureTime+eps {
		out = append(out, Violation{Kind: ViolationBlockOrder, TripNumber: n,
			Message: fmt.Sprintf("trip %d would depart before trip %d of block %d", n, p, trial.BlockNumber)})
	}
	if nx, ok := r.blockNext[n]; ok && r.trips[nx].DepartureTime+eps < trial.DepartureTime {
		out = append(out, Violation{Kind: ViolationBlockOrder, TripNumber: n,
			Message: fmt.Sprintf("trip %d would depart after trip %d of block %d", n, nx, trial.BlockNumber)})
	}
	if v, ok := r.headwayViolation(trial); ok {
		out = append(out, v)
	}
	return out
}

// routeOrder returns the committed trips by departure, cached per revision.
func (r *run) routeOrder() []*model.Trip {
	if v, ok := r.departures.get(r.state.Revision); ok {
		return v
	}
	v := r.state.Schedule.SortedByDeparture()
	r.departures.put(r.state.Revision, v)
	return v
}

// neighbourHeadways returns the headways to the trips departing just
// before and after at, ignoring the trip itself.
func neighbourHeadways(order []*model.Trip, skip int, at model.Clock) []float64 {
	var prev, next *model.Trip
	for _, t := range order {
		if t.TripNumber == skip {
			continue
		}
		if t.DepartureTime <= at {
			prev = t
		} else if next == nil {
			next = t
		}
	}
	var out []float64
	if prev != nil {
		out = append(out, float64(at-prev.DepartureTime))
	}
	if next != nil {
		out = append(out, float64(next.DepartureTime-at))
	}
	return out
}

// headwayViolation flags a shift that pushes an adjacent headway outside
// tolerance or under the minimum, unless it was already at least as bad.
func (r *run) headwayViolation(trial *model.Trip) (Violation, bool) {
	if r.target <= 0 {
		return Violation{}, false
	}
	order := r.routeOrder()
	before := neighbourHeadways(order, trial.TripNumber, r.trips[trial.TripNumber].DepartureTime)
	after := neighbourHeadways(order, trial.TripNumber, trial.DepartureTime)
	worst := func(hs []float64) (dev, lo float64) {
		lo = math.Inf(1)
		for _, h := range hs {
			dev = math.Max(dev, math.Abs(h-r.target))
			lo = math.Min(lo, h)
		}
		return dev, lo
	}
	devBefore, minBefore := worst(before)
	devAfter, minAfter := worst(after)
	if devAfter > r.c.HeadwayTolerance+eps && devAfter > devBefore+eps {
		return Violation{Kind: ViolationHeadway, TripNumber: trial.TripNumber,
			Message: fmt.Sprintf("headway off target by %.1f minutes, tolerance %.1f", devAfter, r.c.HeadwayTolerance)}, true
	}
	if minAfter < r.c.MinHeadway-eps && minAfter < minBefore-eps {
		return Violation{Kind: ViolationHeadway, TripNumber: trial.TripNumber,
			Message: fmt.Sprintf("headway %.1f below minimum %.1f", minAfter, r.c.MinHeadway)}, true
	}
	return Violation{}, false
}

// recoveryViolations checks the recovery values changed by funding against
// the account bounds of each stop.
func (r *run) recoveryViolations(pre, post *model.Trip) []Violation {
	var out []Violation
	for stop, v := range post.RecoveryTimes {
		old := pre.RecoveryTimes[stop]
		if v == old {
			continue
		}
		acc, ok := r.state.Bank.Account(stop)
		if !ok {
			continue
		}
		if v > old && v > acc.MaxRecoveryTime+eps {
			out = append(out, Violation{Kind: ViolationRecoveryBounds, TripNumber: post.TripNumber,
				Message: fmt.Sprintf("recovery at %s would be %.1f, max %.1f", stop, v, acc.MaxRecoveryTime)})
		}
		if v < old && v < acc.MinRecoveryTime-eps {
			out = append(out, Violation{Kind: ViolationRecoveryBounds, TripNumber: post.TripNumber,
				Message: fmt.Sprintf("recovery at %s would be %.1f, min %.1f", stop, v, acc.MinRecoveryTime)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Message < out[j].Message })
	return out
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.warnings = append(r.warnings, msg)
	r.e.log.Warnw("optimization warning", map[string]any{"run": r.id, "warning": msg})
}

func (r *run) emit(phase Phase, progress float64) {
	elapsed := r.e.now().Sub(r.started)
	var remaining time.Duration
	if r.processed > 0 && r.processed < len(r.conns) {
		remaining = time.Duration(float64(elapsed) / float64(r.processed) * float64(len(r.conns)-r.processed))
	}
	score := 0.0
	if r.state != nil {
		score = r.state.Score
	}
	ev := events.ProgressEvent{
		RunID:              r.id,
		ScheduleID:         r.original.ID,
		Phase:              string(phase),
		Progress:           math.Min(100, progress),
		CurrentScore:       score,
		BestScore:          score,
		EstimatedRemaining: remaining,
	}
	if r.scorer != nil && r.state != nil {
		ev.MemoryEstimateMB = r.memoryEstimate()
	}
	if r.onProgress != nil {
		r.onProgress(ev)
	}
	r.e.publish(ev)
}
