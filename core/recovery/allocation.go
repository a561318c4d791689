package recovery

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Unmet reasons reported by the allocators.
const (
	ReasonSelfLending        = "self-lending"
	ReasonInsufficientCredit = "insufficient credit"
	ReasonNoEligibleLender   = "no eligible lender"
)

// Request asks for recovery time at a borrower stop. LenderStopID is
// optional; when empty the allocator picks the lender.
type Request struct {
	ID             string  `json:"id"`
	BorrowerStopID string  `json:"borrower_stop_id"`
	LenderStopID   string  `json:"lender_stop_id,omitempty"`
	Amount         float64 `json:"amount"`
	Priority       int     `json:"priority"`
	AffectedTrips  []int   `json:"affected_trips,omitempty"`
}

// Allocation is a funded request. LP allocations may split one request
// across several lenders.
type Allocation struct {
	RequestID    string        `json:"request_id"`
	Transactions []Transaction `json:"transactions"`
}

// UnmetRequest is a request that could not be funded.
type UnmetRequest struct {
	Request Request `json:"request"`
	Reason  string  `json:"reason"`
}

// AllocationResult is the outcome of a multi-request allocation.
type AllocationResult struct {
	Allocations []Allocation   `json:"allocations"`
	Unmet       []UnmetRequest `json:"unmet"`
	// TotalScore is the sum of amount x priority x lender flexibility.
	TotalScore float64 `json:"total_score"`
}

func sortRequests(reqs []Request) []Request {
	out := append([]Request(nil), reqs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// FindOptimalAllocation funds requests greedily by priority. A request
// without a lender borrows from the most flexible stop that can cover it.
func (b *Bank) FindOptimalAllocation(requests []Request) AllocationResult {
	var res AllocationResult
	if !b.initialized {
		for _, r := range requests {
			res.Unmet = append(res.Unmet, UnmetRequest{Request: r, Reason: ErrBankNotInitialized.Error()})
		}
		return res
	}
	for _, r := range sortRequests(requests) {
		b.allocateGreedy(r, &res)
	}
	return res
}

func (b *Bank) allocateGreedy(r Request, res *AllocationResult) {
	if r.LenderStopID != "" {
		if r.LenderStopID == r.BorrowerStopID {
			res.Unmet = append(res.Unmet, UnmetRequest{Request: r, Reason: ReasonSelfLending})
			return
		}
		tx, err := b.transfer(r.LenderStopID, r.BorrowerStopID, r.Amount, r.AffectedTrips, TransactionAllocation)
		if err != nil {
			res.Unmet = append(res.Unmet, UnmetRequest{Request: r, Reason: reasonFor(err)})
			return
		}
		b.record(r, []Transaction{tx}, res)
		return
	}

	var lastErr error
	for _, l := range b.lendersFor(r.BorrowerStopID) {
		if l.Lendable()+epsilon < r.Amount {
			continue
		}
		tx, err := b.transfer(l.StopID, r.BorrowerStopID, r.Amount, r.AffectedTrips, TransactionAllocation)
		if err != nil {
			lastErr = err
			continue
		}
		b.record(r, []Transaction{tx}, res)
		return
	}
	reason := ReasonNoEligibleLender
	switch {
	case lastErr != nil:
		reason = reasonFor(lastErr)
	case b.systemLendable(r.BorrowerStopID)+epsilon < r.Amount:
		reason = ReasonInsufficientCredit
	}
	res.Unmet = append(res.Unmet, UnmetRequest{Request: r, Reason: reason})
}

func (b *Bank) record(r Request, txs []Transaction, res *AllocationResult) {
	for _, tx := range txs {
		res.TotalScore += tx.Score * float64(r.Priority)
	}
	res.Allocations = append(res.Allocations, Allocation{RequestID: r.ID, Transactions: txs})
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrSelfLending):
		return ReasonSelfLending
	case errors.Is(err, ErrInsufficientCredit):
		return ReasonInsufficientCredit
	default:
		return err.Error()
	}
}

// lendersFor returns every account except the borrower, most flexible first.
func (b *Bank) lendersFor(borrowerID string) []*Account {
	out := make([]*Account, 0, len(b.accounts))
	for _, id := range b.order {
		if id != borrowerID {
			out = append(out, b.accounts[id])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FlexibilityScore != out[j].FlexibilityScore {
			return out[i].FlexibilityScore > out[j].FlexibilityScore
		}
		return out[i].StopID < out[j].StopID
	})
	return out
}

func (b *Bank) systemLendable(borrowerID string) float64 {
	var sum float64
	for id, a := range b.accounts {
		if id != borrowerID {
			sum += a.Lendable()
		}
	}
	return sum
}

type lpVar struct {
	req    int
	lender string
}

// solveAllocation maximises the weighted loans subject to g x <= h and
// x >= 0. The caller includes the non-negativity rows in g.
func solveAllocation(obj []float64, g *mat.Dense, h []float64) ([]float64, error) {
	c := make([]float64, len(obj))
	for i, v := range obj {
		c[i] = -v
	}
	cStd, aStd, bStd := lp.Convert(c, g, h, nil, nil)
	_, sol, err := lp.Simplex(cStd, aStd, bStd, 1e-9, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInfeasible, err)
	}
	// Convert splits every variable into positive and negative parts.
	n := len(obj)
	x := make([]float64, n)
	for i := range x {
		x[i] = sol[i] - sol[n+i]
	}
	return x, nil
}

// lpSolve can be replaced in tests to simulate solver failures.
var lpSolve = solveAllocation

// FindOptimalAllocationLP solves the allocation as a linear program that
// maximises amount x priority x lender flexibility across every request at
// once. Requests the program cannot fully fund are retried greedily. When the
// solver fails the greedy allocator is used instead.
func (b *Bank) FindOptimalAllocationLP(requests []Request) AllocationResult {
	if !b.initialized {
		return b.FindOptimalAllocation(requests)
	}
	reqs := sortRequests(requests)
	var (
		res     AllocationResult
		vars    []lpVar
		pending []int
	)
	for i, r := range reqs {
		switch {
		case r.LenderStopID != "" && r.LenderStopID == r.BorrowerStopID:
			res.Unmet = append(res.Unmet, UnmetRequest{Request: r, Reason: ReasonSelfLending})
			continue
		case r.Amount > b.constraints.MaxTripDeviation+epsilon:
			res.Unmet = append(res.Unmet, UnmetRequest{Request: r, Reason: ErrExceedsMaxDeviation.Error()})
			continue
		}
		pending = append(pending, i)
		for _, id := range b.order {
			if id == r.BorrowerStopID || (r.LenderStopID != "" && id != r.LenderStopID) {
				continue
			}
			vars = append(vars, lpVar{req: i, lender: id})
		}
	}
	if len(vars) == 0 {
		for _, i := range pending {
			b.allocateGreedy(reqs[i], &res)
		}
		return res
	}

	x, err := b.solve(reqs, vars)
	if err != nil {
		b.log.Warnf("allocation lp failed, falling back to greedy: %v", err)
		for _, i := range pending {
			b.allocateGreedy(reqs[i], &res)
		}
		return res
	}

	funded := make(map[int][]int)
	for v, amt := range x {
		if amt > 1e-6 {
			funded[vars[v].req] = append(funded[vars[v].req], v)
		}
	}
	var retry []int
	for _, i := range pending {
		r := reqs[i]
		var sum float64
		for _, v := range funded[i] {
			sum += x[v]
		}
		if sum+1e-6 < r.Amount {
			retry = append(retry, i)
			continue
		}
		var txs []Transaction
		ok := true
		remaining := r.Amount
		for _, v := range funded[i] {
			amt := x[v]
			if amt > remaining {
				amt = remaining
			}
			if amt <= 1e-6 {
				continue
			}
			tx, err := b.transfer(vars[v].lender, r.BorrowerStopID, amt, r.AffectedTrips, TransactionAllocation)
			if err != nil {
				ok = false
				break
			}
			remaining -= amt
			txs = append(txs, tx)
		}
		if !ok {
			for j := len(txs) - 1; j >= 0; j-- {
				_ = b.RollbackTransaction(txs[j].ID)
			}
			retry = append(retry, i)
			continue
		}
		b.record(r, txs, &res)
	}
	for _, i := range retry {
		b.allocateGreedy(reqs[i], &res)
	}
	return res
}

func (b *Bank) solve(reqs []Request, vars []lpVar) ([]float64, error) {
	n := len(vars)
	obj := make([]float64, n)
	for v, lv := range vars {
		obj[v] = float64(reqs[lv.req].Priority) * b.accounts[lv.lender].FlexibilityScore
	}

	var (
		rows [][]float64
		h    []float64
	)
	addRow := func(limit float64, match func(lpVar) bool) {
		row := make([]float64, n)
		used := false
		for v, lv := range vars {
			if match(lv) {
				row[v] = 1
				used = true
			}
		}
		if used {
			rows = append(rows, row)
			h = append(h, limit)
		}
	}
	for i, r := range reqs {
		addRow(r.Amount, func(lv lpVar) bool { return lv.req == i })
	}
	borrowers := make(map[string]bool)
	for _, lv := range vars {
		borrowers[reqs[lv.req].BorrowerStopID] = true
	}
	for _, id := range b.order {
		a := b.accounts[id]
		addRow(a.Lendable(), func(lv lpVar) bool { return lv.lender == id })
		if borrowers[id] {
			addRow(a.BorrowRoom(), func(lv lpVar) bool { return reqs[lv.req].BorrowerStopID == id })
		}
	}
	for v := range vars {
		row := make([]float64, n)
		row[v] = -1
		rows = append(rows, row)
		h = append(h, 0)
	}

	g := mat.NewDense(len(rows), n, nil)
	for i, row := range rows {
		g.SetRow(i, row)
	}
	return lpSolve(obj, g, h)
}
