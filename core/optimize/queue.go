package optimize

import (
	"container/heap"

	"github.com/kilianp07/connopt/core/model"
)

type candidate struct {
	conn   model.ConnectionOpportunity
	weight float64
}

// connectionQueue orders connections by priority, then type weight, then
// fewer affected trips, then id.
type connectionQueue []candidate

func (q connectionQueue) Len() int { return len(q) }

func (q connectionQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.conn.Priority != b.conn.Priority {
		return a.conn.Priority > b.conn.Priority
	}
	if a.weight != b.weight {
		return a.weight > b.weight
	}
	if len(a.conn.AffectedTrips) != len(b.conn.AffectedTrips) {
		return len(a.conn.AffectedTrips) < len(b.conn.AffectedTrips)
	}
	return a.conn.ID < b.conn.ID
}

func (q connectionQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *connectionQueue) Push(x any) { *q = append(*q, x.(candidate)) }

func (q *connectionQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// prioritize returns the connections in processing order.
func prioritize(conns []model.ConnectionOpportunity, c model.OptimizationConstraints) []model.ConnectionOpportunity {
	q := make(connectionQueue, 0, len(conns))
	for _, cn := range conns {
		q = append(q, candidate{conn: cn, weight: c.TypeWeight(cn.Type)})
	}
	heap.Init(&q)
	out := make([]model.ConnectionOpportunity, 0, len(conns))
	for q.Len() > 0 {
		out = append(out, heap.Pop(&q).(candidate).conn)
	}
	return out
}
