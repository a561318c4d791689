package optimize

// memo is a bounded map that evicts its oldest fifth once full.
type memo[K comparable, V any] struct {
	limit   int
	entries map[K]V
	order   []K
	hits    int
	misses  int
}

func newMemo[K comparable, V any](limit int) *memo[K, V] {
	if limit <= 0 {
		limit = 10000
	}
	return &memo[K, V]{limit: limit, entries: make(map[K]V)}
}

func (m *memo[K, V]) get(k K) (V, bool) {
	v, ok := m.entries[k]
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	return v, ok
}

func (m *memo[K, V]) put(k K, v V) {
	if _, ok := m.entries[k]; ok {
		m.entries[k] = v
		return
	}
	if len(m.entries) >= m.limit {
		n := m.limit / 5
		if n == 0 {
			n = 1
		}
		for _, old := range m.order[:n] {
			delete(m.entries, old)
		}
		m.order = append(m.order[:0:0], m.order[n:]...)
	}
	m.entries[k] = v
	m.order = append(m.order, k)
}

func (m *memo[K, V]) len() int { return len(m.entries) }

func (m *memo[K, V]) clear() {
	m.entries = make(map[K]V)
	m.order = nil
	m.hits, m.misses = 0, 0
}
