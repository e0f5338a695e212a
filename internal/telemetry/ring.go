package telemetry

// ring is a fixed-capacity FIFO that evicts the oldest item when full.
// Callers synchronise access.
type ring[T any] struct {
	items []T
	head  int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) Add(item T) {
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// Items returns the contents oldest first.
func (r *ring[T]) Items() []T {
	out := make([]T, 0, r.size)
	start := (r.head - r.size + len(r.items)) % len(r.items)
	for i := range r.size {
		out = append(out, r.items[(start+i)%len(r.items)])
	}
	return out
}
