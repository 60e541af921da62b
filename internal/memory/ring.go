package memory

// ring is a fixed-capacity FIFO of items ordered oldest first.
type ring struct {
	buf  []Item
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Item, capacity)}
}

// push appends it. When the ring is full the oldest item is overwritten and
// returned with ok set.
func (r *ring) push(it Item) (evicted Item, ok bool) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = it
		r.size++
		return Item{}, false
	}
	evicted = r.buf[r.head]
	r.buf[r.head] = it
	r.head = (r.head + 1) % len(r.buf)
	return evicted, true
}

func (r *ring) len() int { return r.size }

// each calls fn for every item oldest first.
func (r *ring) each(fn func(Item)) {
	for i := 0; i < r.size; i++ {
		fn(r.buf[(r.head+i)%len(r.buf)])
	}
}
