package metrics

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring struct {
	buf   []FailureRecord
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultRecentFailures
	}
	return &ring{buf: make([]FailureRecord, capacity)}
}

func (r *ring) push(f FailureRecord) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = f
		r.size++
		return
	}
	r.buf[r.start] = f
	r.start = (r.start + 1) % len(r.buf)
}

// items returns the entries oldest first.
func (r *ring) items() []FailureRecord {
	out := make([]FailureRecord, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
