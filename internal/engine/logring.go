package engine

import "sync"

// LogRing is a thread-safe ring buffer of engine log lines.
type LogRing struct {
	mu   sync.Mutex
	cap  int
	data []string
}

// NewLogRing creates a ring retaining at most capacity lines.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = 500
	}
	return &LogRing{cap: capacity}
}

// Append adds a line, evicting the oldest once full.
func (rb *LogRing) Append(s string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.data) >= rb.cap {
		copy(rb.data, rb.data[1:])
		rb.data[len(rb.data)-1] = s
	} else {
		rb.data = append(rb.data, s)
	}
}

// LastN returns the most recent n lines, oldest first. n <= 0 returns
// everything retained.
func (rb *LogRing) LastN(n int) []string {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.data) == 0 {
		return []string{}
	}
	if n <= 0 || n >= len(rb.data) {
		out := make([]string, len(rb.data))
		copy(out, rb.data)
		return out
	}
	out := make([]string, n)
	copy(out, rb.data[len(rb.data)-n:])
	return out
}
