package manager

import (
	"sync"
	"time"
)

// LogLine is one captured output line from a managed process.
type LogLine struct {
	Tool    string    `json:"tool"`
	Version string    `json:"version"`
	Port    int       `json:"port"`
	Line    string    `json:"line"`
	Time    time.Time `json:"time"`
}

// LogHub keeps a bounded ring of recent process output and fans new
// lines out to subscribers. A slow subscriber loses lines rather than
// ever blocking the supervisor's output pump.
type LogHub struct {
	mu    sync.Mutex
	ring  []LogLine
	size  int
	next  int
	count int
	subs  map[chan LogLine]struct{}
}

// NewLogHub creates a hub retaining the last size lines.
func NewLogHub(size int) *LogHub {
	if size <= 0 {
		size = 512
	}
	return &LogHub{
		ring: make([]LogLine, size),
		size: size,
		subs: make(map[chan LogLine]struct{}),
	}
}

// Publish records a line and delivers it to all subscribers.
func (h *LogHub) Publish(line LogLine) {
	h.mu.Lock()
	h.ring[h.next] = line
	h.next = (h.next + 1) % h.size
	if h.count < h.size {
		h.count++
	}
	for ch := range h.subs {
		select {
		case ch <- line:
		default:
		}
	}
	h.mu.Unlock()
}

// Recent returns up to n of the most recent lines, oldest first.
func (h *LogHub) Recent(n int) []LogLine {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]LogLine, 0, n)
	start := h.next - n
	if start < 0 {
		start += h.size
	}
	for i := 0; i < n; i++ {
		out = append(out, h.ring[(start+i)%h.size])
	}
	return out
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release it.
func (h *LogHub) Subscribe() (<-chan LogLine, func()) {
	ch := make(chan LogLine, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
