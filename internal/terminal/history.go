package terminal

import "sync"

// DefaultHistoryLines is the default bounded history capacity.
const DefaultHistoryLines = 2000

// History is a bounded FIFO of output fragments used to replay a session's
// recent output to a late-attaching viewer. It is not authoritative logging.
type History struct {
	mu    sync.RWMutex
	items []string
	start int
	count int
}

// NewHistory creates a history buffer with the given capacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryLines
	}
	return &History{items: make([]string, capacity)}
}

// Push appends an item, evicting the oldest when full.
func (h *History) Push(item string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count < len(h.items) {
		h.items[(h.start+h.count)%len(h.items)] = item
		h.count++
		return
	}
	h.items[h.start] = item
	h.start = (h.start + 1) % len(h.items)
}

// Get returns the retained items in insertion order.
func (h *History) Get() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.items[(h.start+i)%len(h.items)]
	}
	return out
}

// Len returns the number of retained items.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Clear empties the buffer.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start = 0
	h.count = 0
}
