package ordermanager

import (
	"sync"

	"standxmm/pkg/types"
)

// history is a capped sliding window of completed order events (placed,
// cancelled), oldest evicted first once max is exceeded. Grounded on the
// same trim-on-append idiom used for daily PnL history elsewhere in the
// pack. A max of 0 disables recording entirely.
type history struct {
	mu      sync.Mutex
	max     int
	entries []types.Order
}

func newHistory(max int) *history {
	return &history{max: max}
}

// record appends o, trimming the oldest entry while over capacity.
func (h *history) record(o types.Order) {
	if h.max <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, o)
	for len(h.entries) > h.max {
		h.entries = h.entries[1:]
	}
}

// snapshot returns a copy of the current window, oldest first.
func (h *history) snapshot() []types.Order {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Order, len(h.entries))
	copy(out, h.entries)
	return out
}
