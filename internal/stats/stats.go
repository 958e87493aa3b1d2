// Package stats owns the control loop's observability counters: a
// mutex-guarded accumulate-under-lock counter set that never gates
// behavior, unlike a multi-market kill-switch aggregator.
package stats

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"standxmm/internal/ordermanager"
)

// Stats accumulates unwind and error-handling counters across ticks.
// Order placement/cancellation/rebalance counters live on the active
// ordermanager.Manager itself and are merged in at Snapshot time rather
// than duplicated here.
type Stats struct {
	mu sync.Mutex

	unwindAttempts  int
	unwindSuccesses int
	unwindVolume    decimal.Decimal

	consecutiveErrors int
	lastErrorAt       time.Time
}

// New creates an empty Stats.
func New() *Stats {
	return &Stats{}
}

// RecordUnwind tallies the outcome of one unwind invocation.
func (s *Stats) RecordUnwind(success bool, size decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unwindAttempts++
	if success {
		s.unwindSuccesses++
	}
	s.unwindVolume = s.unwindVolume.Add(size)
}

// IncrementErrors bumps the consecutive-error counter and returns its
// new value.
func (s *Stats) IncrementErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrors++
	s.lastErrorAt = time.Now()
	return s.consecutiveErrors
}

// ResetErrors clears the consecutive-error counter after a successful
// tick.
func (s *Stats) ResetErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveErrors = 0
}

// ConsecutiveErrors reports the current streak without mutating it.
func (s *Stats) ConsecutiveErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveErrors
}

// Snapshot is the full observability picture for one dashboard render,
// combining this package's counters with the order manager's.
type Snapshot struct {
	Placed     int
	Cancelled  int
	Rebalanced int

	UnwindAttempts  int
	UnwindSuccesses int
	UnwindVolume    decimal.Decimal

	ConsecutiveErrors int
}

// Snapshot merges mgr's placement counters with this package's unwind and
// error counters into a single dashboard-ready value.
func (s *Stats) Snapshot(mgr ordermanager.Manager) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	mgrStats := mgr.Stats()
	return Snapshot{
		Placed:            mgrStats.Placed,
		Cancelled:         mgrStats.Cancelled,
		Rebalanced:        mgrStats.Rebalanced,
		UnwindAttempts:    s.unwindAttempts,
		UnwindSuccesses:   s.unwindSuccesses,
		UnwindVolume:      s.unwindVolume,
		ConsecutiveErrors: s.consecutiveErrors,
	}
}
