// Package backpressure implements the frontier's soft-cap policy: once
// the frontier exceeds a configured size, newly discovered low-priority
// children are dropped rather than admitted, and a counter records the
// drop so operators can see it happening.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Controller.
type Config struct {
	// SoftCap is the frontier size above which low-priority children
	// are dropped at discovery time.
	SoftCap int64

	// LowPriorityThreshold is the priority (inclusive) below which a
	// newly discovered URL is considered "low priority" for the
	// purposes of the soft cap.
	LowPriorityThreshold int
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() *Config {
	return &Config{SoftCap: 500_000, LowPriorityThreshold: 0}
}

// Controller tracks frontier occupancy and decides whether newly
// discovered links should be dropped under pressure.
type Controller struct {
	mu     sync.RWMutex
	config *Config

	frontierSize int64
	droppedTotal int64
	admittedTotal int64

	lastOverCap time.Time
}

// NewController creates a Controller.
func NewController(config *Config) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	return &Controller{config: config}
}

// SetFrontierSize updates the tracked frontier occupancy; the admission
// pipeline reports the frontier's size before each admit decision.
func (c *Controller) SetFrontierSize(size int64) {
	atomic.StoreInt64(&c.frontierSize, size)
}

// ShouldDrop reports whether a newly discovered link at the given
// priority should be dropped under the current soft cap. Callers must
// call RecordDrop or RecordAdmit to keep counters accurate.
func (c *Controller) ShouldDrop(priority float64) bool {
	if atomic.LoadInt64(&c.frontierSize) <= c.config.SoftCap {
		return false
	}
	return priority <= float64(c.config.LowPriorityThreshold)
}

// RecordDrop increments the drop counter and notes the over-cap time.
func (c *Controller) RecordDrop() {
	atomic.AddInt64(&c.droppedTotal, 1)
	c.mu.Lock()
	c.lastOverCap = time.Now()
	c.mu.Unlock()
}

// RecordAdmit increments the admitted counter.
func (c *Controller) RecordAdmit() {
	atomic.AddInt64(&c.admittedTotal, 1)
}

// Stats summarizes controller counters.
type Stats struct {
	FrontierSize int64
	DroppedTotal int64
	AdmittedTotal int64
	OverCap      bool
	LastOverCap  time.Time
}

// Stats returns a snapshot of current counters.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	size := atomic.LoadInt64(&c.frontierSize)
	return Stats{
		FrontierSize:  size,
		DroppedTotal:  atomic.LoadInt64(&c.droppedTotal),
		AdmittedTotal: atomic.LoadInt64(&c.admittedTotal),
		OverCap:       size > c.config.SoftCap,
		LastOverCap:   c.lastOverCap,
	}
}
