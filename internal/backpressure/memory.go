package backpressure

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryMonitor watches process memory usage and requests a pause when
// a large crawl's in-memory state (frontier, dedup structures, body
// buffers) approaches the configured hard limit. It is a safety valve
// alongside the frontier soft cap, not a replacement for it.
type MemoryMonitor struct {
	mu sync.RWMutex

	config *MemoryConfig

	currentAlloc   uint64
	peakAlloc      uint64
	lastGC         time.Time
	pressureLevel  PressureLevel
	pauseRequested int32

	onPressure func(PressureLevel)
	stopChan   chan struct{}
}

// MemoryConfig configures the MemoryMonitor.
type MemoryConfig struct {
	SoftLimit     uint64 // triggers a GC when exceeded
	HardLimit     uint64 // triggers a pause request when exceeded
	MinGCInterval time.Duration
	PollInterval  time.Duration
}

// DefaultMemoryConfig sizes limits off the current Go memory stats.
func DefaultMemoryConfig() *MemoryConfig {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	total := m.Sys
	if total == 0 {
		total = 1 << 30
	}

	return &MemoryConfig{
		SoftLimit:     total / 2,
		HardLimit:     total * 3 / 4,
		MinGCInterval: 5 * time.Second,
		PollInterval:  time.Second,
	}
}

// PressureLevel classifies current memory pressure.
type PressureLevel int

const (
	PressureNone PressureLevel = iota
	PressureHigh
	PressureCritical
)

// NewMemoryMonitor creates a MemoryMonitor.
func NewMemoryMonitor(config *MemoryConfig) *MemoryMonitor {
	if config == nil {
		config = DefaultMemoryConfig()
	}
	return &MemoryMonitor{config: config, stopChan: make(chan struct{})}
}

// Start runs the monitor loop until ctx is cancelled or Stop is called.
func (m *MemoryMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Stop halts the monitor loop.
func (m *MemoryMonitor) Stop() {
	close(m.stopChan)
}

func (m *MemoryMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *MemoryMonitor) check() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentAlloc = stats.Alloc
	if stats.Alloc > m.peakAlloc {
		m.peakAlloc = stats.Alloc
	}

	old := m.pressureLevel
	switch {
	case stats.Alloc >= m.config.HardLimit:
		m.pressureLevel = PressureCritical
	case stats.Alloc >= m.config.SoftLimit:
		m.pressureLevel = PressureHigh
	default:
		m.pressureLevel = PressureNone
	}

	if m.pressureLevel != old && m.onPressure != nil {
		m.onPressure(m.pressureLevel)
	}

	switch m.pressureLevel {
	case PressureHigh:
		if time.Since(m.lastGC) > m.config.MinGCInterval {
			runtime.GC()
			m.lastGC = time.Now()
		}
	case PressureCritical:
		atomic.StoreInt32(&m.pauseRequested, 1)
		runtime.GC()
		debug.FreeOSMemory()
		m.lastGC = time.Now()
		return
	}
	atomic.StoreInt32(&m.pauseRequested, 0)
}

// SetPressureCallback registers a callback invoked on pressure level
// transitions.
func (m *MemoryMonitor) SetPressureCallback(cb func(PressureLevel)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPressure = cb
}

// ShouldPause reports whether the orchestrator should withhold new
// leases until memory pressure subsides.
func (m *MemoryMonitor) ShouldPause() bool {
	return atomic.LoadInt32(&m.pauseRequested) == 1
}

// WaitForResume blocks until pressure subsides or ctx is cancelled.
func (m *MemoryMonitor) WaitForResume(ctx context.Context) error {
	for m.ShouldPause() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// PressureLevelNow returns the current pressure classification.
func (m *MemoryMonitor) PressureLevelNow() PressureLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pressureLevel
}
