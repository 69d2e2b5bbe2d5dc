package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/diststore"
	"github.com/deepharvest/crawler/internal/frontier"
)

// fakeSharedFrontier is a minimal frontier.Frontier that also
// implements hostStateStore, so hostStateFor/syncHostState can be
// exercised without a real Redis-backed diststore.Store.
type fakeSharedFrontier struct {
	mu    sync.Mutex
	state map[string]diststore.HostState
}

func newFakeSharedFrontier() *fakeSharedFrontier {
	return &fakeSharedFrontier{state: make(map[string]diststore.HostState)}
}

func (f *fakeSharedFrontier) Admit(frontier.URLRecord) bool           { return true }
func (f *fakeSharedFrontier) Lease(string) (*frontier.Lease, bool)    { return nil, false }
func (f *fakeSharedFrontier) Complete(string, frontier.Outcome) error { return nil }
func (f *fakeSharedFrontier) Snapshot() frontier.Snapshot             { return frontier.Snapshot{} }
func (f *fakeSharedFrontier) Restore(frontier.Snapshot) error         { return nil }
func (f *fakeSharedFrontier) Size() int                               { return 0 }
func (f *fakeSharedFrontier) Stats() frontier.Stats                   { return frontier.Stats{} }

func (f *fakeSharedFrontier) LoadHostState(host string) diststore.HostState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[host]
}

func (f *fakeSharedFrontier) SaveHostState(host string, hs diststore.HostState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[host] = hs
}

var _ frontier.Frontier = (*fakeSharedFrontier)(nil)
var _ hostStateStore = (*fakeSharedFrontier)(nil)

func newTestScheduler(f frontier.Frontier) *Scheduler {
	cfg := config.DefaultConfig()
	cfg.ConcurrencyGlobal = 1
	cfg.ConcurrencyHost = 1
	cfg.CrawlDelay = 10 * time.Millisecond
	return New(cfg, f, nil, nil, nil, nil)
}

func TestHostStateFor_SeedsFromSharedStoreWhenGapIsLarger(t *testing.T) {
	f := newFakeSharedFrontier()
	f.SaveHostState("example.com", diststore.HostState{CurrentGapMillis: 5000, ConsecutiveFails: 2})

	s := newTestScheduler(f)
	hs := s.hostStateFor(context.Background(), "example.com")

	if hs.currentGap != 5*time.Second {
		t.Errorf("expected shared gap 5s to win over the local default, got %v", hs.currentGap)
	}
	if hs.consecutiveFails != 2 {
		t.Errorf("expected consecutiveFails seeded to 2, got %d", hs.consecutiveFails)
	}
}

func TestHostStateFor_KeepsLocalGapWhenLarger(t *testing.T) {
	f := newFakeSharedFrontier()
	f.SaveHostState("example.com", diststore.HostState{CurrentGapMillis: 1})

	s := newTestScheduler(f)
	hs := s.hostStateFor(context.Background(), "example.com")

	if hs.currentGap != s.cfg.CrawlDelay {
		t.Errorf("expected local gap %v to win over a smaller shared gap, got %v", s.cfg.CrawlDelay, hs.currentGap)
	}
}

func TestHostStateFor_LocalFrontierHasNoSharedSeed(t *testing.T) {
	local := frontier.NewLocalFrontier(time.Minute)
	s := newTestScheduler(local)

	hs := s.hostStateFor(context.Background(), "example.com")
	if hs.currentGap != s.cfg.CrawlDelay {
		t.Errorf("expected LocalFrontier-backed state to use the configured gap, got %v", hs.currentGap)
	}
	if hs.consecutiveFails != 0 {
		t.Errorf("expected no seeded failures for a LocalFrontier, got %d", hs.consecutiveFails)
	}
}

func TestSyncHostState_PublishesToSharedStore(t *testing.T) {
	f := newFakeSharedFrontier()
	s := newTestScheduler(f)

	hs := s.hostStateFor(context.Background(), "example.com")
	hs.currentGap = 3 * time.Second
	hs.consecutiveFails = 1

	s.syncHostState("example.com", hs)

	got := f.LoadHostState("example.com")
	if got.CurrentGapMillis != 3000 {
		t.Errorf("expected published gap 3000ms, got %d", got.CurrentGapMillis)
	}
	if got.ConsecutiveFails != 1 {
		t.Errorf("expected published ConsecutiveFails 1, got %d", got.ConsecutiveFails)
	}
}

func TestSyncHostState_NoopOnLocalFrontier(t *testing.T) {
	local := frontier.NewLocalFrontier(time.Minute)
	s := newTestScheduler(local)

	hs := s.hostStateFor(context.Background(), "example.com")
	// Must not panic when the frontier has no shared host-state store.
	s.syncHostState("example.com", hs)
}
