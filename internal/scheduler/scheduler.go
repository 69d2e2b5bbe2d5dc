// Package scheduler enforces per-host politeness and global/per-host
// concurrency limits over URLs leased from the frontier.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/deepharvest/crawler/internal/circuitbreaker"
	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/diststore"
	"github.com/deepharvest/crawler/internal/frontier"
	"github.com/deepharvest/crawler/internal/logging"
	"github.com/deepharvest/crawler/internal/robots"
)

// hostStateStore is implemented by frontier backends that share host
// politeness state across worker processes (currently only
// diststore.Store); a LocalFrontier keeps hostState in-process only,
// so a single-process run never needs it.
type hostStateStore interface {
	LoadHostState(host string) diststore.HostState
	SaveHostState(host string, hs diststore.HostState)
}

// WorkerFunc processes one leased URL record and reports the outcome.
type WorkerFunc func(ctx context.Context, rec frontier.URLRecord) (*CrawlResult, error)

// CrawlResult is what a WorkerFunc reports back to the scheduler.
type CrawlResult struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
	ResponseTime  time.Duration
	FinalURL      string
	Err           error
	Retryable     bool
	DiscoveredURLs []string
}

// DiscoveredFunc is invoked with links found while processing rec, so
// the scheduler can stay decoupled from the admission pipeline (that
// wiring belongs to the orchestrator).
type DiscoveredFunc func(urls []string, parentURL string, depth int)

// Stats summarizes scheduler activity.
type Stats struct {
	URLsProcessed int64
	URLsSucceeded int64
	URLsFailed    int64
	URLsRetried   int64
	ActiveWorkers int32
	HostsParked   int
	StartTime     time.Time
	ElapsedTime   time.Duration
}

// hostState tracks per-host politeness and concurrency.
type hostState struct {
	limiter    *rate.Limiter
	baseGap    time.Duration
	currentGap time.Duration
	sem        chan struct{} // bounds C_host concurrent in-flight requests
	breaker    *circuitbreaker.Breaker

	// observedRobotsDelay is the robots.txt Crawl-delay directive found
	// for this host, if any, folded into baseGap at creation time.
	observedRobotsDelay time.Duration

	// consecutiveFails tracks the unbroken run of failed fetches for
	// this host, mirroring diststore.HostState.ConsecutiveFails; shared
	// across worker processes when the frontier is a hostStateStore.
	consecutiveFails int
}

// Scheduler leases URLs from a frontier and dispatches them to a
// WorkerFunc, one host at a time, respecting adaptive per-host
// politeness and circuit-open parking.
type Scheduler struct {
	cfg      *config.CrawlConfig
	frontier frontier.Frontier
	worker   WorkerFunc
	onFound  DiscoveredFunc
	robots   *robots.Cache
	log      logging.Logger

	breakerCfg circuitbreaker.Config

	globalSem chan struct{}

	mu    sync.Mutex
	hosts map[string]*hostState

	running       atomic.Bool
	activeWorkers atomic.Int32

	urlsProcessed atomic.Int64
	urlsSucceeded atomic.Int64
	urlsFailed    atomic.Int64
	urlsRetried   atomic.Int64
	startTime     time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a Scheduler. f is typically a *frontier.LocalFrontier or
// a distributed frontier implementation; worker performs the actual
// fetch/parse/dedup work for one URL. robotsCache may be nil, in which
// case host crawl-delay hints come only from cfg.CrawlDelay.
func New(cfg *config.CrawlConfig, f frontier.Frontier, worker WorkerFunc, onFound DiscoveredFunc, robotsCache *robots.Cache, log logging.Logger) *Scheduler {
	concurrencyGlobal := cfg.ConcurrencyGlobal
	if concurrencyGlobal <= 0 {
		concurrencyGlobal = 1
	}

	return &Scheduler{
		cfg:        cfg,
		frontier:   f,
		worker:     worker,
		onFound:    onFound,
		robots:     robotsCache,
		log:        log,
		breakerCfg: circuitbreaker.DefaultConfig(),
		globalSem:  make(chan struct{}, concurrencyGlobal),
		hosts:      make(map[string]*hostState),
		stopCh:     make(chan struct{}),
	}
}

// Start launches cfg.ConcurrencyGlobal worker goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	s.startTime = time.Now()

	n := cap(s.globalSem)
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, i)
	}
}

// Stop signals all workers to exit once their current lease settles.
func (s *Scheduler) Stop() {
	if s.running.CompareAndSwap(true, false) {
		close(s.stopCh)
	}
}

// Wait blocks until every worker goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()

	idleSince := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		lease, ok := s.frontier.Lease("worker-" + itoa(id))
		if !ok {
			if time.Since(idleSince) > 2*time.Second && s.frontier.Size() == 0 && s.activeWorkers.Load() == 0 {
				return
			}
			select {
			case <-time.After(100 * time.Millisecond):
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
			continue
		}
		idleSince = time.Now()

		hs := s.hostStateFor(ctx, lease.Record.Host)

		if err := hs.breaker.Allow(); err != nil {
			s.frontier.Complete(lease.ID, frontier.OutcomeRetry)
			continue
		}

		select {
		case s.globalSem <- struct{}{}:
		case <-ctx.Done():
			s.frontier.Complete(lease.ID, frontier.OutcomeRetry)
			return
		case <-s.stopCh:
			s.frontier.Complete(lease.ID, frontier.OutcomeRetry)
			return
		}

		select {
		case hs.sem <- struct{}{}:
		case <-ctx.Done():
			<-s.globalSem
			s.frontier.Complete(lease.ID, frontier.OutcomeRetry)
			return
		case <-s.stopCh:
			<-s.globalSem
			s.frontier.Complete(lease.ID, frontier.OutcomeRetry)
			return
		}

		if err := hs.limiter.Wait(ctx); err != nil {
			<-hs.sem
			<-s.globalSem
			s.frontier.Complete(lease.ID, frontier.OutcomeRetry)
			continue
		}

		s.activeWorkers.Add(1)
		result, err := s.worker(ctx, lease.Record)
		s.activeWorkers.Add(-1)

		<-hs.sem
		<-s.globalSem

		s.urlsProcessed.Add(1)

		success := err == nil && (result == nil || result.Err == nil)
		hs.breaker.Record(success)
		s.adjustGap(hs, success)
		s.syncHostState(lease.Record.Host, hs)

		if success {
			s.urlsSucceeded.Add(1)
			s.frontier.Complete(lease.ID, frontier.OutcomeSucceeded)
			if result != nil && len(result.DiscoveredURLs) > 0 && s.onFound != nil {
				s.onFound(result.DiscoveredURLs, lease.Record.URL, lease.Record.Depth+1)
			}
			continue
		}

		s.urlsFailed.Add(1)
		retryable := result != nil && result.Retryable
		if retryable && lease.Record.RetryCount < s.cfg.MaxRetries {
			s.urlsRetried.Add(1)
			s.frontier.Complete(lease.ID, frontier.OutcomeRetry)
		} else {
			s.frontier.Complete(lease.ID, frontier.OutcomeFailed)
		}
	}
}

func (s *Scheduler) hostStateFor(ctx context.Context, host string) *hostState {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs, ok := s.hosts[host]
	if ok {
		return hs
	}

	gap := s.cfg.CrawlDelay
	if gap <= 0 {
		gap = time.Second
	}
	var robotsDelay time.Duration
	if s.robots != nil {
		robotsDelay = s.robots.CrawlDelayForHost(ctx, host)
		if robotsDelay > gap {
			gap = robotsDelay
		}
	}
	concurrencyHost := s.cfg.ConcurrencyHost
	if concurrencyHost <= 0 {
		concurrencyHost = 2
	}

	currentGap := gap
	var consecutiveFails int
	if store, ok := s.frontier.(hostStateStore); ok {
		if shared := store.LoadHostState(host); shared.CurrentGapMillis > 0 {
			if sharedGap := time.Duration(shared.CurrentGapMillis) * time.Millisecond; sharedGap > currentGap {
				currentGap = sharedGap
			}
			consecutiveFails = shared.ConsecutiveFails
		}
	}

	hs = &hostState{
		limiter:             rate.NewLimiter(rate.Every(currentGap), concurrencyHost),
		baseGap:             gap,
		currentGap:          currentGap,
		sem:                 make(chan struct{}, concurrencyHost),
		breaker:             circuitbreaker.New(s.breakerCfg),
		observedRobotsDelay: robotsDelay,
		consecutiveFails:    consecutiveFails,
	}
	s.hosts[host] = hs
	return hs
}

// syncHostState publishes hs's current politeness state to a shared
// hostStateStore, if the frontier is one, so other worker processes
// converge on the same backoff for host.
func (s *Scheduler) syncHostState(host string, hs *hostState) {
	store, ok := s.frontier.(hostStateStore)
	if !ok {
		return
	}
	store.SaveHostState(host, diststore.HostState{
		CurrentGapMillis: hs.currentGap.Milliseconds(),
		ConsecutiveFails: hs.consecutiveFails,
		BreakerOpen:      hs.breaker.State() == circuitbreaker.StateOpen,
		LastFetchUnix:    time.Now().Unix(),
	})
}

// adjustGap implements the adaptive politeness rule: backoff x1.5
// (capped at 30x base) on failure, decay x0.9 (floored at 1x base) on
// success.
func (s *Scheduler) adjustGap(hs *hostState, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if success {
		hs.consecutiveFails = 0
		hs.currentGap = time.Duration(float64(hs.currentGap) * 0.9)
		if hs.currentGap < hs.baseGap {
			hs.currentGap = hs.baseGap
		}
	} else {
		hs.consecutiveFails++
		hs.currentGap = time.Duration(float64(hs.currentGap) * 1.5)
		if ceiling := hs.baseGap * 30; hs.currentGap > ceiling {
			hs.currentGap = ceiling
		}
	}
	hs.limiter.SetLimit(rate.Every(hs.currentGap))
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	parked := 0
	for _, hs := range s.hosts {
		if hs.breaker.State() == circuitbreaker.StateOpen {
			parked++
		}
	}
	s.mu.Unlock()

	return Stats{
		URLsProcessed: s.urlsProcessed.Load(),
		URLsSucceeded: s.urlsSucceeded.Load(),
		URLsFailed:    s.urlsFailed.Load(),
		URLsRetried:   s.urlsRetried.Load(),
		ActiveWorkers: s.activeWorkers.Load(),
		HostsParked:   parked,
		StartTime:     s.startTime,
		ElapsedTime:   time.Since(s.startTime),
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
