// Package orchestrator wires the frontier, scheduler, fetcher,
// renderer, dedup, trap detection, admission and checkpointing
// together into one runnable crawl, the way
// erndmrc-spider2/internal/scheduler/scheduler.go's worker loop used
// to own the whole pipeline before fetch/parse/dedup were split into
// their own packages.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deepharvest/crawler/internal/admission"
	"github.com/deepharvest/crawler/internal/backpressure"
	"github.com/deepharvest/crawler/internal/bodycache"
	"github.com/deepharvest/crawler/internal/checkpoint"
	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/crawlerr"
	"github.com/deepharvest/crawler/internal/dedup/contentdedup"
	"github.com/deepharvest/crawler/internal/dedup/urldedup"
	"github.com/deepharvest/crawler/internal/diststore"
	"github.com/deepharvest/crawler/internal/fetcher"
	"github.com/deepharvest/crawler/internal/frontier"
	"github.com/deepharvest/crawler/internal/linkextract"
	"github.com/deepharvest/crawler/internal/logging"
	"github.com/deepharvest/crawler/internal/pluginapi"
	"github.com/deepharvest/crawler/internal/renderer"
	"github.com/deepharvest/crawler/internal/robots"
	"github.com/deepharvest/crawler/internal/scheduler"
	"github.com/deepharvest/crawler/internal/telemetry"
	"github.com/deepharvest/crawler/internal/trap"
)

// shutdownGrace bounds how long Run waits for in-flight fetches to
// settle after the context is cancelled before giving up on them.
const shutdownGrace = 30 * time.Second

// minBodyForNoFallback is the body-size floor below which a page is a
// browser-fallback candidate under the adaptive render heuristic.
const minBodyForNoFallback = 500

// minOutboundLinksForNoFallback is the outbound-link floor below which
// a page is a browser-fallback candidate.
const minOutboundLinksForNoFallback = 3

var spaMarkers = []string{
	`<div id="root"></div>`, `<div id="app"></div>`, `<div id="__next"`,
	`ng-app`, `data-reactroot`,
}

// Orchestrator runs one crawl end to end: seed admission, worker
// dispatch, periodic checkpointing, and graceful shutdown.
type Orchestrator struct {
	cfg *config.CrawlConfig
	log logging.Logger

	frontier   frontier.Frontier
	admission  *admission.Pipeline
	scheduler  *scheduler.Scheduler
	fetcher    *fetcher.Fetcher
	renderOnce sync.Once
	render     *renderer.Renderer
	renderErr  error
	robotsC    *robots.Cache
	checkpoint *checkpoint.Manager
	metrics    *telemetry.Metrics
	memMonitor *backpressure.MemoryMonitor

	dedupChecker *urldedup.Checker
	simIndex     *contentdedup.SimHashIndex
	exactBodies  map[string]string // SHA-256 body fingerprint -> URL that first produced it
	aliases      map[string]string // duplicate URL -> canonical URL it aliases
	exactMu      sync.Mutex

	admittedTotal int64
	redisClient   interface{ Close() error }

	Plugins *pluginapi.Registry
}

// New builds an Orchestrator from cfg. metrics may be nil to disable
// Prometheus reporting.
func New(cfg *config.CrawlConfig, metrics *telemetry.Metrics, log logging.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: invalid config: %w", err)
	}

	cache, err := bodycache.NewDiskCache(bodycache.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: body cache: %w", err)
	}

	f := fetcher.NewFetcher(cfg, cache, log)

	o := &Orchestrator{
		cfg:          cfg,
		log:          log,
		fetcher:      f,
		metrics:      metrics,
		dedupChecker: urldedup.NewChecker(urldedup.NewBloomFilter(1<<22, 7), urldedup.NewExactSet()),
		simIndex:     contentdedup.NewSimHashIndex(),
		exactBodies:  make(map[string]string),
		aliases:      make(map[string]string),
		Plugins:      pluginapi.NewRegistry(),
	}

	o.robotsC = robots.NewCache(o.fetchRobots, cfg.UserAgent, 24*time.Hour)

	fr, err := o.buildFrontier(cfg)
	if err != nil {
		return nil, err
	}
	o.frontier = fr

	detector := trap.NewDetector(trap.Config{
		CalendarTrapMaxDepth:         cfg.CalendarTrapMaxDepth,
		SessionIDEntropyBits:         cfg.SessionIDEntropyBits,
		PaginationTrapCap:            cfg.PaginationTrapCap,
		ParamExplosionThreshold:      cfg.ParamExplosionThreshold,
		CalendarWindowStart:          cfg.CalendarWindowStart,
		CalendarWindowEnd:            cfg.CalendarWindowEnd,
		PaginationNoNewContentWindow: cfg.PaginationNoNewContentWindow,
	}, nil)

	o.admission = admission.NewPipeline(cfg, detector, o.robotsC, o.frontier, log)
	if metrics != nil {
		o.admission.WithMetrics(metrics)
	}

	o.checkpoint = checkpoint.NewManager(cfg.CheckpointPath, log)

	o.memMonitor = backpressure.NewMemoryMonitor(backpressure.DefaultMemoryConfig())

	o.scheduler = scheduler.New(cfg, o.frontier, o.worker, o.onDiscovered, o.robotsC, log)

	return o, nil
}

// buildFrontier returns a local or Redis-backed frontier.Frontier
// depending on cfg.Distributed.
func (o *Orchestrator) buildFrontier(cfg *config.CrawlConfig) (frontier.Frontier, error) {
	if !cfg.Distributed {
		return frontier.NewLocalFrontier(cfg.LeaseTimeout), nil
	}

	client, err := diststore.NewClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: connect redis: %w", err)
	}
	o.redisClient = client

	return diststore.New(client, diststore.Config{
		RedisURL:     cfg.RedisURL,
		ShardCount:   cfg.FrontierShards,
		LeaseTimeout: cfg.LeaseTimeout,
	}, o.log), nil
}

// fetchRobots adapts fetcher.Fetcher.Fetch to robots.FetchFunc.
func (o *Orchestrator) fetchRobots(ctx context.Context, rawURL string) ([]byte, int, error) {
	resp := o.fetcher.Fetch(ctx, rawURL)
	if resp.Err != nil {
		return nil, 0, resp.Err
	}
	return resp.Body, resp.StatusCode, nil
}

// Run seeds the frontier, starts the scheduler, and blocks until the
// crawl finishes or ctx is cancelled. On cancellation it saves an
// emergency checkpoint and gives in-flight workers shutdownGrace to
// settle before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	if resumed, err := o.tryResume(); err != nil {
		return err
	} else if !resumed {
		for _, seed := range o.cfg.Seeds {
			o.admitDiscovered([]string{seed}, "", 0)
		}
	}

	if o.memMonitor != nil {
		o.memMonitor.Start(runCtx)
	}

	o.scheduler.Start(runCtx)

	done := make(chan struct{})
	go func() {
		o.scheduler.Wait()
		close(done)
	}()

	var storeErr atomic.Value
	if reporter, ok := o.frontier.(storeHealthReporter); ok {
		go o.watchStoreHealth(runCtx, reporter, cancelRun, &storeErr)
	}

	select {
	case <-done:
		o.saveCheckpoint()
		o.Close()
		if err, ok := storeErr.Load().(error); ok && err != nil {
			return err
		}
		return nil
	case <-runCtx.Done():
		if err, ok := storeErr.Load().(error); ok && err != nil {
			o.log.Error("halting crawl: shared store unreachable", logging.Err(err))
		} else {
			o.log.Info("shutdown requested, saving emergency checkpoint")
		}
		o.saveCheckpoint()
		o.scheduler.Stop()

		select {
		case <-done:
		case <-time.After(shutdownGrace):
			o.log.Warn("shutdown grace period elapsed with workers still active")
		}
		o.Close()

		if err, ok := storeErr.Load().(error); ok && err != nil {
			return err
		}
		return ctx.Err()
	}
}

// storeHealthReporter is implemented by frontier backends with a
// shared store that can fail independently of any single operation
// (currently only diststore.Store); LocalFrontier has no such store.
type storeHealthReporter interface {
	ConsecutiveStoreFailures() int
}

// maxConsecutiveStoreFailures is §7's store_error escalation
// threshold: three consecutive failures halt the crawl with exit 2.
const maxConsecutiveStoreFailures = 3

// watchStoreHealth polls reporter and cancels the run if the shared
// store has failed too many times in a row.
func (o *Orchestrator) watchStoreHealth(ctx context.Context, reporter storeHealthReporter, cancel context.CancelFunc, storeErr *atomic.Value) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reporter.ConsecutiveStoreFailures() >= maxConsecutiveStoreFailures {
				storeErr.Store(crawlerr.New(crawlerr.StoreError, "shared store unreachable after repeated failures", nil))
				cancel()
				return
			}
		}
	}
}

// tryResume restores frontier state from a checkpoint if one exists
// and is compatible with cfg; returns true if a resume occurred.
func (o *Orchestrator) tryResume() (bool, error) {
	if !o.checkpoint.Exists() {
		return false, nil
	}

	snap, _, err := o.checkpoint.Load(o.cfg)
	if err != nil {
		return false, fmt.Errorf("orchestrator: resume: %w", err)
	}
	if err := o.frontier.Restore(snap); err != nil {
		return false, fmt.Errorf("orchestrator: restore: %w", err)
	}
	for _, u := range snap.Visited {
		o.dedupChecker.CheckAndAdd(u)
	}
	o.log.Info("resumed from checkpoint", logging.String("path", o.cfg.CheckpointPath))
	return true, nil
}

func (o *Orchestrator) saveCheckpoint() {
	if o.cfg.CheckpointPath == "" {
		return
	}
	if err := o.checkpoint.Save(o.cfg, o.frontier.Snapshot()); err != nil {
		o.log.Error("checkpoint save failed", logging.Err(err))
	}
}

// onDiscovered is the scheduler's DiscoveredFunc: every link found
// while processing a page is run back through admission.
func (o *Orchestrator) onDiscovered(urls []string, parentURL string, depth int) {
	o.admitDiscovered(urls, parentURL, depth)
}

func (o *Orchestrator) admitDiscovered(urls []string, parentURL string, depth int) {
	ctx := context.Background()
	for _, u := range urls {
		// Bloom+exact pre-check ahead of the authoritative frontier
		// admit: skips a normalize+pipeline round trip for links already
		// seen verbatim, the heaviest win in distributed mode where
		// frontier.Admit is a store round trip.
		if !o.dedupChecker.CheckAndAdd(u) {
			continue
		}
		verdict := o.Plugins.FilterLink(ctx, u, parentURL, depth)
		if verdict.Veto {
			continue
		}
		ok, _ := o.admission.Admit(ctx, u, parentURL, depth, verdict.PriorityDelta)
		if !ok {
			continue
		}
		n := atomic.AddInt64(&o.admittedTotal, 1)
		if o.cfg.CheckpointInterval > 0 && n%int64(o.cfg.CheckpointInterval) == 0 {
			o.saveCheckpoint()
		}
	}
}

// worker is the scheduler.WorkerFunc: fetch, fall back to a headless
// render when the heuristic says the page needs JS, extract links,
// dedup content, and report back.
func (o *Orchestrator) worker(ctx context.Context, rec frontier.URLRecord) (*scheduler.CrawlResult, error) {
	if o.memMonitor != nil {
		if err := o.memMonitor.WaitForResume(ctx); err != nil {
			return nil, err
		}
	}

	mode := "http"
	resp := o.fetcher.FetchWithRetry(ctx, rec.URL)

	var body []byte
	statusCode := resp.StatusCode
	finalURL := resp.FinalURL

	if resp.Err == nil {
		body = resp.Body
	}

	if o.shouldRenderFallback(o.cfg, resp) {
		if rr, err := o.getRenderer(); err == nil {
			mode = "browser"
			rres := rr.Render(ctx, rec.URL)
			if o.metrics != nil {
				label := "unknown"
				switch {
				case rres.Err != nil:
					label = "render_error"
				case rres.StatusCode != 0:
					label = fmt.Sprintf("%d", rres.StatusCode)
				}
				o.metrics.RecordFetch(label, mode, rres.RenderTime.Seconds())
			}
			if rres.Err == nil {
				body = []byte(rres.HTML)
				statusCode = rres.StatusCode
				finalURL = rres.FinalURL
				resp.Err = nil
			}
		}
	} else if o.metrics != nil {
		o.metrics.RecordFetch(statusLabel(resp.StatusCode, resp.Err), mode, resp.ResponseTime.Seconds())
	}

	result := &scheduler.CrawlResult{
		StatusCode:    statusCode,
		ContentType:   resp.ContentType,
		ContentLength: resp.BodySize,
		ResponseTime:  resp.ResponseTime,
		FinalURL:      finalURL,
	}

	// A terminal failure (not retryable, or out of retries) is handed to
	// the export plugins too, so it reaches the failure log.
	if cerr := resp.Err; cerr != nil || statusCode >= 400 {
		if cerr == nil {
			cerr = crawlerr.FromHTTPStatus(statusCode)
		}
		if cerr != nil && (!cerr.Retryable() || rec.RetryCount >= o.cfg.MaxRetries) {
			errs := o.Plugins.Export(ctx, pluginapi.ExportResult{URL: finalURL, Depth: rec.Depth, StatusCode: statusCode, Response: resp, Err: cerr})
			for _, e := range errs {
				if o.log != nil {
					o.log.Warn("export plugin failed", logging.Err(e))
				}
			}
		}
	}

	if resp.Err != nil {
		result.Err = resp.Err
		result.Retryable = resp.Err.Retryable()
		return result, nil
	}
	if statusCode >= 400 {
		cerr := crawlerr.FromHTTPStatus(statusCode)
		result.Err = cerr
		result.Retryable = cerr != nil && cerr.Retryable()
		return result, nil
	}

	page, err := linkextract.Extract(finalURL, body)
	if err != nil {
		result.Err = crawlerr.New(crawlerr.ParseError, "link extraction failed", err)
		return result, nil
	}

	isDup := o.dedupAgainstIndex(finalURL, page)
	if o.admission != nil {
		o.admission.Detector().ObserveContent(finalURL, isDup)
	}
	if isDup {
		// §4.5: an exact content match skips downstream processing
		// entirely (no discovered-link propagation, no export) once
		// the alias relationship has been recorded.
		return result, nil
	}

	directives := robots.PageDirectives{Indexable: true, Followable: true}
	if o.robotsC != nil {
		directives = robots.CombinePageDirectives(page.MetaRobots, resp.Headers.Values("X-Robots-Tag"), o.robotsC.UserAgent())
	}

	var discovered []string
	if directives.Followable {
		for _, link := range page.Links {
			if link.NoFollow && o.cfg.RespectNofollow {
				continue
			}
			discovered = append(discovered, link.URL)
		}
	}
	result.DiscoveredURLs = discovered

	if !directives.Indexable {
		return result, nil
	}

	if errs := o.Plugins.Export(ctx, pluginapi.ExportResult{
		URL:        finalURL,
		Depth:      rec.Depth,
		StatusCode: statusCode,
		Response:   resp,
	}); len(errs) > 0 && o.log != nil {
		for _, e := range errs {
			o.log.Warn("export plugin failed", logging.Err(e))
		}
	}

	return result, nil
}

// dedupAgainstIndex runs the content-dedup tiers over a fetched page.
// An exact SHA-256 match records pageURL as an alias of whichever URL
// first produced that body and reports true, telling the caller to
// skip downstream processing per §4.5. A near-duplicate SimHash match
// is reported to telemetry only; it does not block processing.
func (o *Orchestrator) dedupAgainstIndex(pageURL string, page *linkextract.Page) bool {
	fp := contentdedup.ExactFingerprint([]byte(page.TextContent))

	o.exactMu.Lock()
	canonical, dup := o.exactBodies[fp]
	if !dup {
		o.exactBodies[fp] = pageURL
	} else {
		o.aliases[pageURL] = canonical
	}
	o.exactMu.Unlock()

	if dup {
		if o.metrics != nil {
			o.metrics.RecordDuplicate("exact")
		}
		if o.log != nil {
			o.log.Debug("exact content duplicate", logging.String("url", pageURL), logging.String("alias_of", canonical))
		}
		return true
	}

	h := contentdedup.SimHash(page.TextContent)
	if near := o.simIndex.FindNearDuplicates(h); len(near) > 0 {
		if o.metrics != nil {
			o.metrics.RecordDuplicate("simhash")
		}
	}
	o.simIndex.Add(pageURL, h)
	return false
}

// Aliases returns a snapshot of duplicate URL -> canonical URL exact
// content-match pairs recorded so far.
func (o *Orchestrator) Aliases() map[string]string {
	o.exactMu.Lock()
	defer o.exactMu.Unlock()
	out := make(map[string]string, len(o.aliases))
	for k, v := range o.aliases {
		out[k] = v
	}
	return out
}

// shouldRenderFallback implements the adaptive render heuristic of
// §4.4: a page is rendered in a headless browser when its static body
// looks too small to be the real content, carries too few outbound
// links, or matches a known SPA shell marker. A matching site rule with
// UseBrowserDirectly set selects the browser before any other check.
func (o *Orchestrator) shouldRenderFallback(cfg *config.CrawlConfig, resp *fetcher.Response) bool {
	if cfg.MatchSiteRule(resp.RequestURL).UseBrowserDirectly {
		return true
	}
	if cfg.RenderMode == config.RenderHTML {
		return false
	}
	if cfg.RenderMode == config.RenderBrowser {
		return true
	}
	if resp.Err != nil || !resp.IsSuccess() {
		return false
	}
	if len(resp.Body) < minBodyForNoFallback {
		return true
	}

	page, err := linkextract.Extract(resp.FinalURL, resp.Body)
	if err == nil && len(page.Links) < minOutboundLinksForNoFallback {
		return true
	}

	bodyStr := string(resp.Body)
	for _, marker := range spaMarkers {
		if strings.Contains(bodyStr, marker) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) getRenderer() (*renderer.Renderer, error) {
	o.renderOnce.Do(func() {
		o.render, o.renderErr = renderer.NewRenderer(o.cfg)
	})
	return o.render, o.renderErr
}

// Close releases every resource the orchestrator opened: the fetcher's
// idle connections, a lazily-started renderer, the memory monitor, and
// a distributed frontier's Redis client.
func (o *Orchestrator) Close() {
	o.fetcher.Close()
	if o.render != nil {
		o.render.Close()
	}
	if o.memMonitor != nil {
		o.memMonitor.Stop()
	}
	if o.redisClient != nil {
		o.redisClient.Close()
	}
}

// Stats reports current frontier and scheduler counters.
func (o *Orchestrator) Stats() (frontier.Stats, scheduler.Stats) {
	return o.frontier.Stats(), o.scheduler.Stats()
}

func statusLabel(statusCode int, err *crawlerr.Error) string {
	if err != nil {
		return string(err.Kind)
	}
	if statusCode == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d", statusCode)
}

