// Package admission implements the URL admission pipeline: the
// ordered checks every discovered link passes (or fails) before it
// reaches the frontier.
package admission

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/deepharvest/crawler/internal/backpressure"
	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/frontier"
	"github.com/deepharvest/crawler/internal/logging"
	"github.com/deepharvest/crawler/internal/robots"
	"github.com/deepharvest/crawler/internal/telemetry"
	"github.com/deepharvest/crawler/internal/trap"
	"github.com/deepharvest/crawler/internal/urlutil"
)

// Reason names why a URL was dropped, for logging and metrics.
type Reason string

const (
	ReasonOK               Reason = ""
	ReasonBadScheme        Reason = "bad_scheme"
	ReasonDomainNotAllowed Reason = "domain_not_allowed"
	ReasonMaxDepth         Reason = "max_depth"
	ReasonMaxURLs          Reason = "max_urls"
	ReasonDuplicate        Reason = "duplicate"
	ReasonTrapBlocked      Reason = "trap_blocked"
	ReasonRobotsDisallowed Reason = "robots_disallowed"
	ReasonSoftCapDropped   Reason = "soft_cap_dropped"
)

// Pipeline runs the admission checks of §4.1 in order and, on success,
// admits the URL into a Frontier.
type Pipeline struct {
	cfg          *config.CrawlConfig
	normalizer   *urlutil.Normalizer
	detector     *trap.Detector
	robots       *robots.Cache
	backpressure *backpressure.Controller
	frontier     frontier.Frontier
	metrics      *telemetry.Metrics
	log          logging.Logger

	admittedCount int
}

// WithMetrics attaches a Metrics sink; every subsequent Admit call
// records admitted/dropped/trap counters against it. Optional.
func (p *Pipeline) WithMetrics(m *telemetry.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// NewPipeline wires together the normalizer, trap detector and target
// frontier for one crawl session. robotsCache may be nil, in which case
// the robots.txt check is skipped regardless of cfg.RespectRobotsTxt.
func NewPipeline(cfg *config.CrawlConfig, detector *trap.Detector, robotsCache *robots.Cache, f frontier.Frontier, log logging.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		normalizer: urlutil.DefaultNormalizer(cfg.IgnoreQueryParams),
		detector:   detector,
		robots:     robotsCache,
		backpressure: backpressure.NewController(&backpressure.Config{
			SoftCap:              cfg.FrontierSoftCap,
			LowPriorityThreshold: 0,
		}),
		frontier: f,
		log:      log,
	}
}

// Backpressure returns the pipeline's soft-cap controller, so callers
// (the scheduler, telemetry) can read its Stats.
func (p *Pipeline) Backpressure() *backpressure.Controller {
	return p.backpressure
}

// Detector returns the pipeline's trap detector, so the orchestrator
// can feed fetched-page outcomes back into it (the pagination trap's
// no-new-content streak needs this; see trap.Detector.ObserveContent).
func (p *Pipeline) Detector() *trap.Detector {
	return p.detector
}

// Admit runs rawURL through the admission pipeline. parentURL and
// depth describe where it was discovered; classifierScore feeds the
// priority strategy when config.StrategyPriority is selected.
func (p *Pipeline) Admit(ctx context.Context, rawURL, parentURL string, depth int, classifierScore float64) (bool, Reason) {
	normalized, err := p.normalizer.Normalize(rawURL)
	if err != nil {
		return false, ReasonBadScheme
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return false, ReasonBadScheme
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		p.drop(normalized, ReasonBadScheme)
		return false, ReasonBadScheme
	}

	host := strings.ToLower(u.Hostname())
	if !p.cfg.IsDomainAllowed(host) {
		p.drop(normalized, ReasonDomainNotAllowed)
		return false, ReasonDomainNotAllowed
	}

	if p.cfg.RespectRobotsTxt && p.robots != nil && !p.robots.Allowed(ctx, normalized) {
		p.drop(normalized, ReasonRobotsDisallowed)
		return false, ReasonRobotsDisallowed
	}

	if p.cfg.MaxDepth > 0 && depth > p.cfg.MaxDepth {
		p.drop(normalized, ReasonMaxDepth)
		return false, ReasonMaxDepth
	}

	if p.cfg.MaxURLs > 0 && p.admittedCount >= p.cfg.MaxURLs {
		p.drop(normalized, ReasonMaxURLs)
		return false, ReasonMaxURLs
	}

	var verdict trap.Verdict
	if p.cfg.TrapDetectionEnabled {
		verdict = p.detector.Check(normalized, depth)
	}
	if verdict.Block {
		p.drop(normalized, ReasonTrapBlocked)
		if p.metrics != nil && verdict.Reason != "" {
			p.metrics.RecordTrap(verdict.Reason)
		}
		return false, ReasonTrapBlocked
	}

	priority := frontier.PriorityFor(p.cfg.Strategy, depth, classifierScore)
	if verdict.Deprioritize {
		priority /= 2
	}

	p.backpressure.SetFrontierSize(int64(p.frontier.Size()))
	if p.backpressure.ShouldDrop(priority) {
		p.backpressure.RecordDrop()
		p.drop(normalized, ReasonSoftCapDropped)
		return false, ReasonSoftCapDropped
	}
	p.backpressure.RecordAdmit()

	rec := frontier.URLRecord{
		URL:       normalized,
		Host:      host,
		Depth:     depth,
		Priority:  priority,
		ParentURL: parentURL,
	}

	if !p.frontier.Admit(rec) {
		p.drop(normalized, ReasonDuplicate)
		if p.metrics != nil {
			p.metrics.RecordDuplicate("url")
		}
		return false, ReasonDuplicate
	}

	p.admittedCount++
	if p.metrics != nil {
		p.metrics.RecordAdmitted()
	}
	return true, ReasonOK
}

func (p *Pipeline) drop(normalized string, reason Reason) {
	if p.log != nil {
		p.log.Debug(fmt.Sprintf("dropped %s: %s", normalized, reason))
	}
	if p.metrics != nil {
		p.metrics.RecordDropped(string(reason))
	}
}
