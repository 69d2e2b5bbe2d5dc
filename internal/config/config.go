// Package config defines crawl configuration, already parsed into Go
// values (loading from YAML/flags is an external collaborator's job).
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Strategy selects how the frontier orders pending URLs.
type Strategy string

const (
	StrategyBFS      Strategy = "bfs"
	StrategyDFS      Strategy = "dfs"
	StrategyPriority Strategy = "priority"
)

// DomainPolicyKind selects how AllowedDomains entries are matched.
type DomainPolicyKind string

const (
	DomainExact  DomainPolicyKind = "exact"
	DomainSuffix DomainPolicyKind = "suffix"
	DomainRegex  DomainPolicyKind = "regex"
)

// DomainPolicy is one allowed-domains rule.
type DomainPolicy struct {
	Kind    DomainPolicyKind `json:"kind"`
	Pattern string           `json:"pattern"`

	compiled *regexp.Regexp
}

// RenderMode selects how pages are rendered.
type RenderMode string

const (
	RenderHTML     RenderMode = "html"
	RenderBrowser  RenderMode = "browser"
	RenderAdaptive RenderMode = "adaptive"
)

// WaitCondition defines when a browser render is considered settled.
type WaitCondition string

const (
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitLoad             WaitCondition = "load"
	WaitNetworkIdle      WaitCondition = "networkidle"
)

// SiteRule matches URLs against a regex and, on match, overrides
// fetch/render behavior for them. Rules are matched highest-priority
// first; a default rule at priority 0 always exists.
type SiteRule struct {
	Pattern            string            `json:"pattern"`
	Priority           int               `json:"priority"`
	UseBrowserDirectly bool              `json:"use_browser_directly"`
	RequireJS          bool              `json:"require_js"`
	UserAgent          string            `json:"user_agent,omitempty"`
	CustomHeaders      map[string]string `json:"custom_headers,omitempty"`

	compiled *regexp.Regexp
}

// CrawlConfig holds everything the crawl core needs to run, already
// validated and compiled.
type CrawlConfig struct {
	// === Seeds & strategy ===
	Seeds     []string `json:"seeds"`
	Strategy  Strategy `json:"strategy"`
	UserAgent string   `json:"user_agent"`

	// === Scope ===
	AllowedDomains    []DomainPolicy `json:"allowed_domains"`
	IncludeSubdomains bool           `json:"include_subdomains"`

	// === Limits ===
	MaxDepth      int           `json:"max_depth"`       // 0 = unlimited
	MaxURLs       int           `json:"max_urls"`        // 0 = unlimited
	CrawlDuration time.Duration `json:"crawl_duration"`  // 0 = unlimited
	MaxBodyBytes  int64         `json:"max_body_bytes"`  // body cap before disk spill

	// === Concurrency & politeness ===
	ConcurrencyGlobal int           `json:"concurrency_global"` // C_global
	ConcurrencyHost   int           `json:"concurrency_host"`   // C_host, default 2
	CrawlDelay        time.Duration `json:"crawl_delay"`        // minimum inter-request gap per host
	RequestTimeout    time.Duration `json:"request_timeout"`
	MaxRetries        int           `json:"max_retries"`
	RetryBaseDelay    time.Duration `json:"retry_base_delay"`

	// === Redirects ===
	MaxRedirects int `json:"max_redirects"`

	// === Rendering ===
	RenderMode           RenderMode    `json:"render_mode"`
	RenderTimeout        time.Duration `json:"render_timeout"`
	WaitCondition        WaitCondition `json:"wait_condition"`
	WaitForJSMs          int           `json:"wait_for_js_ms"`
	ChromiumPath         string        `json:"chromium_path,omitempty"`
	HandleInfiniteScroll bool          `json:"handle_infinite_scroll"`

	// === Robots & link policy ===
	RespectRobotsTxt bool `json:"respect_robots_txt"`
	RespectNofollow  bool `json:"respect_nofollow"`
	CrawlSitemapURLs bool `json:"crawl_sitemap_urls"`

	// === URL normalization ===
	IgnoreQueryParams   []string `json:"ignore_query_params"`
	SortQueryParams     bool     `json:"sort_query_params"`
	RemoveTrailingSlash bool     `json:"remove_trailing_slash"`
	LowercaseHostOnly   bool     `json:"lowercase_host_only"`

	// === Site rules ===
	SiteRules []SiteRule `json:"site_rules"`

	// === Trap detector ===
	TrapDetectionEnabled    bool    `json:"trap_detection_enabled"`
	CalendarTrapMaxDepth    int     `json:"calendar_trap_max_depth"`
	SessionIDEntropyBits    float64 `json:"session_id_entropy_bits"`
	PaginationTrapCap       int     `json:"pagination_trap_cap"`
	ParamExplosionThreshold int     `json:"param_explosion_threshold"`

	// CalendarWindowStart/End exempt calendar-trap URLs whose date
	// falls inside the window even beyond CalendarTrapMaxDepth. Zero
	// value on either end means no exemption window is configured.
	CalendarWindowStart time.Time `json:"calendar_window_start,omitempty"`
	CalendarWindowEnd   time.Time `json:"calendar_window_end,omitempty"`

	// PaginationNoNewContentWindow is K in the pagination trap's
	// "value exceeds cap AND no new content observed on last K pages"
	// rule.
	PaginationNoNewContentWindow int `json:"pagination_no_new_content_window"`

	// === Checkpoint / distributed ===
	CheckpointInterval int    `json:"checkpoint_interval"` // admitted URLs between snapshots
	CheckpointPath     string `json:"checkpoint_path,omitempty"`
	Distributed        bool   `json:"distributed"`
	RedisURL           string `json:"redis_url,omitempty"`
	FrontierShards     int    `json:"frontier_shards"`
	LeaseTimeout       time.Duration `json:"lease_timeout"`

	// === Backpressure ===
	FrontierSoftCap int64 `json:"frontier_soft_cap"`

	compiledDomains []DomainPolicy
	compiledRules   []SiteRule
}

// DefaultConfig returns sane defaults matching the spec's stated
// defaults (C_host=2, crawl delay 1s, max_retries=3, lease 120s,
// checkpoint every 100 admitted URLs, etc).
func DefaultConfig() *CrawlConfig {
	return &CrawlConfig{
		Strategy:  StrategyBFS,
		UserAgent: "deepharvest-crawler/1.0 (+https://github.com/deepharvest/crawler)",

		IncludeSubdomains: true,

		MaxDepth:      0,
		MaxURLs:       0,
		CrawlDuration: 0,
		MaxBodyBytes:  10 * 1024 * 1024,

		ConcurrencyGlobal: 32,
		ConcurrencyHost:   2,
		CrawlDelay:        time.Second,
		RequestTimeout:    30 * time.Second,
		MaxRetries:        3,
		RetryBaseDelay:    time.Second,

		MaxRedirects: 10,

		RenderMode:    RenderHTML,
		RenderTimeout: 30 * time.Second,
		WaitCondition: WaitNetworkIdle,
		WaitForJSMs:   2000,

		RespectRobotsTxt: true,
		RespectNofollow:  true,
		CrawlSitemapURLs: false,

		IgnoreQueryParams: []string{
			"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
			"gclid", "fbclid", "msclkid", "ref",
		},
		SortQueryParams:     true,
		RemoveTrailingSlash: true,

		SiteRules: []SiteRule{
			{Pattern: ".*", Priority: 0},
		},

		TrapDetectionEnabled:         true,
		CalendarTrapMaxDepth:         2,
		SessionIDEntropyBits:         4.0,
		PaginationTrapCap:            50,
		ParamExplosionThreshold:      200,
		PaginationNoNewContentWindow: 3,

		CheckpointInterval: 100,
		FrontierShards:     16,
		LeaseTimeout:       120 * time.Second,

		FrontierSoftCap: 500_000,
	}
}

// Validate clamps invalid numeric fields to safe floors and compiles
// regex-backed fields (domain policies, site rules). It must be called
// before the config is used.
func (c *CrawlConfig) Validate() error {
	if c.ConcurrencyGlobal < 1 {
		c.ConcurrencyGlobal = 1
	}
	if c.ConcurrencyHost < 1 {
		c.ConcurrencyHost = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RequestTimeout < time.Second {
		c.RequestTimeout = time.Second
	}
	if c.MaxRedirects < 0 {
		c.MaxRedirects = 0
	}
	if c.RenderTimeout < time.Second {
		c.RenderTimeout = time.Second
	}
	if c.FrontierShards < 1 {
		c.FrontierShards = 1
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 120 * time.Second
	}
	if c.FrontierSoftCap <= 0 {
		c.FrontierSoftCap = 500_000
	}

	hasDefault := false
	for _, r := range c.SiteRules {
		if r.Priority == 0 {
			hasDefault = true
		}
	}
	if !hasDefault {
		c.SiteRules = append(c.SiteRules, SiteRule{Pattern: ".*", Priority: 0})
	}

	if err := c.compile(); err != nil {
		return err
	}

	return nil
}

func (c *CrawlConfig) compile() error {
	c.compiledDomains = make([]DomainPolicy, len(c.AllowedDomains))
	for i, d := range c.AllowedDomains {
		if d.Kind == DomainRegex {
			re, err := regexp.Compile(d.Pattern)
			if err != nil {
				return fmt.Errorf("invalid allowed-domain regex %q: %w", d.Pattern, err)
			}
			d.compiled = re
		}
		c.compiledDomains[i] = d
	}

	rules := make([]SiteRule, len(c.SiteRules))
	copy(rules, c.SiteRules)
	for i := range rules {
		re, err := regexp.Compile(rules[i].Pattern)
		if err != nil {
			return fmt.Errorf("invalid site rule pattern %q: %w", rules[i].Pattern, err)
		}
		rules[i].compiled = re
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	c.compiledRules = rules

	return nil
}

// MatchSiteRule returns the highest-priority SiteRule whose pattern
// matches rawURL; the default rule (priority 0, pattern ".*") always
// matches as a fallback.
func (c *CrawlConfig) MatchSiteRule(rawURL string) SiteRule {
	for _, r := range c.compiledRules {
		if r.compiled != nil && r.compiled.MatchString(rawURL) {
			return r
		}
	}
	return SiteRule{Pattern: ".*", Priority: 0}
}

// IsDomainAllowed reports whether host passes the allowed-domains
// policy. An empty policy list allows every host.
func (c *CrawlConfig) IsDomainAllowed(host string) bool {
	if len(c.compiledDomains) == 0 {
		return true
	}
	for _, d := range c.compiledDomains {
		switch d.Kind {
		case DomainExact:
			if host == d.Pattern {
				return true
			}
		case DomainSuffix:
			if host == d.Pattern || (len(host) > len(d.Pattern) && host[len(host)-len(d.Pattern)-1:] == "."+d.Pattern) {
				return true
			}
		case DomainRegex:
			if d.compiled != nil && d.compiled.MatchString(host) {
				return true
			}
		}
	}
	return false
}

// Digest returns a stable hash over the compatibility-relevant subset
// of the config: the allow-list and normalization rules. Checkpoint
// restore compares digests to decide whether a saved frontier is safe
// to resume against the current config (§4.7's "host allow-list and
// normalization rules must match" rule).
func (c *CrawlConfig) Digest() string {
	type digestShape struct {
		AllowedDomains      []DomainPolicy
		IncludeSubdomains   bool
		IgnoreQueryParams   []string
		SortQueryParams     bool
		RemoveTrailingSlash bool
		LowercaseHostOnly   bool
	}

	sortedParams := make([]string, len(c.IgnoreQueryParams))
	copy(sortedParams, c.IgnoreQueryParams)
	sort.Strings(sortedParams)

	shape := digestShape{
		AllowedDomains:      c.AllowedDomains,
		IncludeSubdomains:   c.IncludeSubdomains,
		IgnoreQueryParams:   sortedParams,
		SortQueryParams:     c.SortQueryParams,
		RemoveTrailingSlash: c.RemoveTrailingSlash,
		LowercaseHostOnly:   c.LowercaseHostOnly,
	}

	data, _ := json.Marshal(shape)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy safe for independent mutation.
func (c *CrawlConfig) Clone() *CrawlConfig {
	clone := *c

	clone.Seeds = append([]string(nil), c.Seeds...)
	clone.AllowedDomains = append([]DomainPolicy(nil), c.AllowedDomains...)
	clone.IgnoreQueryParams = append([]string(nil), c.IgnoreQueryParams...)
	clone.SiteRules = append([]SiteRule(nil), c.SiteRules...)
	clone.compiledDomains = nil
	clone.compiledRules = nil

	return &clone
}
