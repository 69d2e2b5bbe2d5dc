package robots

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

// FetchFunc retrieves a URL's body and status code, decoupling Cache
// from any particular HTTP client implementation.
type FetchFunc func(ctx context.Context, rawURL string) (body []byte, status int, err error)

// Cache lazily fetches and parses each host's robots.txt once, then
// serves IsAllowed/GetCrawlDelay from memory for ttl before refetching.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	fetch     FetchFunc
	userAgent string
	ttl       time.Duration
}

type entry struct {
	robots    *Txt
	fetchedAt time.Time
}

// NewCache creates a Cache. ttl default is 24h if zero.
func NewCache(fetch FetchFunc, userAgent string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{
		entries:   make(map[string]*entry),
		fetch:     fetch,
		userAgent: userAgent,
		ttl:       ttl,
	}
}

// Allowed reports whether rawURL may be fetched per its host's
// robots.txt. A fetch/parse failure is treated as allowed (the common
// crawler convention: missing or unreachable robots.txt imposes no
// restriction).
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}

	rt := c.robotsFor(ctx, u)
	if rt == nil {
		return true
	}
	return rt.IsAllowed(c.userAgent, ExtractPathFromURL(rawURL))
}

// CrawlDelay returns the robots.txt crawl-delay hint for host, or 0 if
// none is set.
func (c *Cache) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	rt := c.robotsFor(ctx, u)
	if rt == nil {
		return 0
	}
	return rt.GetCrawlDelay(c.userAgent)
}

// CrawlDelayForHost is CrawlDelay keyed by bare host rather than a full
// URL, for callers (such as the scheduler) that only track hosts.
func (c *Cache) CrawlDelayForHost(ctx context.Context, host string) time.Duration {
	return c.CrawlDelay(ctx, "https://"+host+"/")
}

// UserAgent returns the agent string this Cache matches robots.txt
// rules against, so callers combining meta-robots/X-Robots-Tag
// directives (CombinePageDirectives) use the same identity.
func (c *Cache) UserAgent() string {
	return c.userAgent
}

func (c *Cache) robotsFor(ctx context.Context, u *url.URL) *Txt {
	host := strings.ToLower(u.Host)

	c.mu.RLock()
	e, ok := c.entries[host]
	c.mu.RUnlock()

	if ok && time.Since(e.fetchedAt) < c.ttl {
		return e.robots
	}

	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	body, status, err := c.fetch(ctx, robotsURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil || status >= 400 {
		c.entries[host] = &entry{robots: nil, fetchedAt: time.Now()}
		return nil
	}

	rt := Parse(string(body))
	c.entries[host] = &entry{robots: rt, fetchedAt: time.Now()}
	return rt
}
