// Package fetcher performs HTTP fetches: redirect walking with
// per-hop policy re-checks, encoding detection, body capping with
// disk spill, and retry/backoff with jitter.
package fetcher

import (
	"net/http"
	"time"

	"github.com/deepharvest/crawler/internal/crawlerr"
)

// Response is the result of fetching a URL: a Fetch Result per the
// data model, with exactly one of Body or Err populated on return.
type Response struct {
	RequestURL string
	FinalURL   string

	StatusCode int
	Status     string
	Headers    http.Header

	ContentType string
	Encoding    string

	ContentLength int64
	BodySize      int64
	Body          []byte
	Spilled       bool
	SpillKey      string

	RedirectChain []RedirectHop

	TTFB         time.Duration
	ResponseTime time.Duration

	TLSInfo *TLSInfo

	Attempt int
	Err     *crawlerr.Error
}

// RedirectHop is one hop in a followed redirect chain.
type RedirectHop struct {
	URL        string
	StatusCode int
	Location   string
}

// TLSInfo carries certificate details observed during the TLS
// handshake, per SPEC_FULL.md's TLS introspection addition.
type TLSInfo struct {
	Version     string
	CipherSuite string
	ServerName  string
	Issuer      string
	Subject     string
	NotBefore   time.Time
	NotAfter    time.Time
	IsValid     bool
	Error       string
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// IsRedirect reports a 3xx status.
func (r *Response) IsRedirect() bool { return r.StatusCode >= 300 && r.StatusCode < 400 }

// IsClientError reports a 4xx status.
func (r *Response) IsClientError() bool { return r.StatusCode >= 400 && r.StatusCode < 500 }

// IsServerError reports a 5xx status.
func (r *Response) IsServerError() bool { return r.StatusCode >= 500 && r.StatusCode < 600 }

// HasRedirects reports whether any redirect hop was followed.
func (r *Response) HasRedirects() bool { return len(r.RedirectChain) > 0 }

// RedirectCount returns the number of redirect hops followed.
func (r *Response) RedirectCount() int { return len(r.RedirectChain) }

// GetHeader returns a header value, case-insensitive.
func (r *Response) GetHeader(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// IsHTML reports whether the content type is HTML.
func (r *Response) IsHTML() bool {
	return len(r.ContentType) >= 9 && r.ContentType[:9] == "text/html"
}
