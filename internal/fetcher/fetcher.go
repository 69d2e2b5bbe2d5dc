package fetcher

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/deepharvest/crawler/internal/bodycache"
	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/crawlerr"
	"github.com/deepharvest/crawler/internal/logging"
)

// Fetcher performs HTTP fetches in http mode (the browser mode lives
// in internal/renderer; the orchestrator picks between them per §4.4's
// selection order).
type Fetcher struct {
	cfg       *config.CrawlConfig
	client    *http.Client
	transport *http.Transport
	cache     *bodycache.DiskCache
	log       logging.Logger
}

// NewFetcher builds a Fetcher. cache may be nil to disable body spill.
func NewFetcher(cfg *config.CrawlConfig, cache *bodycache.DiskCache, log logging.Logger) *Fetcher {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{},
	}

	return &Fetcher{
		cfg:       cfg,
		transport: transport,
		cache:     cache,
		log:       log,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// FetchWithRetry fetches rawURL, retrying retryable failures up to
// cfg.MaxRetries times with exponential backoff and jitter, honoring
// Retry-After on 429/503.
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) *Response {
	var resp *Response

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		resp = f.Fetch(ctx, rawURL)
		resp.Attempt = attempt

		if !f.needsRetry(resp) || attempt == f.cfg.MaxRetries {
			return resp
		}

		delay := f.retryAfter(resp)
		if delay == 0 {
			delay = backoffDelay(f.cfg.RetryBaseDelay, attempt)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			resp.Body = nil
			resp.Err = crawlerr.New(crawlerr.Cancelled, "context cancelled during retry wait", ctx.Err())
			return resp
		case <-timer.C:
		}
	}

	return resp
}

func (f *Fetcher) needsRetry(resp *Response) bool {
	if resp.Err != nil {
		return resp.Err.Retryable()
	}
	if status := crawlerr.FromHTTPStatus(resp.StatusCode); status != nil {
		return status.Retryable()
	}
	return false
}

// retryAfter honors a Retry-After response header (seconds or HTTP
// date) on 429/503, returning 0 if absent or unusable.
func (f *Fetcher) retryAfter(resp *Response) time.Duration {
	if resp.StatusCode != 429 && resp.StatusCode != 503 {
		return 0
	}
	v := resp.GetHeader("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoffDelay computes delay = base * 2^attempt * uniform(0.5, 1.5),
// capped at 30s.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	const maxDelay = 30 * time.Second
	mult := 1 << uint(attempt)
	jitter := 0.5 + rand.Float64()
	delay := time.Duration(float64(base) * float64(mult) * jitter)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// Fetch performs a single fetch attempt, following redirects up to
// cfg.MaxRedirects and re-checking the domain admission policy at
// every hop (the cheap, synchronous slice of admission — full
// depth/trap checks apply to newly discovered links via the admission
// pipeline, not to a transparent redirect inside one fetch).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *Response {
	start := time.Now()
	resp := &Response{RequestURL: rawURL}

	currentURL := rawURL
	var ttfbRecorded bool

	for hop := 0; hop <= f.cfg.MaxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
		if err != nil {
			resp.Err = crawlerr.New(crawlerr.NetworkPermanent, "invalid request", err)
			resp.FinalURL = currentURL
			return resp
		}
		f.setRequestHeaders(req)

		reqStart := time.Now()
		httpResp, err := f.client.Do(req)
		if err != nil {
			resp.Err = crawlerr.FromNetError(err)
			resp.FinalURL = currentURL
			resp.ResponseTime = time.Since(start)
			return resp
		}
		if !ttfbRecorded {
			resp.TTFB = time.Since(reqStart)
			ttfbRecorded = true
		}

		if httpResp.StatusCode >= 300 && httpResp.StatusCode < 400 {
			location := httpResp.Header.Get("Location")
			httpResp.Body.Close()

			resp.RedirectChain = append(resp.RedirectChain, RedirectHop{
				URL: currentURL, StatusCode: httpResp.StatusCode, Location: location,
			})

			if location == "" {
				resp.FinalURL = currentURL
				resp.StatusCode = httpResp.StatusCode
				resp.ResponseTime = time.Since(start)
				return resp
			}

			nextURL, err := resolveRedirect(currentURL, location)
			if err != nil {
				resp.Err = crawlerr.New(crawlerr.ParseError, "invalid redirect location", err)
				resp.FinalURL = currentURL
				return resp
			}

			if !f.hopAllowed(nextURL) {
				resp.Err = crawlerr.New(crawlerr.DisallowedByPolicy, "redirect target disallowed by domain policy", nil)
				resp.FinalURL = currentURL
				resp.StatusCode = httpResp.StatusCode
				return resp
			}

			currentURL = nextURL
			continue
		}

		resp.FinalURL = currentURL
		resp.StatusCode = httpResp.StatusCode
		resp.Status = httpResp.Status
		resp.Headers = httpResp.Header
		resp.ContentType = contentTypeOnly(httpResp.Header.Get("Content-Type"))
		resp.ContentLength = httpResp.ContentLength

		if httpResp.TLS != nil {
			resp.TLSInfo = extractTLSInfo(httpResp.TLS)
		}

		body, size, encoding, spilled, spillKey, err := f.readBody(httpResp, currentURL, httpResp.Header.Get("Content-Type"))
		httpResp.Body.Close()

		if err != nil {
			resp.Err = crawlerr.New(crawlerr.NetworkTransient, "failed reading body", err)
		} else {
			resp.Body = body
			resp.BodySize = size
			resp.Encoding = encoding
			resp.Spilled = spilled
			resp.SpillKey = spillKey
		}

		resp.ResponseTime = time.Since(start)
		return resp
	}

	resp.Err = crawlerr.New(crawlerr.NetworkPermanent, fmt.Sprintf("max redirects (%d) exceeded", f.cfg.MaxRedirects), nil)
	resp.FinalURL = currentURL
	resp.ResponseTime = time.Since(start)
	return resp
}

func (f *Fetcher) hopAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return f.cfg.IsDomainAllowed(strings.ToLower(u.Hostname()))
}

func (f *Fetcher) setRequestHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Connection", "keep-alive")
}

// readBody reads the body, capping in-memory retention at
// cfg.MaxBodyBytes and spilling the full content to disk when the cap
// is hit. It also detects the text encoding following the HTML5
// algorithm (BOM, then Content-Type charset, then a <meta> prescan,
// then statistical detection) via golang.org/x/net/html/charset.
func (f *Fetcher) readBody(httpResp *http.Response, sourceURL, contentType string) (body []byte, size int64, encoding string, spilled bool, spillKey string, err error) {
	var reader io.ReadCloser = httpResp.Body
	if httpResp.Header.Get("Content-Encoding") == "gzip" {
		gz, gzErr := gzip.NewReader(httpResp.Body)
		if gzErr != nil {
			return nil, 0, "", false, "", fmt.Errorf("gzip decode: %w", gzErr)
		}
		defer gz.Close()
		reader = struct {
			io.Reader
			io.Closer
		}{gz, httpResp.Body}
	}

	// Bound the total read regardless of the in-memory retention cap:
	// the spill cache itself still needs a ceiling against a server
	// that never stops sending.
	hardCeiling := f.cfg.MaxBodyBytes * 8
	if hardCeiling <= 0 {
		hardCeiling = f.cfg.MaxBodyBytes
	}

	spill := bodycache.NewSpillReader(reader, f.cfg.MaxBodyBytes)
	full, readErr := io.ReadAll(io.LimitReader(spill, hardCeiling))
	if readErr != nil {
		return nil, 0, "", false, "", readErr
	}

	body = spill.Bytes()
	size = spill.Size()

	if spill.Truncated() && f.cache != nil {
		spillKey = sourceURL
		if setErr := f.cache.Set(spillKey, full); setErr != nil && f.log != nil {
			f.log.Warn("body spill failed", logging.String("url", sourceURL), logging.Err(setErr))
		} else {
			spilled = true
		}
	}

	encoding = detectEncoding(body, contentType)
	return body, size, encoding, spilled, spillKey, nil
}

// detectEncoding runs the full BOM -> header -> meta -> statistical
// fallback chain in one call (charset.DetermineEncoding implements
// the HTML5 encoding-sniffing algorithm end to end).
func detectEncoding(body []byte, contentType string) string {
	_, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "" {
		return "utf-8"
	}
	return name
}

// SetInsecureSkipVerify disables certificate verification, for
// diagnostics against self-signed test targets only.
func (f *Fetcher) SetInsecureSkipVerify(skip bool) {
	f.transport.TLSClientConfig.InsecureSkipVerify = skip
}

// Close releases pooled connections.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

func resolveRedirect(baseURL, location string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(loc).String(), nil
}

func contentTypeOnly(v string) string {
	if idx := strings.Index(v, ";"); idx != -1 {
		return strings.TrimSpace(v[:idx])
	}
	return strings.TrimSpace(v)
}

func extractTLSInfo(state *tls.ConnectionState) *TLSInfo {
	info := &TLSInfo{
		Version:     tlsVersionString(state.Version),
		CipherSuite: tls.CipherSuiteName(state.CipherSuite),
		ServerName:  state.ServerName,
		IsValid:     true,
	}

	if len(state.PeerCertificates) > 0 {
		cert := state.PeerCertificates[0]
		info.Subject = cert.Subject.CommonName
		info.Issuer = cert.Issuer.CommonName
		info.NotBefore = cert.NotBefore
		info.NotAfter = cert.NotAfter

		now := time.Now()
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			info.IsValid = false
			info.Error = "certificate expired or not yet valid"
		}
	}

	return info
}

func tlsVersionString(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("unknown (0x%04x)", version)
	}
}
