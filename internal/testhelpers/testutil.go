// Package testhelpers provides test fixtures shared by the crawl-core test suites.
package testhelpers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// TestServer is a configurable HTTP server used to drive fetcher,
// scheduler and orchestrator tests without touching the network.
type TestServer struct {
	Server *httptest.Server

	mu        sync.RWMutex
	pages     map[string]*TestPage
	delays    map[string]time.Duration
	errors    map[string]int // path -> status code
	hits      map[string]int
	redirects map[string]string
}

// TestPage is a canned response for a path.
type TestPage struct {
	Content     string
	ContentType string
	StatusCode  int
	Headers     map[string]string
}

// NewTestServer creates a new test server.
func NewTestServer() *TestServer {
	ts := &TestServer{
		pages:     make(map[string]*TestPage),
		delays:    make(map[string]time.Duration),
		errors:    make(map[string]int),
		hits:      make(map[string]int),
		redirects: make(map[string]string),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handler))
	return ts
}

func (ts *TestServer) handler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	ts.mu.Lock()
	ts.hits[path]++
	ts.mu.Unlock()

	ts.mu.RLock()
	delay := ts.delays[path]
	errorCode := ts.errors[path]
	redirect := ts.redirects[path]
	page := ts.pages[path]
	ts.mu.RUnlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if redirect != "" {
		http.Redirect(w, r, redirect, http.StatusMovedPermanently)
		return
	}

	if errorCode > 0 {
		w.WriteHeader(errorCode)
		return
	}

	if page != nil {
		for k, v := range page.Headers {
			w.Header().Set(k, v)
		}
		if page.ContentType != "" {
			w.Header().Set("Content-Type", page.ContentType)
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		if page.StatusCode > 0 {
			w.WriteHeader(page.StatusCode)
		}
		io.WriteString(w, page.Content)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

// AddPage registers a 200 OK HTML page at path.
func (ts *TestServer) AddPage(path, content string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pages[path] = &TestPage{Content: content, ContentType: "text/html; charset=utf-8", StatusCode: 200}
}

// AddPageWithType registers a page with an explicit content type.
func (ts *TestServer) AddPageWithType(path, content, contentType string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pages[path] = &TestPage{Content: content, ContentType: contentType, StatusCode: 200}
}

// AddPageWithStatus registers a page with an explicit status code.
func (ts *TestServer) AddPageWithStatus(path, content string, status int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pages[path] = &TestPage{Content: content, ContentType: "text/html; charset=utf-8", StatusCode: status}
}

// SetDelay makes path respond after delay, to exercise fetch timeouts.
func (ts *TestServer) SetDelay(path string, delay time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.delays[path] = delay
}

// SetError makes path always respond with statusCode.
func (ts *TestServer) SetError(path string, statusCode int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.errors[path] = statusCode
}

// SetRedirect makes from 301-redirect to to.
func (ts *TestServer) SetRedirect(from, to string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.redirects[from] = to
}

// GetHits returns how many times path was requested.
func (ts *TestServer) GetHits(path string) int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.hits[path]
}

// URL returns the server's base URL.
func (ts *TestServer) URL() string {
	return ts.Server.URL
}

// Close shuts down the underlying httptest.Server.
func (ts *TestServer) Close() {
	ts.Server.Close()
}

// BuildLinkedSite populates a small site graph: a root page linking to
// two children, /b linking back to the root (a cycle) and /c linking
// out to an external host, exercising depth/dedup/admission together.
func (ts *TestServer) BuildLinkedSite() {
	ts.AddPage("/a", `<html><body>
		<a href="/b">b</a>
		<a href="/c">c</a>
		<a href="/a#x">self</a>
	</body></html>`)
	ts.AddPage("/b", `<html><body><a href="/a">back</a></body></html>`)
	ts.AddPage("/c", `<html><body><a href="https://external.example/x">external</a></body></html>`)
	ts.AddPageWithType("/robots.txt", "User-agent: *\nDisallow: /private/\n", "text/plain")
}
