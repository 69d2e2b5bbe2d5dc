// Package renderer provides the headless-browser fallback fetch path
// of §4.4: used when the orchestrator's render heuristic, the browser
// render mode, or a site rule's UseBrowserDirectly flag selects it for
// a page that needs JavaScript execution before its content is usable.
package renderer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/deepharvest/crawler/internal/config"
)

// Result is the outcome of rendering one page.
type Result struct {
	HTML       string
	FinalURL   string
	StatusCode int
	Headers    map[string]string
	RenderTime time.Duration
	Err        error
}

// Renderer pools headless browser tabs and performs one navigation
// per fetch, so no two fetches share mutable page state.
type Renderer struct {
	cfg *config.CrawlConfig

	allocatorCtx context.Context
	cancelAlloc  context.CancelFunc

	pool chan context.Context
}

// NewRenderer launches a headless Chromium allocator and pre-creates
// a small pool of browser contexts, one per fetch in flight.
func NewRenderer(cfg *config.CrawlConfig) (*Renderer, error) {
	poolSize := cfg.ConcurrencyGlobal
	if poolSize <= 0 || poolSize > 4 {
		poolSize = 4
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("safebrowsing-disable-auto-update", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-features", "TranslateUI"),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ChromiumPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromiumPath))
	}

	r := &Renderer{cfg: cfg, pool: make(chan context.Context, poolSize)}
	r.allocatorCtx, r.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)

	for i := 0; i < poolSize; i++ {
		tabCtx, _ := chromedp.NewContext(r.allocatorCtx)
		r.pool <- tabCtx
	}

	return r, nil
}

// Render navigates to rawURL, waits for the configured settle
// condition (bounded by RenderTimeout), performs a bounded number of
// scroll passes to trigger infinite-scroll content, and returns the
// resulting DOM as HTML.
func (r *Renderer) Render(ctx context.Context, rawURL string) *Result {
	result := &Result{Headers: make(map[string]string)}
	start := time.Now()

	var tabCtx context.Context
	select {
	case tabCtx = <-r.pool:
	case <-ctx.Done():
		result.Err = ctx.Err()
		return result
	}
	defer func() { r.pool <- tabCtx }()

	timeoutCtx, cancel := context.WithTimeout(tabCtx, r.cfg.RenderTimeout)
	defer cancel()

	var pending int
	var networkMu sync.Mutex
	idleSince := time.Now()

	chromedp.ListenTarget(timeoutCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			networkMu.Lock()
			pending++
			networkMu.Unlock()
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			networkMu.Lock()
			if pending > 0 {
				pending--
			}
			if pending == 0 {
				idleSince = time.Now()
			}
			networkMu.Unlock()
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument {
				result.StatusCode = int(e.Response.Status)
				for k, v := range e.Response.Headers {
					if str, ok := v.(string); ok {
						result.Headers[k] = str
					}
				}
			}
		case *page.EventJavascriptDialogOpening:
			go chromedp.Run(timeoutCtx, page.HandleJavaScriptDialog(true))
		}
	})

	if err := chromedp.Run(timeoutCtx, network.Enable(), chromedp.Navigate(rawURL)); err != nil {
		result.Err = fmt.Errorf("navigate: %w", err)
		return result
	}

	if err := r.waitForSettle(timeoutCtx, &networkMu, &pending, &idleSince); err != nil {
		result.Err = err
		return result
	}

	if r.cfg.HandleInfiniteScroll {
		r.scrollForInfiniteContent(timeoutCtx)
	}

	var html, title, finalURL string
	err := chromedp.Run(timeoutCtx,
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		result.Err = fmt.Errorf("extract dom: %w", err)
		return result
	}

	result.HTML = html
	result.FinalURL = finalURL
	result.RenderTime = time.Since(start)
	_ = title
	return result
}

// waitForSettle blocks until the configured WaitCondition is met or
// RenderTimeout elapses. networkidle polls the in-flight request
// counter maintained by Render's event listener until it has sat at
// zero for wait_for_js_ms.
func (r *Renderer) waitForSettle(ctx context.Context, mu *sync.Mutex, pending *int, idleSince *time.Time) error {
	settleWindow := time.Duration(r.cfg.WaitForJSMs) * time.Millisecond
	if settleWindow <= 0 {
		settleWindow = 500 * time.Millisecond
	}

	switch r.cfg.WaitCondition {
	case config.WaitDOMContentLoaded:
		return chromedp.Run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
	case config.WaitLoad:
		return chromedp.Run(ctx, chromedp.WaitReady("html", chromedp.ByQuery))
	case config.WaitNetworkIdle, "":
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				mu.Lock()
				idle := *pending == 0 && time.Since(*idleSince) >= settleWindow
				mu.Unlock()
				if idle {
					return nil
				}
			}
		}
	default:
		return chromedp.Run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
	}
}

// maxScrollPasses bounds infinite-scroll probing so a page with a
// true infinite feed doesn't stall a fetch indefinitely.
const maxScrollPasses = 5

// scrollForInfiniteContent scrolls to the bottom of the page up to
// maxScrollPasses times, stopping early once scroll height stops
// growing (the page has no more lazy content to load).
func (r *Renderer) scrollForInfiniteContent(ctx context.Context) {
	var lastHeight int64
	for i := 0; i < maxScrollPasses; i++ {
		var height int64
		err := chromedp.Run(ctx,
			chromedp.Evaluate(`document.body.scrollHeight`, &height),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(300*time.Millisecond),
		)
		if err != nil || height <= lastHeight {
			return
		}
		lastHeight = height
	}
}

// Close tears down every pooled tab and the browser allocator.
func (r *Renderer) Close() error {
	close(r.pool)
	for tabCtx := range r.pool {
		chromedp.Cancel(tabCtx)
	}
	if r.cancelAlloc != nil {
		r.cancelAlloc()
	}
	return nil
}
