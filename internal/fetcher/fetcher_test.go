package fetcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/fetcher"
	"github.com/deepharvest/crawler/internal/testhelpers"
)

func testConfig(t *testing.T) *config.CrawlConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.MaxRedirects = 5
	cfg.MaxRetries = 1
	cfg.RetryBaseDelay = 10 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestFetcher_FetchSuccessPopulatesResponse(t *testing.T) {
	ts := testhelpers.NewTestServer()
	defer ts.Close()
	ts.AddPage("/a", "<html><body>hello</body></html>")

	f := fetcher.NewFetcher(testConfig(t), nil, nil)
	resp := f.Fetch(context.Background(), ts.URL()+"/a")

	require.Nil(t, resp.Err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, resp.IsSuccess())
	assert.True(t, resp.IsHTML())
	assert.Contains(t, string(resp.Body), "hello")
	assert.Equal(t, 1, ts.GetHits("/a"))
}

func TestFetcher_FetchFollowsRedirectChain(t *testing.T) {
	ts := testhelpers.NewTestServer()
	defer ts.Close()
	ts.AddPage("/final", "landed")
	ts.SetRedirect("/start", "/final")

	f := fetcher.NewFetcher(testConfig(t), nil, nil)
	resp := f.Fetch(context.Background(), ts.URL()+"/start")

	require.Nil(t, resp.Err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, resp.HasRedirects())
	assert.Equal(t, 1, resp.RedirectCount())
	assert.Contains(t, string(resp.Body), "landed")
}

func TestFetcher_FetchReturnsServerErrorStatus(t *testing.T) {
	ts := testhelpers.NewTestServer()
	defer ts.Close()
	ts.SetError("/broken", 500)

	f := fetcher.NewFetcher(testConfig(t), nil, nil)
	resp := f.Fetch(context.Background(), ts.URL()+"/broken")

	require.Nil(t, resp.Err)
	assert.True(t, resp.IsServerError())
}

// TestFetcher_FetchWithRetryRetriesServerErrors exercises the retry
// path end to end against a server that answers 503 on every attempt,
// confirming FetchWithRetry actually re-issues the request rather than
// just classifying it as retryable.
func TestFetcher_FetchWithRetryRetriesServerErrors(t *testing.T) {
	ts := testhelpers.NewTestServer()
	defer ts.Close()
	ts.SetError("/flaky", 503)

	cfg := testConfig(t)
	cfg.MaxRetries = 2
	f := fetcher.NewFetcher(cfg, nil, nil)

	resp := f.FetchWithRetry(context.Background(), ts.URL()+"/flaky")

	assert.True(t, resp.IsServerError())
	assert.Equal(t, 3, ts.GetHits("/flaky"), "initial attempt plus 2 retries")
}

func TestFetcher_FetchMissingPageReturns404(t *testing.T) {
	ts := testhelpers.NewTestServer()
	defer ts.Close()

	f := fetcher.NewFetcher(testConfig(t), nil, nil)
	resp := f.Fetch(context.Background(), ts.URL()+"/nope")

	require.Nil(t, resp.Err)
	assert.True(t, resp.IsClientError())
}
