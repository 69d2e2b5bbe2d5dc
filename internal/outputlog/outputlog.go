// Package outputlog writes terminal Fetch Results to newline-delimited
// JSON files under an output directory: one file for successful
// pages, one failure log for errored URLs, matching §6/§7's "failures
// are written to a failure log in newline-delimited JSON alongside
// outputs" requirement. It implements pluginapi.ExportPlugin so the
// orchestrator's export hook is its only caller.
package outputlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/deepharvest/crawler/internal/pluginapi"
)

// PageRecord is one successfully fetched page, as written to
// pages.ndjson.
type PageRecord struct {
	URL         string `json:"url"`
	Depth       int    `json:"depth"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	BodySize    int64  `json:"body_size"`
}

// FailureRecord is one terminal failure, as written to failures.ndjson.
type FailureRecord struct {
	URL     string `json:"url"`
	Depth   int    `json:"depth"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Writer is a pluginapi.ExportPlugin that splits terminal Fetch
// Results between a page log and a failure log under one output
// directory.
type Writer struct {
	mu       sync.Mutex
	pages    *os.File
	failures *os.File
	pagesEnc *json.Encoder
	failsEnc *json.Encoder
}

// New opens (creating if necessary) pages.ndjson and failures.ndjson
// under dir.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("outputlog: mkdir %s: %w", dir, err)
	}

	pages, err := os.OpenFile(filepath.Join(dir, "pages.ndjson"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("outputlog: open pages log: %w", err)
	}
	failures, err := os.OpenFile(filepath.Join(dir, "failures.ndjson"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		pages.Close()
		return nil, fmt.Errorf("outputlog: open failures log: %w", err)
	}

	return &Writer{
		pages:    pages,
		failures: failures,
		pagesEnc: json.NewEncoder(pages),
		failsEnc: json.NewEncoder(failures),
	}, nil
}

// Name identifies this plugin in the registry.
func (w *Writer) Name() string { return "outputlog" }

// Export implements pluginapi.ExportPlugin.
func (w *Writer) Export(_ context.Context, result pluginapi.ExportResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if result.Err != nil {
		return w.failsEnc.Encode(FailureRecord{
			URL:     result.URL,
			Depth:   result.Depth,
			Kind:    string(result.Err.Kind),
			Message: result.Err.Error(),
		})
	}

	rec := PageRecord{URL: result.URL, Depth: result.Depth, StatusCode: result.StatusCode}
	if result.Response != nil {
		rec.ContentType = result.Response.ContentType
		rec.BodySize = result.Response.BodySize
	}
	return w.pagesEnc.Encode(rec)
}

// Close flushes and closes both underlying files.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err1 := w.pages.Close()
	err2 := w.failures.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

var _ pluginapi.ExportPlugin = (*Writer)(nil)
