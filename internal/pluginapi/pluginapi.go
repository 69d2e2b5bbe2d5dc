// Package pluginapi defines the crawl core's plugin extension points:
// a LinkFilterPlugin that can veto or reprioritize a link before it
// reaches admission, and an ExportPlugin that receives terminal Fetch
// Results for downstream delivery. Auto-discovery is out of scope;
// callers construct and Register plugin instances themselves.
package pluginapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/deepharvest/crawler/internal/crawlerr"
	"github.com/deepharvest/crawler/internal/fetcher"
)

// LinkVerdict is a LinkFilterPlugin's judgment on one discovered link.
type LinkVerdict struct {
	// Veto drops the link outright, before it reaches admission.
	Veto bool
	// PriorityDelta is added to the link's computed priority when not
	// vetoed.
	PriorityDelta float64
}

// LinkFilterPlugin inspects a link discovered on parentURL at depth
// and may veto it or adjust its priority, ahead of the normal
// admission pipeline checks.
type LinkFilterPlugin interface {
	Name() string
	FilterLink(ctx context.Context, linkURL, parentURL string, depth int) LinkVerdict
}

// ExportResult is the terminal Fetch Result handed to ExportPlugins,
// a thin projection of fetcher.Response plus the URL record context
// so a plugin doesn't need to import the frontier package.
type ExportResult struct {
	URL        string
	Depth      int
	StatusCode int
	Response   *fetcher.Response
	Err        *crawlerr.Error
}

// ExportPlugin receives every terminal Fetch Result, for delivery to
// an external sink (a file, a queue, a search index). Export is
// best-effort: an error is logged by the caller, never fed back into
// crawl control flow.
type ExportPlugin interface {
	Name() string
	Export(ctx context.Context, result ExportResult) error
}

// errAlreadyRegistered is returned when a plugin name is already taken
// within its category.
var errAlreadyRegistered = errors.New("pluginapi: plugin with this name already registered")

// Registry holds every registered plugin, safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	linkFilters   map[string]LinkFilterPlugin
	exportPlugins map[string]ExportPlugin
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		linkFilters:   make(map[string]LinkFilterPlugin),
		exportPlugins: make(map[string]ExportPlugin),
	}
}

// RegisterLinkFilter registers a LinkFilterPlugin. Names must be unique.
func (r *Registry) RegisterLinkFilter(p LinkFilterPlugin) error {
	if p == nil {
		return errors.New("pluginapi: cannot register nil LinkFilterPlugin")
	}
	name := p.Name()
	if name == "" {
		return errors.New("pluginapi: LinkFilterPlugin name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.linkFilters[name]; exists {
		return fmt.Errorf("%w: %s", errAlreadyRegistered, name)
	}
	r.linkFilters[name] = p
	return nil
}

// RegisterExportPlugin registers an ExportPlugin. Names must be unique.
func (r *Registry) RegisterExportPlugin(p ExportPlugin) error {
	if p == nil {
		return errors.New("pluginapi: cannot register nil ExportPlugin")
	}
	name := p.Name()
	if name == "" {
		return errors.New("pluginapi: ExportPlugin name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.exportPlugins[name]; exists {
		return fmt.Errorf("%w: %s", errAlreadyRegistered, name)
	}
	r.exportPlugins[name] = p
	return nil
}

// ListLinkFilters returns registered link-filter plugin names, sorted.
func (r *Registry) ListLinkFilters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.linkFilters)
}

// ListExportPlugins returns registered export plugin names, sorted.
func (r *Registry) ListExportPlugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeysExport(r.exportPlugins)
}

// FilterLink runs linkURL through every registered LinkFilterPlugin in
// sorted name order, combining their verdicts: any veto wins, and
// priority deltas accumulate.
func (r *Registry) FilterLink(ctx context.Context, linkURL, parentURL string, depth int) LinkVerdict {
	r.mu.RLock()
	names := sortedKeys(r.linkFilters)
	plugins := make([]LinkFilterPlugin, len(names))
	for i, n := range names {
		plugins[i] = r.linkFilters[n]
	}
	r.mu.RUnlock()

	var out LinkVerdict
	for _, p := range plugins {
		v := p.FilterLink(ctx, linkURL, parentURL, depth)
		if v.Veto {
			out.Veto = true
		}
		out.PriorityDelta += v.PriorityDelta
	}
	return out
}

// Export hands result to every registered ExportPlugin, collecting
// (not stopping on) individual failures.
func (r *Registry) Export(ctx context.Context, result ExportResult) []error {
	r.mu.RLock()
	names := sortedKeysExport(r.exportPlugins)
	plugins := make([]ExportPlugin, len(names))
	for i, n := range names {
		plugins[i] = r.exportPlugins[n]
	}
	r.mu.RUnlock()

	var errs []error
	for _, p := range plugins {
		if err := p.Export(ctx, result); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errs
}

func sortedKeys(m map[string]LinkFilterPlugin) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysExport(m map[string]ExportPlugin) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
