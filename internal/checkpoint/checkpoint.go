// Package checkpoint persists and restores crawl state for crash
// recovery, per the resume protocol: a periodic snapshot of the
// frontier's visited set and pending entries, written atomically.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/frontier"
	"github.com/deepharvest/crawler/internal/logging"
)

// SchemaVersion is bumped whenever the checkpoint file layout changes
// incompatibly. Restore refuses any other version.
const SchemaVersion = 1

const (
	markerVisited  = "@@visited"
	markerFrontier = "@@frontier"
)

// Header is the first line of a checkpoint file.
type Header struct {
	Version      int       `json:"version"`
	ConfigDigest string    `json:"config_digest"`
	Stats        Stats     `json:"stats"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stats summarizes the checkpoint's contents.
type Stats struct {
	Visited int `json:"visited"`
	Pending int `json:"pending"`
}

// FrontierEntry is one pending URL's serialized form, one per line
// under the @@frontier marker.
type FrontierEntry struct {
	URL      string  `json:"url"`
	Depth    int     `json:"depth"`
	Priority float64 `json:"priority"`
	Parent   string  `json:"parent"`
	Retries  int     `json:"retries"`
}

// Manager reads and writes the checkpoint file at a fixed path. One
// Manager per crawl session.
type Manager struct {
	path string
	log  logging.Logger
}

// NewManager creates a Manager writing to path.
func NewManager(path string, log logging.Logger) *Manager {
	return &Manager{path: path, log: log}
}

// Save writes snap atomically: encode to a temp file in the same
// directory, fsync, then rename over the checkpoint path. A reader can
// never observe a partially-written file.
func (m *Manager) Save(cfg *config.CrawlConfig, snap frontier.Snapshot) error {
	header := Header{
		Version:      SchemaVersion,
		ConfigDigest: cfg.Digest(),
		Stats:        Stats{Visited: len(snap.Visited), Pending: len(snap.Pending)},
		Timestamp:    time.Now(),
	}

	dir := filepath.Dir(m.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("checkpoint: create dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeCheckpoint(tmp, header, snap); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}

	if m.log != nil {
		m.log.Info("checkpoint saved",
			logging.String("path", m.path),
			logging.Int("visited", header.Stats.Visited),
			logging.Int("pending", header.Stats.Pending))
	}
	return nil
}

func writeCheckpoint(w *os.File, header Header, snap frontier.Snapshot) error {
	enc := json.NewEncoder(w)

	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("checkpoint: encode header: %w", err)
	}

	if _, err := w.WriteString(markerVisited + "\n"); err != nil {
		return err
	}
	for _, u := range snap.Visited {
		if _, err := w.WriteString(u + "\n"); err != nil {
			return err
		}
	}

	if _, err := w.WriteString(markerFrontier + "\n"); err != nil {
		return err
	}
	for _, rec := range snap.Pending {
		entry := FrontierEntry{
			URL:      rec.URL,
			Depth:    rec.Depth,
			Priority: rec.Priority,
			Parent:   rec.ParentURL,
			Retries:  rec.RetryCount,
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("checkpoint: encode frontier entry: %w", err)
		}
	}

	return nil
}

// ErrIncompatible is returned by Load when the checkpoint's schema
// version is unrecognized or its config digest does not match the
// current configuration.
var ErrIncompatible = fmt.Errorf("checkpoint: incompatible with current configuration")

// Load reads the checkpoint at m.path and validates it against cfg.
// Restore is valid iff the schema version is recognized and the config
// digest matches (the host allow-list and normalization rules, the
// compatibility-relevant subset Digest hashes over, must agree).
func (m *Manager) Load(cfg *config.CrawlConfig) (frontier.Snapshot, *Header, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return frontier.Snapshot{}, nil, fmt.Errorf("checkpoint: open: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return frontier.Snapshot{}, nil, fmt.Errorf("checkpoint: empty file")
	}
	var header Header
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return frontier.Snapshot{}, nil, fmt.Errorf("checkpoint: decode header: %w", err)
	}

	if header.Version != SchemaVersion {
		return frontier.Snapshot{}, &header, fmt.Errorf("%w: unrecognized schema version %d", ErrIncompatible, header.Version)
	}
	if header.ConfigDigest != cfg.Digest() {
		return frontier.Snapshot{}, &header, fmt.Errorf("%w: config digest mismatch", ErrIncompatible)
	}

	var snap frontier.Snapshot
	section := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch line {
		case markerVisited:
			section = markerVisited
			continue
		case markerFrontier:
			section = markerFrontier
			continue
		}
		if line == "" {
			continue
		}

		switch section {
		case markerVisited:
			snap.Visited = append(snap.Visited, line)
		case markerFrontier:
			var entry FrontierEntry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				return frontier.Snapshot{}, &header, fmt.Errorf("checkpoint: decode frontier entry: %w", err)
			}
			snap.Pending = append(snap.Pending, frontier.URLRecord{
				URL:        entry.URL,
				Host:       hostOf(entry.URL),
				Depth:      entry.Depth,
				Priority:   entry.Priority,
				ParentURL:  entry.Parent,
				RetryCount: entry.Retries,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return frontier.Snapshot{}, &header, fmt.Errorf("checkpoint: scan: %w", err)
	}

	if m.log != nil {
		m.log.Info("checkpoint loaded",
			logging.String("path", m.path),
			logging.Int("visited", len(snap.Visited)),
			logging.Int("pending", len(snap.Pending)))
	}

	return snap, &header, nil
}

func hostOf(rawURL string) string {
	const schemeSep = "://"
	i := strings.Index(rawURL, schemeSep)
	if i < 0 {
		return ""
	}
	rest := rawURL[i+len(schemeSep):]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	return strings.ToLower(rest)
}

// Exists reports whether a checkpoint file is present at m.path.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// VisitedSet builds a lookup set from a checkpoint's visited URLs, so
// callers resuming a crawl can filter seeds: seeds already present are
// not re-admitted, unknown seeds are.
func VisitedSet(snap frontier.Snapshot) map[string]struct{} {
	set := make(map[string]struct{}, len(snap.Visited))
	for _, u := range snap.Visited {
		set[u] = struct{}{}
	}
	return set
}
