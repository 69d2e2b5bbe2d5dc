package checkpoint_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepharvest/crawler/internal/checkpoint"
	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/frontier"
)

func testConfig() *config.CrawlConfig {
	cfg := config.DefaultConfig()
	cfg.AllowedDomains = []config.DomainPolicy{{Kind: config.DomainExact, Pattern: "example.com"}}
	return cfg
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.jsonl")
	m := checkpoint.NewManager(path, nil)
	cfg := testConfig()

	snap := frontier.Snapshot{
		Visited: []string{"https://example.com/a", "https://example.com/b"},
		Pending: []frontier.URLRecord{
			{URL: "https://example.com/c", Depth: 1, Priority: 0.5, ParentURL: "https://example.com/a", RetryCount: 0},
		},
	}

	require.NoError(t, m.Save(cfg, snap))
	assert.True(t, m.Exists())

	restored, header, err := m.Load(cfg)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.SchemaVersion, header.Version)
	assert.ElementsMatch(t, snap.Visited, restored.Visited)
	require.Len(t, restored.Pending, 1)
	assert.Equal(t, "https://example.com/c", restored.Pending[0].URL)
	assert.Equal(t, "example.com", restored.Pending[0].Host)
	assert.Equal(t, "https://example.com/a", restored.Pending[0].ParentURL)
}

// TestManager_LoadRejectsConfigDigestMismatch covers the restart
// compatibility rule: a checkpoint saved under one set of
// compatibility-relevant config fields must be refused when the
// current config's digest no longer matches.
func TestManager_LoadRejectsConfigDigestMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.jsonl")
	m := checkpoint.NewManager(path, nil)

	savedWith := testConfig()
	require.NoError(t, m.Save(savedWith, frontier.Snapshot{Visited: []string{"https://example.com/a"}}))

	loadWith := testConfig()
	loadWith.AllowedDomains = []config.DomainPolicy{{Kind: config.DomainExact, Pattern: "other.com"}}

	_, _, err := m.Load(loadWith)
	require.Error(t, err)
	assert.ErrorIs(t, err, checkpoint.ErrIncompatible)
}

func TestManager_LoadRejectsUnrecognizedSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.jsonl")
	m := checkpoint.NewManager(path, nil)
	cfg := testConfig()
	require.NoError(t, m.Save(cfg, frontier.Snapshot{}))

	// Corrupt the header's version field directly.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.SplitN(string(raw), "\n", 2)
	lines[0] = `{"version":99,"config_digest":"x","stats":{"visited":0,"pending":0},"timestamp":"2026-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))

	_, _, err = m.Load(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, checkpoint.ErrIncompatible)
}

func TestManager_ExistsFalseBeforeFirstSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.jsonl")
	m := checkpoint.NewManager(path, nil)
	assert.False(t, m.Exists())
}

// TestManager_RestartIdempotence covers §8's restart invariant: saving
// a snapshot, loading it back, and saving the reloaded snapshot again
// must reproduce the same visited/pending contents with no
// duplication or loss.
func TestManager_RestartIdempotence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.jsonl")
	m := checkpoint.NewManager(path, nil)
	cfg := testConfig()

	snap := frontier.Snapshot{
		Visited: []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"},
		Pending: []frontier.URLRecord{
			{URL: "https://example.com/d", Depth: 2, Priority: 0.1, RetryCount: 1},
		},
	}
	require.NoError(t, m.Save(cfg, snap))

	firstLoad, _, err := m.Load(cfg)
	require.NoError(t, err)

	require.NoError(t, m.Save(cfg, firstLoad))
	secondLoad, _, err := m.Load(cfg)
	require.NoError(t, err)

	assert.ElementsMatch(t, firstLoad.Visited, secondLoad.Visited)
	assert.Len(t, secondLoad.Pending, len(firstLoad.Pending))
}

func TestVisitedSet_BuildsLookup(t *testing.T) {
	snap := frontier.Snapshot{Visited: []string{"https://example.com/a", "https://example.com/b"}}
	set := checkpoint.VisitedSet(snap)

	_, ok := set["https://example.com/a"]
	assert.True(t, ok)
	_, ok = set["https://example.com/missing"]
	assert.False(t, ok)
}
