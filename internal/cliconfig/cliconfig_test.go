package cliconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deepharvest/crawler/internal/cliconfig"
	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/logging"
)

func TestLoad_NoConfigPathReturnsDefaults(t *testing.T) {
	cfg, err := cliconfig.Load("", logging.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def := config.DefaultConfig()
	if cfg.Strategy != def.Strategy {
		t.Errorf("expected default strategy %q, got %q", def.Strategy, cfg.Strategy)
	}
	if cfg.ConcurrencyGlobal != def.ConcurrencyGlobal {
		t.Errorf("expected default concurrency %d, got %d", def.ConcurrencyGlobal, cfg.ConcurrencyGlobal)
	}
	if len(cfg.Seeds) != 0 {
		t.Errorf("expected no seeds from defaults, got %v", cfg.Seeds)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := cliconfig.Load("/nonexistent/path/config.yaml", logging.Nop())
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
max_depth: 5
max_urls: 1000
concurrent_requests: 64
per_host_concurrency: 4
enable_js: true
handle_infinite_scroll: true
strategy: priority
distributed: true
redis_url: redis://localhost:6379/0
checkpoint_interval: 50
user_agent: testbot/1.0
allowed_domains:
  - kind: suffix
    pattern: example.com
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := cliconfig.Load(path, logging.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.MaxDepth != 5 {
		t.Errorf("expected MaxDepth 5, got %d", cfg.MaxDepth)
	}
	if cfg.MaxURLs != 1000 {
		t.Errorf("expected MaxURLs 1000, got %d", cfg.MaxURLs)
	}
	if cfg.ConcurrencyGlobal != 64 {
		t.Errorf("expected ConcurrencyGlobal 64, got %d", cfg.ConcurrencyGlobal)
	}
	if cfg.ConcurrencyHost != 4 {
		t.Errorf("expected ConcurrencyHost 4, got %d", cfg.ConcurrencyHost)
	}
	if cfg.RenderMode != config.RenderAdaptive {
		t.Errorf("expected RenderMode adaptive from enable_js, got %q", cfg.RenderMode)
	}
	if !cfg.HandleInfiniteScroll {
		t.Error("expected HandleInfiniteScroll true")
	}
	if cfg.Strategy != config.StrategyPriority {
		t.Errorf("expected strategy priority, got %q", cfg.Strategy)
	}
	if !cfg.Distributed {
		t.Error("expected Distributed true")
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("unexpected RedisURL %q", cfg.RedisURL)
	}
	if cfg.CheckpointInterval != 50 {
		t.Errorf("expected CheckpointInterval 50, got %d", cfg.CheckpointInterval)
	}
	if cfg.UserAgent != "testbot/1.0" {
		t.Errorf("unexpected UserAgent %q", cfg.UserAgent)
	}
	if len(cfg.AllowedDomains) != 1 || cfg.AllowedDomains[0].Pattern != "example.com" {
		t.Errorf("expected one allowed domain example.com, got %v", cfg.AllowedDomains)
	}
}

func TestLoad_UnsetEnableJSLeavesRenderModeAtDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("max_depth: 2\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := cliconfig.Load(path, logging.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RenderMode != config.RenderHTML {
		t.Errorf("expected RenderMode to stay at default html, got %q", cfg.RenderMode)
	}
}

func TestLoad_UnknownKeysDoNotError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("totally_unrecognized_key: true\nmax_depth: 1\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := cliconfig.Load(path, logging.Nop())
	if err != nil {
		t.Fatalf("unrecognized keys should warn, not error: %v", err)
	}
	if cfg.MaxDepth != 1 {
		t.Errorf("expected known keys alongside an unknown one to still apply, got MaxDepth=%d", cfg.MaxDepth)
	}
}
