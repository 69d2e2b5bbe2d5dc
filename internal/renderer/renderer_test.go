package renderer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/renderer"
)

// TestNewRenderer_ConstructsWithSmallConcurrencyGlobal exercises the
// pool construction path only: chromedp's exec allocator and browser
// contexts are created lazily, so this never actually launches a
// Chromium binary, which a CI sandbox may not have installed. The pool
// size itself is internal and is not asserted by these tests.
func TestNewRenderer_ConstructsWithSmallConcurrencyGlobal(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ConcurrencyGlobal = 2
	require.NoError(t, cfg.Validate())

	r, err := renderer.NewRenderer(cfg)
	require.NoError(t, err)
	defer r.Close()

	assert.NotNil(t, r)
}

func TestNewRenderer_ConstructsWithLargeConcurrencyGlobal(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ConcurrencyGlobal = 50
	require.NoError(t, cfg.Validate())

	r, err := renderer.NewRenderer(cfg)
	require.NoError(t, err)
	defer r.Close()

	assert.NotNil(t, r)
}

func TestNewRenderer_ConstructsWithZeroConcurrencyGlobal(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ConcurrencyGlobal = 0 // left unvalidated: Validate() would otherwise clamp this to 1

	r, err := renderer.NewRenderer(cfg)
	require.NoError(t, err)
	defer r.Close()

	assert.NotNil(t, r)
}
