package main

import (
	"context"
	"errors"
	"testing"

	"github.com/deepharvest/crawler/internal/crawlerr"
)

func TestExitCodeFor_Nil(t *testing.T) {
	if got := exitCodeFor(nil); got != 0 {
		t.Errorf("expected exit code 0 for nil error, got %d", got)
	}
}

func TestExitCodeFor_ContextCancelled(t *testing.T) {
	if got := exitCodeFor(context.Canceled); got != 0 {
		t.Errorf("expected exit code 0 for context.Canceled, got %d", got)
	}

	wrapped := errors.Join(errors.New("shutting down"), context.Canceled)
	if got := exitCodeFor(wrapped); got != 0 {
		t.Errorf("expected exit code 0 for wrapped context.Canceled, got %d", got)
	}
}

func TestExitCodeFor_ConfigError(t *testing.T) {
	err := newConfigError("bad flag: %s", "--depth")
	if got := exitCodeFor(err); got != 1 {
		t.Errorf("expected exit code 1 for a configError, got %d", got)
	}
}

func TestExitCodeFor_StoreErrorEscalatesToTwo(t *testing.T) {
	err := crawlerr.New(crawlerr.StoreError, "shared store unreachable", nil)
	if got := exitCodeFor(err); got != 2 {
		t.Errorf("expected exit code 2 for a store_error, got %d", got)
	}
}

func TestExitCodeFor_UnknownErrorDefaultsToTwo(t *testing.T) {
	if got := exitCodeFor(errors.New("boom")); got != 2 {
		t.Errorf("expected exit code 2 for an unrecognized error, got %d", got)
	}
}

func TestConfigError_UnwrapsToUnderlyingCause(t *testing.T) {
	cause := errors.New("root cause")
	err := newConfigError("wrapping: %w", cause)

	if !errors.Is(err, cause) {
		t.Error("expected configError to unwrap to its cause via errors.Is")
	}
	if err.Error() == "" {
		t.Error("expected a non-empty error message")
	}
}
