package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deepharvest/crawler/internal/crawlerr"
)

// configError marks a failure discovered before any network or store
// activity — bad flags, an unreadable config file, an invalid seed
// URL — mapped to exit code 1. Anything else reaching main is an
// unrecoverable runtime error, exit code 2.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func newConfigError(format string, args ...any) *configError {
	return &configError{err: fmt.Errorf(format, args...)}
}

// exitCodeFor maps a command's terminal error to the process exit
// code documented in the CLI surface: 0 success, 1 configuration
// error, 2 unrecoverable runtime error. A graceful interrupt
// (context.Canceled from a caught signal) is not a failure.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 0
	}

	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return 1
	}

	if ce, ok := crawlerr.As(err); ok && ce.Kind == crawlerr.StoreError {
		return 2
	}

	return 2
}

// rootCmd is the deepharvest crawler CLI's root command; its
// subcommands (crawl, resume, osint) do the actual work.
var rootCmd = &cobra.Command{
	Use:   "crawler",
	Short: "A distributed, resilient web crawler",
	Long: `deepharvest-crawler discovers, fetches, and deduplicates web content
across one or many worker processes, with resumable checkpoints and
an optional headless-browser fallback for JavaScript-rendered pages.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &configError{err: err}
	})
	rootCmd.AddCommand(crawlCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(osintCmd())
}

// Execute runs the root command against a fresh background context.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}
