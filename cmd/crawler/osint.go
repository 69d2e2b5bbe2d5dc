package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

// OSINTCollaborator is the seam this CLI delegates to for the osint
// subcommand's graph/screenshot/reporting output. No implementation
// ships here; a caller wires one in to support --json/--graph/
// --screenshot before this command does anything but return an error.
type OSINTCollaborator interface {
	Collect(ctx context.Context, targetURL string, opts OSINTOptions) error
}

// OSINTOptions mirrors the osint subcommand's flags.
type OSINTOptions struct {
	JSON       bool
	Graph      bool
	Screenshot bool
	OutputDir  string
}

var errOSINTNotWired = errors.New("osint: no OSINTCollaborator is wired into this build")

func osintCmd() *cobra.Command {
	var opts OSINTOptions

	cmd := &cobra.Command{
		Use:   "osint <url>",
		Short: "Collect open-source intelligence on a single target (requires an OSINTCollaborator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collaborator, err := newOSINTCollaborator()
			if err != nil {
				return newConfigError("%w", err)
			}
			return collaborator.Collect(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "emit findings as JSON")
	cmd.Flags().BoolVar(&opts.Graph, "graph", false, "emit a link graph")
	cmd.Flags().BoolVar(&opts.Screenshot, "screenshot", false, "capture a screenshot of the target")
	cmd.Flags().StringVar(&opts.OutputDir, "output", "", "directory to write OSINT artifacts into")

	return cmd
}

// newOSINTCollaborator is the extension point a caller overrides (by
// replacing this function, or this file, in their own build) to wire
// a real OSINTCollaborator. The stock build has none.
func newOSINTCollaborator() (OSINTCollaborator, error) {
	return nil, errOSINTNotWired
}
