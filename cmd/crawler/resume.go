package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/deepharvest/crawler/internal/cliconfig"
	"github.com/deepharvest/crawler/internal/logging"
)

func resumeCmd() *cobra.Command {
	var (
		stateFile  string
		output     string
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a crawl from a checkpoint file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stateFile == "" {
				return newConfigError("--state-file is required")
			}
			if _, err := os.Stat(stateFile); err != nil {
				return newConfigError("state file: %w", err)
			}

			cfg, err := cliconfig.Load(configFile, logging.Nop())
			if err != nil {
				return newConfigError("load config: %w", err)
			}
			cfg.CheckpointPath = stateFile

			return runOrchestrator(cfg, output)
		},
	}

	cmd.Flags().StringVar(&stateFile, "state-file", "", "checkpoint file to resume from (required)")
	cmd.Flags().StringVar(&configFile, "config", "", "YAML configuration file")
	cmd.Flags().StringVar(&output, "output", "", "directory to write pages.ndjson and failures.ndjson into")

	return cmd
}
