package main

import (
	"github.com/spf13/cobra"

	"github.com/deepharvest/crawler/internal/cliconfig"
	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/logging"
)

func crawlCmd() *cobra.Command {
	var (
		depth      int
		js         bool
		output     string
		configFile string
		distributed bool
		redisURL   string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "crawl <url...>",
		Short: "Crawl one or more seed URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cliconfig.Load(configFile, logging.Nop())
			if err != nil {
				return newConfigError("load config: %w", err)
			}

			cfg.Seeds = args
			if depth > 0 {
				cfg.MaxDepth = depth
			}
			if js {
				cfg.RenderMode = config.RenderAdaptive
			}
			if distributed {
				cfg.Distributed = true
			}
			if redisURL != "" {
				cfg.RedisURL = redisURL
			}
			if workers > 0 {
				cfg.ConcurrencyGlobal = workers
			}

			return runOrchestrator(cfg, output)
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 0, "maximum crawl depth override (0 = use config)")
	cmd.Flags().BoolVar(&js, "js", false, "enable browser-fallback rendering for JavaScript-heavy pages")
	cmd.Flags().StringVar(&output, "output", "", "directory to write pages.ndjson and failures.ndjson into")
	cmd.Flags().StringVar(&configFile, "config", "", "YAML configuration file")
	cmd.Flags().BoolVar(&distributed, "distributed", false, "use a Redis-backed shared frontier")
	cmd.Flags().StringVar(&redisURL, "redis-url", "", "Redis URL for --distributed mode")
	cmd.Flags().IntVar(&workers, "workers", 0, "global concurrency override (0 = use config)")

	return cmd
}
