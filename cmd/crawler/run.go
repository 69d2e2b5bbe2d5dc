package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deepharvest/crawler/internal/config"
	"github.com/deepharvest/crawler/internal/logging"
	"github.com/deepharvest/crawler/internal/orchestrator"
	"github.com/deepharvest/crawler/internal/outputlog"
	"github.com/deepharvest/crawler/internal/telemetry"
)

// runOrchestrator builds and runs one crawl against cfg, wiring an
// outputlog.Writer (if outputDir is set) as the export plugin, and
// returning once the run completes, is interrupted, or is halted by
// §7's store_error escalation.
func runOrchestrator(cfg *config.CrawlConfig, outputDir string) error {
	if err := cfg.Validate(); err != nil {
		return newConfigError("invalid configuration: %w", err)
	}

	log := logging.Must(logging.Config{Level: logLevel})
	defer log.Sync()

	metrics := telemetry.New(prometheus.NewRegistry())

	orch, err := orchestrator.New(cfg, metrics, log)
	if err != nil {
		return newConfigError("build orchestrator: %w", err)
	}

	if outputDir != "" {
		writer, err := outputlog.New(outputDir)
		if err != nil {
			return newConfigError("open output log: %w", err)
		}
		defer writer.Close()
		if err := orch.Plugins.RegisterExportPlugin(writer); err != nil {
			return newConfigError("register output log: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := orch.Run(ctx)
	printSummary(orch)

	return runErr
}

func printSummary(orch *orchestrator.Orchestrator) {
	fStats, sStats := orch.Stats()

	fmt.Println("\n========== Crawl Summary ==========")
	fmt.Printf("URLs processed:  %d\n", sStats.URLsProcessed)
	fmt.Printf("  succeeded:     %d\n", sStats.URLsSucceeded)
	fmt.Printf("  failed:        %d\n", sStats.URLsFailed)
	fmt.Printf("  retried:       %d\n", sStats.URLsRetried)
	fmt.Printf("Frontier queued: %d\n", fStats.Queued)
	fmt.Printf("Total admitted:  %d\n", fStats.TotalAdmitted)
	fmt.Printf("Hosts parked:    %d\n", sStats.HostsParked)
	fmt.Printf("Elapsed:         %v\n", sStats.ElapsedTime.Round(time.Second))
}
