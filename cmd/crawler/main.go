// Command crawler is the deepharvest crawl core's command-line entry
// point: crawl, resume, and osint subcommands over the orchestrator.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
