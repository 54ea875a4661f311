// Package app wires configuration, storage, and the ingestion pipeline into
// CLI subcommands.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest", "run-once":
		return runIngest(args[1:])
	case "daemon":
		return runDaemon(args[1:])
	case "serve":
		return runServe(args[1:])
	case "articles":
		return runArticles(args[1:])
	case "stats":
		return runStats(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "finwire CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  finwire <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest    Run one ingestion tick across all configured sources")
	fmt.Fprintln(os.Stderr, "  run-once  Alias for ingest")
	fmt.Fprintln(os.Stderr, "  daemon    Run the ingestion scheduler loop")
	fmt.Fprintln(os.Stderr, "  serve     Start the read API server")
	fmt.Fprintln(os.Stderr, "  articles  List persisted articles")
	fmt.Fprintln(os.Stderr, "  stats     Show per-category counts and recent ingest ticks")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"finwire <command> -h\" for command-specific flags.")
}
