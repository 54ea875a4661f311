package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/finwire/internal/cli"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	recentTicks := fs.Int("recent-ticks", 10, "Number of recent ingest ticks to show")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "stats does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}
	if *recentTicks < 1 || *recentTicks > 100 {
		fmt.Fprintln(os.Stderr, "--recent-ticks must be between 1 and 100")
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	stats, err := pool.QueryIngestStats(ctx, *recentTicks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query ingest stats: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(stats); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	categoryRows := make([][]string, 0, len(stats.Categories)+1)
	for _, row := range stats.Categories {
		latest := ""
		if row.LatestAt != nil {
			latest = formatUTCTimestamp(*row.LatestAt)
		}
		categoryRows = append(categoryRows, []string{
			row.Category,
			fmt.Sprintf("%d", row.Articles),
			fmt.Sprintf("%d", row.Featured),
			fmt.Sprintf("%d", row.Enriched),
			fmt.Sprintf("%d", row.TotalViews),
			fmt.Sprintf("%d", row.TotalShares),
			latest,
		})
	}
	categoryRows = append(categoryRows, []string{
		"TOTAL",
		fmt.Sprintf("%d", stats.Totals.Articles),
		fmt.Sprintf("%d", stats.Totals.Featured),
		fmt.Sprintf("%d", stats.Totals.Enriched),
		fmt.Sprintf("%d", stats.Totals.TotalViews),
		fmt.Sprintf("%d", stats.Totals.TotalShares),
		"",
	})

	if err := writeTable([]string{"category", "articles", "featured", "enriched", "views", "shares", "latest_published_at"}, categoryRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render category table: %v\n", err)
		return 1
	}

	if len(stats.RecentTicks) == 0 {
		return 0
	}

	fmt.Println()
	tickRows := make([][]string, 0, len(stats.RecentTicks))
	for _, tick := range stats.RecentTicks {
		errMsg := ""
		if tick.ErrorMessage != nil {
			errMsg = truncateForTable(*tick.ErrorMessage, 60)
		}
		tickRows = append(tickRows, []string{
			fmt.Sprintf("%d", tick.TickID),
			formatUTCTimestamp(tick.StartedAt),
			formatUTCTimestampPtr(tick.FinishedAt),
			tick.Status,
			fmt.Sprintf("%d", tick.ItemsFetched),
			fmt.Sprintf("%d", tick.ArticlesCreated),
			fmt.Sprintf("%d", tick.DuplicatesSkipped),
			errMsg,
		})
	}

	if err := writeTable([]string{"tick", "started_at", "finished_at", "status", "fetched", "created", "skipped", "error"}, tickRows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render tick table: %v\n", err)
		return 1
	}

	return 0
}
