package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/finwire/internal/cli"
	"horse.fit/finwire/internal/db"
	"horse.fit/finwire/internal/feed"
)

func runArticles(args []string) int {
	fs := flag.NewFlagSet("articles", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	category := fs.String("category", "", "Filter by category")
	search := fs.String("q", "", "Search in title and summary")
	featuredOnly := fs.Bool("featured", false, "Only featured articles")
	limit := fs.Int("limit", 25, "Maximum rows to return")
	offset := fs.Int("offset", 0, "Rows to skip")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "articles does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	normalizedCategory := strings.TrimSpace(strings.ToLower(*category))
	if normalizedCategory != "" && !feed.ValidCategory(normalizedCategory) {
		fmt.Fprintf(os.Stderr, "Invalid --category: must be one of %s\n", strings.Join(feed.Categories, ", "))
		return 2
	}
	if *limit < 1 || *limit > 500 {
		fmt.Fprintln(os.Stderr, "--limit must be between 1 and 500")
		return 2
	}
	if *offset < 0 {
		fmt.Fprintln(os.Stderr, "--offset must be >= 0")
		return 2
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	opts := db.ArticleListOptions{
		Category: normalizedCategory,
		Search:   strings.TrimSpace(*search),
		Limit:    *limit,
		Offset:   *offset,
	}
	if *featuredOnly {
		featured := true
		opts.Featured = &featured
	}

	articles, err := pool.ListArticles(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query articles: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(articles); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(articles))
	for _, article := range articles {
		flags := ""
		if article.Featured {
			flags += "F"
		}
		if article.Enriched {
			flags += "E"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", article.ID),
			truncateForTable(article.Slug, 48),
			truncateForTable(article.Title, 60),
			article.Category,
			flags,
			formatUTCTimestamp(article.PublishedAt),
			fmt.Sprintf("%d", article.ViewCount),
		})
	}

	if err := writeTable([]string{"id", "slug", "title", "category", "flags", "published_at", "views"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}

	return 0
}
