package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"horse.fit/finwire/internal/cli"
	"horse.fit/finwire/internal/config"
	"horse.fit/finwire/internal/db"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

func parseOutputFormat(raw, defaultFormat string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	if format == "" {
		format = strings.TrimSpace(strings.ToLower(defaultFormat))
	}
	switch format {
	case outputFormatTable, outputFormatJSON:
		return format, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func truncateForTable(value string, maxLen int) string {
	trimmed := strings.TrimSpace(value)
	if maxLen <= 0 {
		return trimmed
	}
	if utf8.RuneCountInString(trimmed) <= maxLen {
		return trimmed
	}

	runes := []rune(trimmed)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

func formatUTCTimestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func formatUTCTimestampPtr(value *time.Time) string {
	if value == nil || value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func writeTable(headers []string, rows [][]string) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(writer, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return writer.Flush()
}

func loadConfigWithEnv(envLoader *cli.EnvLoader) (*config.Config, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func connectReadPool(timeout time.Duration, envLoader *cli.EnvLoader) (context.Context, context.CancelFunc, *db.Pool, error) {
	cfg, err := loadConfigWithEnv(envLoader)
	if err != nil {
		return nil, nil, nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return ctx, cancel, pool, nil
}
