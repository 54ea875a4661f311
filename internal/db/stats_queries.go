package db

import (
	"context"
	"fmt"
	"time"
)

// StatsCategoryCount stores per-category article counts.
type StatsCategoryCount struct {
	Category    string     `json:"category"`
	Articles    int64      `json:"articles"`
	Featured    int64      `json:"featured"`
	Enriched    int64      `json:"enriched"`
	LatestAt    *time.Time `json:"latest_published_at,omitempty"`
	TotalViews  int64      `json:"total_views"`
	TotalShares int64      `json:"total_shares"`
}

// StatsTotals stores totals across categories.
type StatsTotals struct {
	Articles    int64 `json:"articles"`
	Featured    int64 `json:"featured"`
	Enriched    int64 `json:"enriched"`
	TotalViews  int64 `json:"total_views"`
	TotalShares int64 `json:"total_shares"`
}

// IngestStats is the read model behind the stats command and endpoint.
type IngestStats struct {
	Categories  []StatsCategoryCount `json:"categories"`
	Totals      StatsTotals          `json:"totals"`
	RecentTicks []TickSummary        `json:"recent_ticks"`
}

// QueryIngestStats returns per-category article counts plus the most recent
// ingest ledger rows.
func (p *Pool) QueryIngestStats(ctx context.Context, recentTickLimit int) (*IngestStats, error) {
	if recentTickLimit <= 0 {
		recentTickLimit = 10
	}

	stats := &IngestStats{
		Categories: make([]StatsCategoryCount, 0, 8),
	}

	const countsQuery = `
SELECT
	category,
	COUNT(*)::BIGINT AS articles,
	COUNT(*) FILTER (WHERE featured)::BIGINT AS featured,
	COUNT(*) FILTER (WHERE enriched)::BIGINT AS enriched,
	MAX(published_at) AS latest_published_at,
	COALESCE(SUM(view_count), 0)::BIGINT AS total_views,
	COALESCE(SUM(share_count), 0)::BIGINT AS total_shares
FROM news.articles
GROUP BY category
ORDER BY 1
`
	rows, err := p.Query(ctx, countsQuery)
	if err != nil {
		return nil, fmt.Errorf("query stats category counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row StatsCategoryCount
		if err := rows.Scan(
			&row.Category,
			&row.Articles,
			&row.Featured,
			&row.Enriched,
			&row.LatestAt,
			&row.TotalViews,
			&row.TotalShares,
		); err != nil {
			return nil, fmt.Errorf("scan stats category row: %w", err)
		}
		stats.Categories = append(stats.Categories, row)
		stats.Totals.Articles += row.Articles
		stats.Totals.Featured += row.Featured
		stats.Totals.Enriched += row.Enriched
		stats.Totals.TotalViews += row.TotalViews
		stats.Totals.TotalShares += row.TotalShares
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats category rows: %w", err)
	}

	ticks, err := p.ListRecentTicks(ctx, recentTickLimit)
	if err != nil {
		return nil, err
	}
	stats.RecentTicks = ticks

	return stats, nil
}

// CategoryCounts returns article counts per category for the categories
// endpoint.
func (p *Pool) CategoryCounts(ctx context.Context) (map[string]int64, error) {
	const q = `
SELECT category, COUNT(*)::BIGINT
FROM news.articles
GROUP BY category
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query category counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64, 8)
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan category count row: %w", err)
		}
		counts[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category count rows: %w", err)
	}
	return counts, nil
}
