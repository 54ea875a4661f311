package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const maxTickErrorLength = 4000

// TickCounters summarizes one pipeline run for the ingest ledger.
type TickCounters struct {
	SourcesProcessed  int
	SourcesFailed     int
	ItemsFetched      int
	ArticlesCreated   int
	DuplicatesSkipped int
	ItemsFailed       int
}

// TickSummary is a ledger row as read back for stats and CLI output.
type TickSummary struct {
	TickID            int64      `json:"tick_id"`
	TickUUID          string     `json:"tick_uuid"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	Status            string     `json:"status"`
	SourcesProcessed  int        `json:"sources_processed"`
	SourcesFailed     int        `json:"sources_failed"`
	ItemsFetched      int        `json:"items_fetched"`
	ArticlesCreated   int        `json:"articles_created"`
	DuplicatesSkipped int        `json:"duplicates_skipped"`
	ItemsFailed       int        `json:"items_failed"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
}

// BeginTick opens a ledger row for a pipeline run.
func (p *Pool) BeginTick(ctx context.Context, startedAt time.Time) (int64, error) {
	const q = `
INSERT INTO news.ingest_ticks (started_at, status)
VALUES ($1, 'running')
RETURNING tick_id
`
	var tickID int64
	if err := p.QueryRow(ctx, q, startedAt.UTC()).Scan(&tickID); err != nil {
		return 0, fmt.Errorf("insert ingest tick: %w", err)
	}
	return tickID, nil
}

// CompleteTick closes a ledger row with final counters.
func (p *Pool) CompleteTick(ctx context.Context, tickID int64, counters TickCounters, finishedAt time.Time) error {
	const q = `
UPDATE news.ingest_ticks
SET status = 'completed',
    finished_at = $2,
    sources_processed = $3,
    sources_failed = $4,
    items_fetched = $5,
    articles_created = $6,
    duplicates_skipped = $7,
    items_failed = $8
WHERE tick_id = $1
`
	tag, err := p.Exec(ctx, q,
		tickID,
		finishedAt.UTC(),
		counters.SourcesProcessed,
		counters.SourcesFailed,
		counters.ItemsFetched,
		counters.ArticlesCreated,
		counters.DuplicatesSkipped,
		counters.ItemsFailed,
	)
	if err != nil {
		return fmt.Errorf("complete ingest tick id=%d: %w", tickID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete ingest tick id=%d: %w", tickID, ErrNoRows)
	}
	return nil
}

// FailTick closes a ledger row with an error message.
func (p *Pool) FailTick(ctx context.Context, tickID int64, cause error, finishedAt time.Time) error {
	message := "unknown failure"
	if cause != nil {
		message = strings.TrimSpace(cause.Error())
	}
	if len(message) > maxTickErrorLength {
		message = message[:maxTickErrorLength]
	}

	const q = `
UPDATE news.ingest_ticks
SET status = 'failed',
    finished_at = $2,
    error_message = $3
WHERE tick_id = $1
`
	tag, err := p.Exec(ctx, q, tickID, finishedAt.UTC(), message)
	if err != nil {
		return fmt.Errorf("fail ingest tick id=%d: %w", tickID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("fail ingest tick id=%d: %w", tickID, ErrNoRows)
	}
	return nil
}

// ListRecentTicks returns the newest ledger rows, start time descending.
func (p *Pool) ListRecentTicks(ctx context.Context, limit int) ([]TickSummary, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	tick_id,
	tick_uuid::text,
	started_at,
	finished_at,
	status,
	sources_processed,
	sources_failed,
	items_fetched,
	articles_created,
	duplicates_skipped,
	items_failed,
	error_message
FROM news.ingest_ticks
ORDER BY started_at DESC, tick_id DESC
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query ingest ticks: %w", err)
	}
	defer rows.Close()

	ticks := make([]TickSummary, 0, limit)
	for rows.Next() {
		var tick TickSummary
		if err := rows.Scan(
			&tick.TickID,
			&tick.TickUUID,
			&tick.StartedAt,
			&tick.FinishedAt,
			&tick.Status,
			&tick.SourcesProcessed,
			&tick.SourcesFailed,
			&tick.ItemsFetched,
			&tick.ArticlesCreated,
			&tick.DuplicatesSkipped,
			&tick.ItemsFailed,
			&tick.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan ingest tick row: %w", err)
		}
		ticks = append(ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingest tick rows: %w", err)
	}
	return ticks, nil
}
