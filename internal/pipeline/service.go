// Package pipeline ingests raw feed items into canonical articles: fetch,
// near-duplicate check, enrichment, and exactly-once persistence under a
// stable slug.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"horse.fit/finwire/internal/db"
	"horse.fit/finwire/internal/enrich"
	"horse.fit/finwire/internal/feed"
	"horse.fit/finwire/internal/globaltime"
	"horse.fit/finwire/internal/notify"
	"horse.fit/finwire/internal/similarity"
	"horse.fit/finwire/internal/slug"
)

// Store is the persistence contract the pipeline relies on. *db.Pool is the
// production implementation.
type Store interface {
	Ping(ctx context.Context) error
	CreateArticle(ctx context.Context, record db.NewArticle) (db.Article, error)
	ListRecentByCategory(ctx context.Context, category string, limit int) ([]db.Article, error)
	ExistsBySlug(ctx context.Context, slug string) (bool, error)
	BeginTick(ctx context.Context, startedAt time.Time) (int64, error)
	CompleteTick(ctx context.Context, tickID int64, counters db.TickCounters, finishedAt time.Time) error
	FailTick(ctx context.Context, tickID int64, cause error, finishedAt time.Time) error
}

// Fetcher yields raw items from one configured source.
type Fetcher interface {
	Fetch(ctx context.Context, src feed.Source) ([]feed.Item, error)
}

// Enricher expands a raw item into full article fields.
type Enricher interface {
	Available() bool
	Enrich(ctx context.Context, title, body, categoryHint string) (*enrich.Result, error)
}

// Publisher receives the new-article event after a successful persist.
type Publisher interface {
	Publish(event notify.Event)
}

// Options tunes one pipeline instance.
type Options struct {
	Sources             []feed.Source
	SimilarityThreshold float64
	DedupPoolSize       int
	EnrichPause         time.Duration
	FeaturedRate        float64
	// Languages is the ISO 639-1 allowlist; empty disables the gate.
	Languages []string
	// DetectLanguage returns the ISO 639-1 code of a text sample, or "" when
	// undetermined. Ignored when Languages is empty.
	DetectLanguage func(text string) string
}

const (
	defaultDedupPoolSize = 30
	defaultFeaturedRate  = 0.2
)

// TickResult summarizes one pipeline run.
type TickResult struct {
	SourcesProcessed  int
	SourcesFailed     int
	ItemsFetched      int
	ArticlesCreated   int
	DuplicatesSkipped int
	LanguageSkipped   int
	ItemsFailed       int
}

func (r TickResult) counters() db.TickCounters {
	return db.TickCounters{
		SourcesProcessed:  r.SourcesProcessed,
		SourcesFailed:     r.SourcesFailed,
		ItemsFetched:      r.ItemsFetched,
		ArticlesCreated:   r.ArticlesCreated,
		DuplicatesSkipped: r.DuplicatesSkipped + r.LanguageSkipped,
		ItemsFailed:       r.ItemsFailed,
	}
}

// Service orchestrates fetch, dedup, enrich, and persist for all configured
// sources.
type Service struct {
	store     Store
	fetcher   Fetcher
	enricher  Enricher
	publisher Publisher
	opts      Options
	logger    zerolog.Logger
}

func NewService(store Store, fetcher Fetcher, enricher Enricher, publisher Publisher, opts Options, logger zerolog.Logger) *Service {
	if opts.SimilarityThreshold <= 0 || opts.SimilarityThreshold > 1 {
		opts.SimilarityThreshold = similarity.DefaultThreshold
	}
	if opts.DedupPoolSize <= 0 {
		opts.DedupPoolSize = defaultDedupPoolSize
	}
	if opts.FeaturedRate < 0 || opts.FeaturedRate > 1 {
		opts.FeaturedRate = defaultFeaturedRate
	}
	return &Service{
		store:     store,
		fetcher:   fetcher,
		enricher:  enricher,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}
}

// comparison is one member of the duplicate-check pool.
type comparison struct {
	Title string
	Slug  string
}

// tickState carries per-run caches: the per-category comparison pools and the
// slugs taken so far, including articles persisted earlier in the same tick.
type tickState struct {
	pools map[string][]comparison
	taken map[string]struct{}
}

// Run executes one full ingestion tick across all configured sources.
// Sources are processed sequentially; a failure on one source or item never
// aborts its siblings. An unreachable store aborts the tick, since nothing can
// be persisted; the error is returned so the next scheduled tick can retry
// independently.
func (s *Service) Run(ctx context.Context) (TickResult, error) {
	var result TickResult

	if s == nil || s.store == nil {
		return result, fmt.Errorf("pipeline service is not initialized")
	}
	if err := s.store.Ping(ctx); err != nil {
		return result, fmt.Errorf("article store unavailable: %w", err)
	}

	tickID, err := s.store.BeginTick(ctx, globaltime.UTC())
	if err != nil {
		return result, fmt.Errorf("open ingest tick: %w", err)
	}

	state := &tickState{
		pools: make(map[string][]comparison, len(s.opts.Sources)),
		taken: make(map[string]struct{}),
	}

	runErr := s.runSources(ctx, state, &result)
	finishedAt := globaltime.UTC()

	if runErr != nil {
		if markErr := s.store.FailTick(ctx, tickID, runErr, finishedAt); markErr != nil {
			s.logger.Error().Err(markErr).Int64("tick_id", tickID).Msg("failed to mark tick failed")
		}
		return result, runErr
	}

	if err := s.store.CompleteTick(ctx, tickID, result.counters(), finishedAt); err != nil {
		s.logger.Error().Err(err).Int64("tick_id", tickID).Msg("failed to mark tick completed")
	}

	s.logger.Info().
		Int64("tick_id", tickID).
		Int("sources_processed", result.SourcesProcessed).
		Int("sources_failed", result.SourcesFailed).
		Int("items_fetched", result.ItemsFetched).
		Int("articles_created", result.ArticlesCreated).
		Int("duplicates_skipped", result.DuplicatesSkipped).
		Int("language_skipped", result.LanguageSkipped).
		Int("items_failed", result.ItemsFailed).
		Msg("ingest tick completed")

	return result, nil
}

func (s *Service) runSources(ctx context.Context, state *tickState, result *TickResult) error {
	for _, src := range s.opts.Sources {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("tick cancelled: %w", err)
		}

		items, err := s.fetcher.Fetch(ctx, src)
		if err != nil {
			result.SourcesFailed++
			s.logger.Warn().Err(err).Str("source", src.Name).Msg("source fetch failed, skipping for this tick")
			continue
		}
		result.SourcesProcessed++
		result.ItemsFetched += len(items)

		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("tick cancelled: %w", err)
			}

			outcome, enrichCalled := s.processItem(ctx, state, item)
			switch outcome {
			case outcomePersisted:
				result.ArticlesCreated++
			case outcomeDuplicate:
				result.DuplicatesSkipped++
			case outcomeLanguage:
				result.LanguageSkipped++
			case outcomeFailed:
				result.ItemsFailed++
			}

			// Space out generation calls within a batch so the external API
			// is not hit in a burst. A call that errored still counts against
			// the external quota, so it is paced the same as a successful one.
			if enrichCalled && i < len(items)-1 {
				if err := sleepCtx(ctx, s.opts.EnrichPause); err != nil {
					return fmt.Errorf("tick cancelled: %w", err)
				}
			}
		}
	}
	return nil
}

type itemOutcome int

const (
	outcomePersisted itemOutcome = iota
	outcomeDuplicate
	outcomeLanguage
	outcomeFailed
)

// processItem runs one feed item through the gate, duplicate check, enrichment
// and persist steps. The second return reports whether a generation call was
// made, so the caller can pace calls regardless of how the item came out.
func (s *Service) processItem(ctx context.Context, state *tickState, item feed.Item) (itemOutcome, bool) {
	itemLog := s.logger.With().Str("source", item.SourceName).Str("title", item.Title).Logger()

	if s.rejectedByLanguageGate(item) {
		itemLog.Debug().Msg("item skipped by language gate")
		return outcomeLanguage, false
	}

	category := feed.NormalizeCategory(item.SourceCategory, "world")

	pool, err := s.poolFor(ctx, state, category)
	if err != nil {
		itemLog.Warn().Err(err).Msg("duplicate-check pool unavailable, skipping item")
		return outcomeFailed, false
	}

	for _, existing := range pool {
		score := similarity.Score(existing.Title, item.Title)
		if score >= s.opts.SimilarityThreshold {
			itemLog.Debug().
				Float64("score", score).
				Str("existing_title", existing.Title).
				Msg("item skipped as near-duplicate")
			return outcomeDuplicate, false
		}
	}

	enrichCalled := s.enricher != nil && s.enricher.Available()

	record, err := s.buildRecord(ctx, item, category)
	if err != nil {
		itemLog.Warn().Err(err).Msg("enrichment failed, skipping item")
		return outcomeFailed, enrichCalled
	}

	created, err := s.persist(ctx, state, *record)
	if err != nil {
		itemLog.Warn().Err(err).Msg("persist failed, skipping item")
		return outcomeFailed, enrichCalled
	}

	state.pools[category] = append(state.pools[category], comparison{Title: created.Title, Slug: created.Slug})
	state.taken[created.Slug] = struct{}{}

	if s.publisher != nil {
		s.publisher.Publish(notify.Event{
			Type:      notify.EventTypeNewArticle,
			ArticleID: created.ID,
			Slug:      created.Slug,
			Category:  created.Category,
		})
	}

	itemLog.Info().
		Int64("article_id", created.ID).
		Str("slug", created.Slug).
		Bool("enriched", created.Enriched).
		Msg("article persisted")
	return outcomePersisted, enrichCalled
}

func (s *Service) rejectedByLanguageGate(item feed.Item) bool {
	if len(s.opts.Languages) == 0 || s.opts.DetectLanguage == nil {
		return false
	}

	sample := strings.TrimSpace(item.Title + " " + item.Body)
	code := s.opts.DetectLanguage(sample)
	if code == "" {
		// Undetermined language passes; the gate only rejects positive
		// detections outside the allowlist.
		return false
	}
	for _, allowed := range s.opts.Languages {
		if code == allowed {
			return false
		}
	}
	return true
}

func (s *Service) poolFor(ctx context.Context, state *tickState, category string) ([]comparison, error) {
	if pool, ok := state.pools[category]; ok {
		return pool, nil
	}

	recent, err := s.store.ListRecentByCategory(ctx, category, s.opts.DedupPoolSize)
	if err != nil {
		return nil, fmt.Errorf("load comparison pool for %q: %w", category, err)
	}

	pool := make([]comparison, 0, len(recent))
	for _, article := range recent {
		pool = append(pool, comparison{Title: article.Title, Slug: article.Slug})
		state.taken[article.Slug] = struct{}{}
	}
	state.pools[category] = pool
	return pool, nil
}

// buildRecord turns a raw item into a NewArticle, through the enricher when a
// credential is configured and verbatim otherwise. A per-item enrichment
// failure is an error (the item is skipped); only the unconfigured state
// falls back to the raw item.
func (s *Service) buildRecord(ctx context.Context, item feed.Item, category string) (*db.NewArticle, error) {
	if s.enricher == nil || !s.enricher.Available() {
		return s.rawRecord(item, category), nil
	}

	result, err := s.enricher.Enrich(ctx, item.Title, item.Body, category)
	if err != nil {
		if errors.Is(err, enrich.ErrUnavailable) {
			return s.rawRecord(item, category), nil
		}
		return nil, err
	}

	record := &db.NewArticle{
		Title:          strings.TrimSpace(result.Title),
		Summary:        strings.TrimSpace(result.Summary),
		Content:        strings.TrimSpace(result.Content),
		Category:       feed.NormalizeCategory(result.Category, category),
		AuthorName:     strings.TrimSpace(result.AuthorName),
		SourceName:     item.SourceName,
		SourceURL:      optionalLink(item.Link),
		PublishedAt:    item.PublishedAt,
		Enriched:       true,
		Tags:           result.Tags,
		RelatedSymbols: result.RelatedSymbols,
	}
	if record.Title == "" {
		record.Title = item.Title
	}
	record.Featured = s.featuredFor(record.Title)
	return record, nil
}

func (s *Service) rawRecord(item feed.Item, category string) *db.NewArticle {
	body := strings.TrimSpace(item.Body)
	summary := body
	if len(summary) > 280 {
		summary = truncateAtWord(summary, 280)
	}

	return &db.NewArticle{
		Title:          item.Title,
		Summary:        summary,
		Content:        body,
		Category:       category,
		AuthorName:     item.SourceName,
		SourceName:     item.SourceName,
		SourceURL:      optionalLink(item.Link),
		PublishedAt:    item.PublishedAt,
		Featured:       s.featuredFor(item.Title),
		Enriched:       false,
		Tags:           []string{category},
		RelatedSymbols: extractSymbols(item.Title + " " + body),
	}
}

// persist derives a unique slug and creates the article, retrying once with a
// fresh disambiguating suffix when the store reports a slug collision.
func (s *Service) persist(ctx context.Context, state *tickState, record db.NewArticle) (db.Article, error) {
	candidate := slug.Unique(record.Title, state.taken)

	// The tick-local pool does not include all historical slugs; ask the
	// store before trusting the candidate.
	for attempts := 0; attempts < 5; attempts++ {
		exists, err := s.store.ExistsBySlug(ctx, candidate)
		if err != nil {
			return db.Article{}, fmt.Errorf("check slug availability: %w", err)
		}
		if !exists {
			break
		}
		state.taken[candidate] = struct{}{}
		candidate = slug.Unique(record.Title, state.taken)
	}

	record.Slug = candidate
	created, err := s.store.CreateArticle(ctx, record)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, db.ErrDuplicateSlug) {
		return db.Article{}, err
	}

	// Unique-constraint backstop: one retry with a time-derived suffix.
	record.Slug = candidate + "-" + strconv.FormatInt(globaltime.UTC().Unix()%1_000_000, 10)
	created, retryErr := s.store.CreateArticle(ctx, record)
	if retryErr != nil {
		return db.Article{}, fmt.Errorf("slug retry after collision: %w", retryErr)
	}
	return created, nil
}

// featuredFor applies the deterministic featured rule: a title's hash lands
// in the featured bucket with probability FeaturedRate.
func (s *Service) featuredFor(title string) bool {
	if s.opts.FeaturedRate <= 0 {
		return false
	}
	if s.opts.FeaturedRate >= 1 {
		return true
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(title))))
	bucket := float64(h.Sum32()) / float64(math.MaxUint32)
	return bucket < s.opts.FeaturedRate
}

func optionalLink(link string) *string {
	trimmed := strings.TrimSpace(link)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func truncateAtWord(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	// Back up to a rune boundary first so unspaced text never gets cut
	// mid-rune, then prefer the last word break inside the window.
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	truncated := text[:cut]
	if idx := strings.LastIndexByte(truncated, ' '); idx > 0 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated) + "…"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
