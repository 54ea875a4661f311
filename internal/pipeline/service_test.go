package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"horse.fit/finwire/internal/db"
	"horse.fit/finwire/internal/enrich"
	"horse.fit/finwire/internal/feed"
	"horse.fit/finwire/internal/notify"
)

// fakeStore is an in-memory Store keyed by slug.
type fakeStore struct {
	mu       sync.Mutex
	articles map[string]db.Article
	nextID   int64
	ticks    []fakeTick

	pingErr   error
	createErr error
}

type fakeTick struct {
	id       int64
	status   string
	counters db.TickCounters
	errMsg   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{articles: make(map[string]db.Article)}
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) CreateArticle(ctx context.Context, record db.NewArticle) (db.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return db.Article{}, s.createErr
	}
	if _, exists := s.articles[record.Slug]; exists {
		return db.Article{}, fmt.Errorf("create article slug=%q: %w", record.Slug, db.ErrDuplicateSlug)
	}

	s.nextID++
	article := db.Article{
		ID:             s.nextID,
		Slug:           record.Slug,
		Title:          record.Title,
		Summary:        record.Summary,
		Content:        record.Content,
		Category:       record.Category,
		AuthorName:     record.AuthorName,
		SourceName:     record.SourceName,
		SourceURL:      record.SourceURL,
		PublishedAt:    record.PublishedAt,
		Featured:       record.Featured,
		Enriched:       record.Enriched,
		Tags:           record.Tags,
		RelatedSymbols: record.RelatedSymbols,
	}
	s.articles[record.Slug] = article
	return article, nil
}

func (s *fakeStore) ListRecentByCategory(ctx context.Context, category string, limit int) ([]db.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.Article, 0, limit)
	for _, article := range s.articles {
		if article.Category == category {
			out = append(out, article)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.articles[slug]
	return ok, nil
}

func (s *fakeStore) BeginTick(ctx context.Context, startedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.ticks) + 1)
	s.ticks = append(s.ticks, fakeTick{id: id, status: "running"})
	return id, nil
}

func (s *fakeStore) CompleteTick(ctx context.Context, tickID int64, counters db.TickCounters, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[tickID-1].status = "completed"
	s.ticks[tickID-1].counters = counters
	return nil
}

func (s *fakeStore) FailTick(ctx context.Context, tickID int64, cause error, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[tickID-1].status = "failed"
	s.ticks[tickID-1].errMsg = cause.Error()
	return nil
}

// fakeFetcher serves canned items per source name.
type fakeFetcher struct {
	items map[string][]feed.Item
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, src feed.Source) ([]feed.Item, error) {
	if err := f.errs[src.Name]; err != nil {
		return nil, &feed.FetchError{Source: src.Name, Err: err}
	}
	return f.items[src.Name], nil
}

// fakeEnricher echoes the input with a recognizable prefix.
type fakeEnricher struct {
	available bool
	err       error
	category  string
	calls     int
	callTimes []time.Time
}

func (e *fakeEnricher) Available() bool { return e.available }

func (e *fakeEnricher) Enrich(ctx context.Context, title, body, categoryHint string) (*enrich.Result, error) {
	e.calls++
	e.callTimes = append(e.callTimes, time.Now())
	if e.err != nil {
		return nil, e.err
	}
	category := e.category
	if category == "" {
		category = categoryHint
	}
	return &enrich.Result{
		Title:          title,
		Summary:        "summary: " + title,
		Content:        "content: " + body,
		AuthorName:     "Newsroom",
		Category:       category,
		Tags:           []string{"generated"},
		RelatedSymbols: []string{"SPY"},
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *recordingPublisher) Publish(event notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func marketsSource() feed.Source {
	return feed.Source{Name: "Test Wire", URL: "https://example.com/rss", Category: "markets"}
}

func newTestService(store Store, fetcher Fetcher, enricher Enricher, publisher Publisher, opts Options) *Service {
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = 0.75
	}
	if opts.DedupPoolSize == 0 {
		opts.DedupPoolSize = 30
	}
	return NewService(store, fetcher, enricher, publisher, opts, zerolog.Nop())
}

func TestRunPersistsFreshItems(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {
			{Title: "Fed signals rate cut", Body: "The Federal Reserve signaled a rate cut.", SourceName: "Test Wire", SourceCategory: "markets"},
			{Title: "Oil prices jump on supply fears", Body: "Crude futures climbed.", SourceName: "Test Wire", SourceCategory: "markets"},
		},
	}}
	enricher := &fakeEnricher{available: true}
	publisher := &recordingPublisher{}

	svc := newTestService(store, fetcher, enricher, publisher, Options{Sources: []feed.Source{marketsSource()}})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ArticlesCreated != 2 {
		t.Fatalf("ArticlesCreated = %d, want 2", result.ArticlesCreated)
	}
	if result.DuplicatesSkipped != 0 {
		t.Fatalf("DuplicatesSkipped = %d, want 0", result.DuplicatesSkipped)
	}
	if len(store.articles) != 2 {
		t.Fatalf("store has %d articles, want 2", len(store.articles))
	}
	if _, ok := store.articles["fed-signals-rate-cut"]; !ok {
		t.Fatalf("expected slug fed-signals-rate-cut, have %v", slugs(store))
	}
	if len(publisher.events) != 2 {
		t.Fatalf("published %d events, want 2", len(publisher.events))
	}
	for _, article := range store.articles {
		if !article.Enriched {
			t.Fatalf("article %q not marked enriched", article.Slug)
		}
	}
}

func TestRunSkipsNearDuplicateWithinTick(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {
			{Title: "Fed signals rate cut", Body: "first", SourceName: "Test Wire", SourceCategory: "markets"},
			{Title: "Fed signals possible rate cut", Body: "second", SourceName: "Test Wire", SourceCategory: "markets"},
		},
	}}

	svc := newTestService(store, fetcher, &fakeEnricher{}, nil, Options{Sources: []feed.Source{marketsSource()}})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ArticlesCreated != 1 {
		t.Fatalf("ArticlesCreated = %d, want 1", result.ArticlesCreated)
	}
	if result.DuplicatesSkipped != 1 {
		t.Fatalf("DuplicatesSkipped = %d, want 1", result.DuplicatesSkipped)
	}
}

func TestRunSkipsNearDuplicateOfStoredArticle(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	if _, err := store.CreateArticle(context.Background(), db.NewArticle{
		Slug: "fed-signals-rate-cut", Title: "Fed signals rate cut", Category: "markets",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {
			{Title: "Fed signals possible rate cut", Body: "b", SourceName: "Test Wire", SourceCategory: "markets"},
		},
	}}

	svc := newTestService(store, fetcher, &fakeEnricher{}, nil, Options{Sources: []feed.Source{marketsSource()}})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.DuplicatesSkipped != 1 || result.ArticlesCreated != 0 {
		t.Fatalf("created=%d skipped=%d, want 0/1", result.ArticlesCreated, result.DuplicatesSkipped)
	}
}

func TestRunAllowsSameTitleAcrossCategories(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	if _, err := store.CreateArticle(context.Background(), db.NewArticle{
		Slug: "market-update", Title: "Market update", Category: "crypto",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {
			{Title: "Market update", Body: "b", SourceName: "Test Wire", SourceCategory: "markets"},
		},
	}}

	svc := newTestService(store, fetcher, &fakeEnricher{}, nil, Options{Sources: []feed.Source{marketsSource()}})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Duplicate checks are scoped to a category; same title elsewhere is fine.
	if result.ArticlesCreated != 1 {
		t.Fatalf("ArticlesCreated = %d, want 1", result.ArticlesCreated)
	}
	if _, ok := store.articles["market-update-1"]; !ok {
		t.Fatalf("expected disambiguated slug market-update-1, have %v", slugs(store))
	}
}

func TestRunFallsBackToRawWhenEnricherUnavailable(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {
			{
				Title:          "Apple beats earnings as $AAPL climbs",
				Body:           strings.Repeat("Strong quarter for the iPhone maker. ", 20),
				SourceName:     "Test Wire",
				SourceCategory: "companies",
			},
		},
	}}

	svc := newTestService(store, fetcher, &fakeEnricher{available: false}, nil, Options{
		Sources: []feed.Source{{Name: "Test Wire", URL: "https://example.com/rss", Category: "companies"}},
	})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ArticlesCreated != 1 {
		t.Fatalf("ArticlesCreated = %d, want 1", result.ArticlesCreated)
	}

	var article db.Article
	for _, a := range store.articles {
		article = a
	}
	if article.Enriched {
		t.Fatal("raw fallback article must not be marked enriched")
	}
	if article.AuthorName != "Test Wire" {
		t.Fatalf("AuthorName = %q, want source name", article.AuthorName)
	}
	if len(article.Summary) > 281+len("…") {
		t.Fatalf("summary not truncated: %d bytes", len(article.Summary))
	}
	if len(article.RelatedSymbols) != 1 || article.RelatedSymbols[0] != "AAPL" {
		t.Fatalf("RelatedSymbols = %v, want [AAPL]", article.RelatedSymbols)
	}
}

func TestRunSkipsItemOnEnrichError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {
			{Title: "Broken item", Body: "b", SourceName: "Test Wire", SourceCategory: "markets"},
		},
	}}
	enricher := &fakeEnricher{available: true, err: errors.New("model returned malformed json")}

	svc := newTestService(store, fetcher, enricher, nil, Options{Sources: []feed.Source{marketsSource()}})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ItemsFailed != 1 || result.ArticlesCreated != 0 {
		t.Fatalf("created=%d failed=%d, want 0/1", result.ArticlesCreated, result.ItemsFailed)
	}
}

func TestRunPacesEnrichCallsAfterErrors(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {
			{Title: "First broken item", Body: "a", SourceName: "Test Wire", SourceCategory: "markets"},
			{Title: "Second broken item", Body: "b", SourceName: "Test Wire", SourceCategory: "markets"},
			{Title: "Third broken item", Body: "c", SourceName: "Test Wire", SourceCategory: "markets"},
		},
	}}
	enricher := &fakeEnricher{available: true, err: errors.New("model overloaded")}

	pause := 20 * time.Millisecond
	svc := newTestService(store, fetcher, enricher, nil, Options{
		Sources:     []feed.Source{marketsSource()},
		EnrichPause: pause,
	})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ItemsFailed != 3 {
		t.Fatalf("ItemsFailed = %d, want 3", result.ItemsFailed)
	}
	if enricher.calls != 3 {
		t.Fatalf("enrich calls = %d, want 3", enricher.calls)
	}
	for i := 1; i < len(enricher.callTimes); i++ {
		if gap := enricher.callTimes[i].Sub(enricher.callTimes[i-1]); gap < pause {
			t.Fatalf("gap between calls %d and %d = %v, want at least %v", i-1, i, gap, pause)
		}
	}
}

func TestRunIsolatesSourceFailures(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fetcher := &fakeFetcher{
		items: map[string][]feed.Item{
			"Good Wire": {
				{Title: "Healthy source still works", Body: "b", SourceName: "Good Wire", SourceCategory: "markets"},
			},
		},
		errs: map[string]error{"Bad Wire": errors.New("connection refused")},
	}

	svc := newTestService(store, fetcher, &fakeEnricher{}, nil, Options{Sources: []feed.Source{
		{Name: "Bad Wire", URL: "https://bad.example.com/rss", Category: "markets"},
		{Name: "Good Wire", URL: "https://good.example.com/rss", Category: "markets"},
	}})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.SourcesFailed != 1 || result.SourcesProcessed != 1 {
		t.Fatalf("processed=%d failed=%d, want 1/1", result.SourcesProcessed, result.SourcesFailed)
	}
	if result.ArticlesCreated != 1 {
		t.Fatalf("ArticlesCreated = %d, want 1", result.ArticlesCreated)
	}
}

func TestRunAbortsWhenStoreUnreachable(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.pingErr = errors.New("dial tcp: connection refused")

	svc := newTestService(store, &fakeFetcher{}, &fakeEnricher{}, nil, Options{Sources: []feed.Source{marketsSource()}})

	if _, err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected error when store ping fails")
	}
	if len(store.ticks) != 0 {
		t.Fatalf("no tick should open when store is unreachable, got %d", len(store.ticks))
	}
}

func TestRunRetriesOnceOnSlugCollision(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {
			{Title: "Race winner", Body: "b", SourceName: "Test Wire", SourceCategory: "markets"},
		},
	}}

	// Simulate a concurrent writer landing the same slug between the
	// existence check and the insert.
	raced := false
	racingStore := &collidingStore{fakeStore: store, collideOnce: &raced}

	svc := newTestService(racingStore, fetcher, &fakeEnricher{}, nil, Options{Sources: []feed.Source{marketsSource()}})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ArticlesCreated != 1 {
		t.Fatalf("ArticlesCreated = %d, want 1", result.ArticlesCreated)
	}
	for slug := range store.articles {
		if !strings.HasPrefix(slug, "race-winner-") {
			t.Fatalf("retry slug %q should carry a suffix", slug)
		}
	}
}

// collidingStore rejects the first CreateArticle with ErrDuplicateSlug.
type collidingStore struct {
	*fakeStore
	collideOnce *bool
}

func (s *collidingStore) CreateArticle(ctx context.Context, record db.NewArticle) (db.Article, error) {
	if !*s.collideOnce {
		*s.collideOnce = true
		return db.Article{}, fmt.Errorf("create article slug=%q: %w", record.Slug, db.ErrDuplicateSlug)
	}
	return s.fakeStore.CreateArticle(ctx, record)
}

func TestRunLanguageGate(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {
			{Title: "Der Markt steigt weiter stark an", Body: "b", SourceName: "Test Wire", SourceCategory: "markets"},
			{Title: "Stocks rally on earnings beat", Body: "b", SourceName: "Test Wire", SourceCategory: "markets"},
		},
	}}

	detect := func(text string) string {
		if strings.Contains(text, "Markt") {
			return "de"
		}
		return "en"
	}

	svc := newTestService(store, fetcher, &fakeEnricher{}, nil, Options{
		Sources:        []feed.Source{marketsSource()},
		Languages:      []string{"en"},
		DetectLanguage: detect,
	})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.LanguageSkipped != 1 || result.ArticlesCreated != 1 {
		t.Fatalf("created=%d languageSkipped=%d, want 1/1", result.ArticlesCreated, result.LanguageSkipped)
	}
}

func TestRunRecordsTickLedger(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {
			{Title: "Single story", Body: "b", SourceName: "Test Wire", SourceCategory: "markets"},
		},
	}}

	svc := newTestService(store, fetcher, &fakeEnricher{}, nil, Options{Sources: []feed.Source{marketsSource()}})

	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.ticks) != 1 {
		t.Fatalf("ticks = %d, want 1", len(store.ticks))
	}
	tick := store.ticks[0]
	if tick.status != "completed" {
		t.Fatalf("tick status = %q, want completed", tick.status)
	}
	if tick.counters.ArticlesCreated != 1 || tick.counters.ItemsFetched != 1 {
		t.Fatalf("tick counters = %+v", tick.counters)
	}
}

func TestFeaturedRuleIsDeterministic(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore(), &fakeFetcher{}, &fakeEnricher{}, nil, Options{FeaturedRate: 0.2})

	titles := []string{
		"Fed signals rate cut",
		"Oil prices jump on supply fears",
		"Bitcoin hits new high",
		"Tech stocks slide",
	}
	for _, title := range titles {
		first := svc.featuredFor(title)
		for i := 0; i < 10; i++ {
			if svc.featuredFor(title) != first {
				t.Fatalf("featuredFor(%q) is not deterministic", title)
			}
		}
	}

	always := newTestService(newFakeStore(), &fakeFetcher{}, &fakeEnricher{}, nil, Options{FeaturedRate: 1})
	if !always.featuredFor("anything") {
		t.Fatal("FeaturedRate=1 must always feature")
	}
	never := newTestService(newFakeStore(), &fakeFetcher{}, &fakeEnricher{}, nil, Options{FeaturedRate: -1})
	if never.featuredFor("anything") {
		t.Fatal("FeaturedRate<=0 must never feature")
	}
}

func TestExtractSymbols(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want []string
	}{
		{"Apple beats as $AAPL climbs, $MSFT flat", []string{"AAPL", "MSFT"}},
		{"$AAPL and $AAPL again", []string{"AAPL"}},
		{"no symbols here, $toolong12 ignored", nil},
		{"", nil},
	}

	for _, tc := range cases {
		got := extractSymbols(tc.text)
		if len(got) != len(tc.want) {
			t.Fatalf("extractSymbols(%q) = %v, want %v", tc.text, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("extractSymbols(%q) = %v, want %v", tc.text, got, tc.want)
			}
		}
	}
}

func TestTruncateAtWord(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short text unchanged", "hello world", 280, "hello world"},
		{"cuts at last word break", "alpha beta gamma", 12, "alpha beta…"},
		{"unspaced ascii cut hard", "abcdefghij", 5, "abcde…"},
	}

	for _, tc := range cases {
		if got := truncateAtWord(tc.text, tc.limit); got != tc.want {
			t.Fatalf("%s: truncateAtWord(%q, %d) = %q, want %q", tc.name, tc.text, tc.limit, got, tc.want)
		}
	}

	// An unspaced multibyte body must never be cut inside a rune. Ten
	// three-byte runes with a limit that lands mid-rune back up to the
	// nearest boundary.
	unspaced := strings.Repeat("株", 10)
	got := truncateAtWord(unspaced, 10)
	if !utf8.ValidString(got) {
		t.Fatalf("truncateAtWord produced invalid UTF-8: %q", got)
	}
	if want := strings.Repeat("株", 3) + "…"; got != want {
		t.Fatalf("truncateAtWord(unspaced, 10) = %q, want %q", got, want)
	}
}

func TestRunCancellationStopsTick(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	fetcher := &fakeFetcher{items: map[string][]feed.Item{
		"Test Wire": {{Title: "Story", Body: "b", SourceName: "Test Wire", SourceCategory: "markets"}},
	}}

	svc := newTestService(store, fetcher, &fakeEnricher{}, nil, Options{Sources: []feed.Source{marketsSource()}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Run(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if len(store.ticks) == 1 && store.ticks[0].status != "failed" {
		t.Fatalf("cancelled tick status = %q, want failed", store.ticks[0].status)
	}
}

func slugs(s *fakeStore) []string {
	out := make([]string, 0, len(s.articles))
	for slug := range s.articles {
		out = append(out, slug)
	}
	return out
}
