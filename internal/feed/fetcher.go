// Package feed pulls raw items from configured RSS/Atom sources.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"horse.fit/finwire/internal/globaltime"
	"horse.fit/finwire/internal/reader"
)

// Item is a raw feed entry as received from a source. It is ephemeral and
// never persisted directly.
type Item struct {
	Title          string
	Body           string
	Link           string
	PublishedAt    time.Time
	SourceName     string
	SourceCategory string
}

// FetchError wraps any network or parse failure while reading one source.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch source %q: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options controls fetch behavior.
type Options struct {
	// ItemLimit caps items returned per source call. Zero means the default.
	ItemLimit int
	// Timeout bounds one source fetch. Zero means the default.
	Timeout time.Duration
	// RecoverBodies fetches readable text for items whose RSS body is a stub.
	RecoverBodies bool
	// BodyFloor is the RSS body length below which recovery is attempted.
	BodyFloor int
	// HTTPClient overrides the client used for feed requests (tests).
	HTTPClient *http.Client
}

const (
	defaultItemLimit = 10
	defaultTimeout   = 15 * time.Second
	defaultBodyFloor = 280
)

// Fetcher reads items from RSS/Atom sources via gofeed.
type Fetcher struct {
	opts   Options
	logger zerolog.Logger
}

func NewFetcher(opts Options, logger zerolog.Logger) *Fetcher {
	if opts.ItemLimit <= 0 {
		opts.ItemLimit = defaultItemLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.BodyFloor <= 0 {
		opts.BodyFloor = defaultBodyFloor
	}
	return &Fetcher{opts: opts, logger: logger}
}

// Fetch returns up to ItemLimit parsed entries from src, newest first as the
// feed orders them. Entries that fail to parse individually are dropped by the
// feed parser; only a wholesale fetch/parse failure returns a FetchError.
func (f *Fetcher) Fetch(ctx context.Context, src Source) ([]Item, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	parser := gofeed.NewParser()
	if f.opts.HTTPClient != nil {
		parser.Client = f.opts.HTTPClient
	}

	parsed, err := parser.ParseURLWithContext(src.URL, fetchCtx)
	if err != nil {
		return nil, &FetchError{Source: src.Name, Err: err}
	}

	items := make([]Item, 0, f.opts.ItemLimit)
	for _, entry := range parsed.Items {
		if len(items) >= f.opts.ItemLimit {
			break
		}
		if entry == nil || strings.TrimSpace(entry.Title) == "" {
			continue
		}

		item := Item{
			Title:          strings.TrimSpace(entry.Title),
			Body:           entryBody(entry),
			Link:           strings.TrimSpace(entry.Link),
			PublishedAt:    entryPublished(entry),
			SourceName:     src.Name,
			SourceCategory: src.Category,
		}

		if f.opts.RecoverBodies && len(item.Body) < f.opts.BodyFloor && item.Link != "" {
			if recovered := f.recoverBody(ctx, item.Link); recovered != "" {
				item.Body = recovered
			}
		}

		items = append(items, item)
	}

	return items, nil
}

func (f *Fetcher) recoverBody(ctx context.Context, link string) string {
	text, err := reader.FetchTextWithOptions(ctx, link, reader.Options{
		Timeout:    f.opts.Timeout,
		HTTPClient: f.opts.HTTPClient,
	})
	if err != nil {
		f.logger.Debug().Err(err).Str("link", link).Msg("body recovery failed, keeping rss body")
		return ""
	}
	return text
}

func entryBody(entry *gofeed.Item) string {
	body := strings.TrimSpace(entry.Content)
	if body == "" {
		body = strings.TrimSpace(entry.Description)
	}
	if body == "" {
		return ""
	}
	// RSS descriptions routinely carry markup; articles store plain text.
	if strings.ContainsRune(body, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
			body = doc.Text()
		}
	}
	return reader.CleanText(body)
}

func entryPublished(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}
	return globaltime.UTC()
}
