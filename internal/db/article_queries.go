package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"horse.fit/finwire/internal/globaltime"
)

// Article is the canonical persisted news unit.
type Article struct {
	ID             int64     `json:"article_id"`
	UUID           string    `json:"article_uuid"`
	Slug           string    `json:"slug"`
	Title          string    `json:"title"`
	Summary        string    `json:"summary"`
	Content        string    `json:"content"`
	Category       string    `json:"category"`
	AuthorName     string    `json:"author_name"`
	SourceName     string    `json:"source_name"`
	SourceURL      *string   `json:"source_url,omitempty"`
	PublishedAt    time.Time `json:"published_at"`
	Featured       bool      `json:"featured"`
	Enriched       bool      `json:"enriched"`
	Tags           []string  `json:"tags"`
	RelatedSymbols []string  `json:"related_symbols"`
	ViewCount      int64     `json:"view_count"`
	ShareCount     int64     `json:"share_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewArticle carries the fields the ingestion pipeline supplies on create.
// Identifiers and counters are store-assigned.
type NewArticle struct {
	Slug           string
	Title          string
	Summary        string
	Content        string
	Category       string
	AuthorName     string
	SourceName     string
	SourceURL      *string
	PublishedAt    time.Time
	Featured       bool
	Enriched       bool
	Tags           []string
	RelatedSymbols []string
}

// ArticleListOptions controls read-API listing queries.
type ArticleListOptions struct {
	Category string
	Search   string
	Featured *bool
	Limit    int
	Offset   int
}

const articleColumns = `
	article_id,
	article_uuid::text,
	slug,
	title,
	summary,
	content,
	category,
	author_name,
	source_name,
	source_url,
	published_at,
	featured,
	enriched,
	tags,
	related_symbols,
	view_count,
	share_count,
	created_at,
	updated_at`

// CreateArticle inserts one article. A slug collision on the unique index is
// reported as ErrDuplicateSlug; concurrent creates with the same slug cannot
// both succeed.
func (p *Pool) CreateArticle(ctx context.Context, record NewArticle) (Article, error) {
	if strings.TrimSpace(record.Slug) == "" {
		return Article{}, fmt.Errorf("slug is required")
	}
	if strings.TrimSpace(record.Title) == "" {
		return Article{}, fmt.Errorf("title is required")
	}
	if strings.TrimSpace(record.Category) == "" {
		return Article{}, fmt.Errorf("category is required")
	}

	tagsJSON, err := marshalStringList(record.Tags)
	if err != nil {
		return Article{}, fmt.Errorf("marshal tags: %w", err)
	}
	symbolsJSON, err := marshalStringList(record.RelatedSymbols)
	if err != nil {
		return Article{}, fmt.Errorf("marshal related_symbols: %w", err)
	}

	publishedAt := record.PublishedAt.UTC()
	if record.PublishedAt.IsZero() {
		publishedAt = globaltime.UTC()
	}

	const q = `
INSERT INTO news.articles (
	slug,
	title,
	summary,
	content,
	category,
	author_name,
	source_name,
	source_url,
	published_at,
	featured,
	enriched,
	tags,
	related_symbols
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING` + articleColumns

	row := p.QueryRow(ctx, q,
		record.Slug,
		record.Title,
		record.Summary,
		record.Content,
		strings.ToLower(strings.TrimSpace(record.Category)),
		record.AuthorName,
		record.SourceName,
		record.SourceURL,
		publishedAt,
		record.Featured,
		record.Enriched,
		tagsJSON,
		symbolsJSON,
	)

	article, err := scanArticle(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Article{}, fmt.Errorf("create article slug=%q: %w", record.Slug, ErrDuplicateSlug)
		}
		return Article{}, fmt.Errorf("create article slug=%q: %w", record.Slug, err)
	}
	return article, nil
}

// ListRecentByCategory returns the newest articles in a category, publish
// time descending. It backs the pipeline's duplicate-comparison pool.
func (p *Pool) ListRecentByCategory(ctx context.Context, category string, limit int) ([]Article, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT` + articleColumns + `
FROM news.articles
WHERE category = $1
ORDER BY published_at DESC, article_id DESC
LIMIT $2
`
	rows, err := p.Query(ctx, q, strings.ToLower(strings.TrimSpace(category)), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent articles: %w", err)
	}
	defer rows.Close()

	return collectArticles(rows)
}

// ListArticles serves the read API with optional category, search, and
// featured filters.
func (p *Pool) ListArticles(ctx context.Context, opts ArticleListOptions) ([]Article, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 25
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	featured := -1
	if opts.Featured != nil {
		featured = 0
		if *opts.Featured {
			featured = 1
		}
	}

	searchPattern := ""
	if search := strings.TrimSpace(opts.Search); search != "" {
		searchPattern = "%" + escapeLike(search) + "%"
	}

	const q = `
SELECT` + articleColumns + `
FROM news.articles
WHERE ($1 = '' OR category = $1)
  AND ($2 = -1 OR featured = ($2 = 1))
  AND ($3 = '' OR title ILIKE $3 OR summary ILIKE $3)
ORDER BY published_at DESC, article_id DESC
LIMIT $4 OFFSET $5
`
	rows, err := p.Query(ctx, q,
		strings.ToLower(strings.TrimSpace(opts.Category)),
		featured,
		searchPattern,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	return collectArticles(rows)
}

// GetArticleBySlug returns one article or ErrNoRows.
func (p *Pool) GetArticleBySlug(ctx context.Context, slug string) (Article, error) {
	const q = `
SELECT` + articleColumns + `
FROM news.articles
WHERE slug = $1
`
	article, err := scanArticle(p.QueryRow(ctx, q, strings.TrimSpace(slug)))
	if err != nil {
		if IsNoRows(err) {
			return Article{}, ErrNoRows
		}
		return Article{}, fmt.Errorf("get article slug=%q: %w", slug, err)
	}
	return article, nil
}

// GetArticleByID returns one article or ErrNoRows.
func (p *Pool) GetArticleByID(ctx context.Context, id int64) (Article, error) {
	const q = `
SELECT` + articleColumns + `
FROM news.articles
WHERE article_id = $1
`
	article, err := scanArticle(p.QueryRow(ctx, q, id))
	if err != nil {
		if IsNoRows(err) {
			return Article{}, ErrNoRows
		}
		return Article{}, fmt.Errorf("get article id=%d: %w", id, err)
	}
	return article, nil
}

// ExistsBySlug reports whether any article already uses slug.
func (p *Pool) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM news.articles WHERE slug = $1)`

	var exists bool
	if err := p.QueryRow(ctx, q, strings.TrimSpace(slug)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check slug %q: %w", slug, err)
	}
	return exists, nil
}

// IncrementViewCount atomically bumps an article's view counter.
func (p *Pool) IncrementViewCount(ctx context.Context, id int64) error {
	return p.incrementCounter(ctx, id, "view_count")
}

// IncrementShareCount atomically bumps an article's share counter.
func (p *Pool) IncrementShareCount(ctx context.Context, id int64) error {
	return p.incrementCounter(ctx, id, "share_count")
}

func (p *Pool) incrementCounter(ctx context.Context, id int64, column string) error {
	// Single-statement increment; no read-modify-write race under concurrency.
	q := fmt.Sprintf(`
UPDATE news.articles
SET %s = %s + 1,
    updated_at = now()
WHERE article_id = $1
`, column, column)

	tag, err := p.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("increment %s id=%d: %w", column, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func collectArticles(rows *Rows) ([]Article, error) {
	articles := make([]Article, 0, 16)
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows: %w", err)
	}
	return articles, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (Article, error) {
	var article Article
	var tagsJSON, symbolsJSON []byte

	err := row.Scan(
		&article.ID,
		&article.UUID,
		&article.Slug,
		&article.Title,
		&article.Summary,
		&article.Content,
		&article.Category,
		&article.AuthorName,
		&article.SourceName,
		&article.SourceURL,
		&article.PublishedAt,
		&article.Featured,
		&article.Enriched,
		&tagsJSON,
		&symbolsJSON,
		&article.ViewCount,
		&article.ShareCount,
		&article.CreatedAt,
		&article.UpdatedAt,
	)
	if err != nil {
		return Article{}, err
	}

	if article.Tags, err = unmarshalStringList(tagsJSON); err != nil {
		return Article{}, fmt.Errorf("decode tags: %w", err)
	}
	if article.RelatedSymbols, err = unmarshalStringList(symbolsJSON); err != nil {
		return Article{}, fmt.Errorf("decode related_symbols: %w", err)
	}
	return article, nil
}

func marshalStringList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func unmarshalStringList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
