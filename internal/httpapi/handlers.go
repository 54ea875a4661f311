package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/finwire/internal/db"
	"horse.fit/finwire/internal/feed"
	"horse.fit/finwire/internal/globaltime"
)

func (s *Server) handleHealth(c echo.Context) error {
	status := "ok"
	dbStatus := "ok"
	if err := s.store.Ping(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = "unreachable"
	}

	return success(c, map[string]any{
		"service":  "finwire",
		"status":   status,
		"database": dbStatus,
		"time":     globaltime.UTC(),
	})
}

func (s *Server) handleListArticles(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	offset, err := parsePositiveInt(c.QueryParam("offset"), 0, 0, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"offset": err.Error()})
	}

	category := strings.TrimSpace(strings.ToLower(c.QueryParam("category")))
	if category != "" && !feed.ValidCategory(category) {
		return failValidation(c, map[string]string{
			"category": fmt.Sprintf("must be one of %s", strings.Join(feed.Categories, ", ")),
		})
	}

	search := strings.TrimSpace(c.QueryParam("search"))
	if search == "" {
		// q is accepted as a shorthand alias.
		search = strings.TrimSpace(c.QueryParam("q"))
	}

	var featured *bool
	if raw := strings.TrimSpace(c.QueryParam("featured")); raw != "" {
		value, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			return failValidation(c, map[string]string{"featured": "must be true or false"})
		}
		featured = &value
	}

	articles, err := s.store.ListArticles(c.Request().Context(), db.ArticleListOptions{
		Category: category,
		Search:   search,
		Featured: featured,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("query articles failed")
		return internalError(c, "Failed to load articles")
	}

	return success(c, map[string]any{
		"items":  articles,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetArticle resolves :key as a slug, falling back to a numeric article
// id. A successful read bumps the view counter best-effort; a counter failure
// never fails the read.
func (s *Server) handleGetArticle(c echo.Context) error {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		return failValidation(c, map[string]string{"key": "is required"})
	}

	ctx := c.Request().Context()

	article, err := s.store.GetArticleBySlug(ctx, key)
	if errors.Is(err, db.ErrNoRows) {
		if id, parseErr := strconv.ParseInt(key, 10, 64); parseErr == nil {
			article, err = s.store.GetArticleByID(ctx, id)
		}
	}
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Article not found")
		}
		s.logger.Error().Err(err).Str("key", key).Msg("query article failed")
		return internalError(c, "Failed to load article")
	}

	if err := s.store.IncrementViewCount(ctx, article.ID); err != nil {
		s.logger.Warn().Err(err).Int64("article_id", article.ID).Msg("view count increment failed")
	} else {
		article.ViewCount++
	}

	return success(c, article)
}

func (s *Server) handleShareArticle(c echo.Context) error {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		return failValidation(c, map[string]string{"id": "must be a positive integer"})
	}

	if err := s.store.IncrementShareCount(c.Request().Context(), id); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return failNotFound(c, "Article not found")
		}
		s.logger.Error().Err(err).Int64("article_id", id).Msg("share count increment failed")
		return internalError(c, "Failed to record share")
	}

	return success(c, map[string]any{"article_id": id})
}

// handleCategories lists the closed category set with current article counts;
// categories with no articles yet appear with a zero count.
func (s *Server) handleCategories(c echo.Context) error {
	counts, err := s.store.CategoryCounts(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query category counts failed")
		return internalError(c, "Failed to load categories")
	}

	items := make([]map[string]any, 0, len(feed.Categories))
	for _, category := range feed.Categories {
		items = append(items, map[string]any{
			"category": category,
			"articles": counts[category],
		})
	}

	return success(c, map[string]any{"items": items})
}

func (s *Server) handleStats(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("recent_ticks"), 10, 1, 100)
	if err != nil {
		return failValidation(c, map[string]string{"recent_ticks": err.Error()})
	}

	stats, err := s.store.QueryIngestStats(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

// handleEvents streams new-article notifications as server-sent events until
// the client disconnects or the broadcaster closes.
func (s *Server) handleEvents(c echo.Context) error {
	if s.subscriber == nil {
		return fail(c, http.StatusServiceUnavailable, "Event stream is not available", nil)
	}

	events, cancel := s.subscriber.Subscribe()
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Error().Err(err).Msg("encode sse event failed")
				continue
			}
			if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
