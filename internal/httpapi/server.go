// Package httpapi serves the read-side JSON API for persisted articles and
// the ingest ledger, plus a server-sent-events stream for new articles.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/finwire/internal/db"
	"horse.fit/finwire/internal/notify"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// Store is the persistence surface the API reads from. *db.Pool is the
// production implementation.
type Store interface {
	Ping(ctx context.Context) error
	ListArticles(ctx context.Context, opts db.ArticleListOptions) ([]db.Article, error)
	GetArticleBySlug(ctx context.Context, slug string) (db.Article, error)
	GetArticleByID(ctx context.Context, id int64) (db.Article, error)
	IncrementViewCount(ctx context.Context, id int64) error
	IncrementShareCount(ctx context.Context, id int64) error
	CategoryCounts(ctx context.Context) (map[string]int64, error)
	QueryIngestStats(ctx context.Context, recentTickLimit int) (*db.IngestStats, error)
}

// Subscriber hands out event channels for the SSE stream. *notify.Broadcaster
// is the production implementation.
type Subscriber interface {
	Subscribe() (<-chan notify.Event, func())
}

type Options struct {
	Host            string
	Port            int
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	store      Store
	subscriber Subscriber
	logger     zerolog.Logger
	opts       Options
}

func NewServer(store Store, subscriber Subscriber, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		// The SSE stream holds its response open; WriteTimeout cannot be
		// shorter than the longest intended stream.
		writeTimeout = 10 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		store:      store,
		subscriber: subscriber,
		logger:     logger,
		opts: Options{
			Host:            host,
			Port:            port,
			AllowedOrigins:  origins,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

// router builds the echo instance with all middleware and routes. Split from
// Start so handler tests can exercise the full routing stack in-process.
func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/articles", s.handleListArticles)
	api.GET("/articles/:key", s.handleGetArticle)
	api.POST("/articles/:id/share", s.handleShareArticle)
	api.GET("/categories", s.handleCategories)
	api.GET("/stats", s.handleStats)
	api.GET("/events", s.handleEvents)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.router()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("finwire api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("finwire api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}
