package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/finwire/internal/cli"
	"horse.fit/finwire/internal/config"
	"horse.fit/finwire/internal/db"
	"horse.fit/finwire/internal/enrich"
	"horse.fit/finwire/internal/feed"
	"horse.fit/finwire/internal/langdetect"
	"horse.fit/finwire/internal/logging"
	"horse.fit/finwire/internal/pipeline"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Tick timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "ingest does not accept positional arguments")
		return 2
	}

	cfg, err := loadConfigWithEnv(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc, err := buildPipeline(ctx, cfg, logger, pool, nil)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline setup failed")
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}

	result, err := svc.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("ingest tick failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}

	fmt.Printf("sources_processed=%d sources_failed=%d items_fetched=%d\n",
		result.SourcesProcessed, result.SourcesFailed, result.ItemsFetched)
	fmt.Printf("articles_created=%d duplicates_skipped=%d language_skipped=%d items_failed=%d\n",
		result.ArticlesCreated, result.DuplicatesSkipped, result.LanguageSkipped, result.ItemsFailed)

	return 0
}

// buildPipeline assembles a pipeline service from configuration: sources,
// fetcher, enricher, and the language gate. publisher may be nil.
func buildPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *db.Pool, publisher pipeline.Publisher) (*pipeline.Service, error) {
	sources, err := feed.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}

	fetcher := feed.NewFetcher(feed.Options{
		ItemLimit:     cfg.FeedItemLimit,
		Timeout:       cfg.FetchTimeout,
		RecoverBodies: true,
	}, logger)

	enricher, err := enrich.NewClient(ctx, enrich.Options{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		Timeout: cfg.EnrichTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create enrichment client: %w", err)
	}

	return pipeline.NewService(pool, fetcher, enricher, publisher, pipeline.Options{
		Sources:             sources,
		SimilarityThreshold: cfg.SimilarityThreshold,
		DedupPoolSize:       cfg.DedupPoolSize,
		EnrichPause:         cfg.EnrichPause,
		FeaturedRate:        cfg.FeaturedRate,
		Languages:           cfg.LanguageList(),
		DetectLanguage:      langdetect.DetectISO6391,
	}, logger), nil
}
