package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"horse.fit/finwire/internal/langdetect"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"FW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"FW_DB_MAX_CONNS" default:"8"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	SourcesFile string `envconfig:"FW_SOURCES_FILE" default:"sources.yaml"`

	SimilarityThreshold float64       `envconfig:"FW_SIMILARITY_THRESHOLD" default:"0.75"`
	DedupPoolSize       int           `envconfig:"FW_DEDUP_POOL_SIZE" default:"30"`
	FeedItemLimit       int           `envconfig:"FW_FEED_ITEM_LIMIT" default:"10"`
	FetchTimeout        time.Duration `envconfig:"FW_FETCH_TIMEOUT" default:"15s"`
	EnrichTimeout       time.Duration `envconfig:"FW_ENRICH_TIMEOUT" default:"45s"`
	EnrichPause         time.Duration `envconfig:"FW_ENRICH_PAUSE" default:"1500ms"`
	IngestInterval      time.Duration `envconfig:"FW_INGEST_INTERVAL" default:"30m"`
	IngestInitialDelay  time.Duration `envconfig:"FW_INGEST_INITIAL_DELAY" default:"8s"`
	FeaturedRate        float64       `envconfig:"FW_FEATURED_RATE" default:"0.2"`

	// Languages is a comma-separated allowlist of ISO 639-1 codes for ingested
	// items. An empty value disables the language gate entirely.
	Languages string `envconfig:"FW_LANGUAGES" default:"en"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("FW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("FW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("FW_DB_MIN_CONNS (%d) cannot exceed FW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("FW_SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.SimilarityThreshold)
	}
	if c.DedupPoolSize < 1 {
		return fmt.Errorf("FW_DEDUP_POOL_SIZE must be >= 1")
	}
	if c.FeedItemLimit < 1 {
		return fmt.Errorf("FW_FEED_ITEM_LIMIT must be >= 1")
	}
	if c.FeaturedRate < 0 || c.FeaturedRate > 1 {
		return fmt.Errorf("FW_FEATURED_RATE must be in [0, 1], got %v", c.FeaturedRate)
	}
	if c.IngestInterval < time.Minute {
		return fmt.Errorf("FW_INGEST_INTERVAL must be >= 1m, got %s", c.IngestInterval)
	}
	if strings.TrimSpace(c.SourcesFile) == "" {
		return fmt.Errorf("FW_SOURCES_FILE is required")
	}
	return nil
}

// LanguageList returns the normalized language allowlist. Invalid entries are
// dropped; an empty result means the gate is disabled.
func (c *Config) LanguageList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.Languages, ",")
	codes := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		code := langdetect.NormalizeCode(part)
		if code == "" {
			continue
		}
		if _, exists := seen[code]; exists {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
