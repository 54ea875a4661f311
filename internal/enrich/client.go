// Package enrich expands raw feed items into long-form articles through the
// Gemini text-generation API and validates every response against a strict
// JSON contract.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// ErrUnavailable is returned when no API credential is configured. Callers
// treat this as a configuration state, not a failure: ingestion falls back to
// persisting the raw item verbatim.
var ErrUnavailable = errors.New("enrichment is not configured")

const systemInstruction = `You are a financial news writer for a markets wire service.
Given a raw news item (title, body, category hint), rewrite and expand it into a
complete article. The response MUST be a single raw JSON object with exactly
these keys:

1. title: a clear, factual headline (max 300 characters).
2. summary: a 2-3 sentence standfirst (max 1000 characters).
3. content: the full article body, multiple paragraphs of plain text.
4. author_name: a plausible staff byline such as "Markets Desk" or a name.
5. category: exactly one of ["markets", "crypto", "tech", "companies", "world", "us", "uk"],
   keeping the provided hint unless the content clearly belongs elsewhere.
6. tags: 3-7 short keyword strings (topics, sectors, asset classes).
7. related_symbols: ticker symbols explicitly relevant to the story
   (e.g. "AAPL", "BTC"), uppercase, empty array when none apply.

Constraints:
- Never invent figures, quotes, or events not supported by the input.
- Do NOT wrap the JSON in a markdown code block.
- The response must contain ONLY the JSON object.`

// Options configures the enrichment client.
type Options struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

const (
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 45 * time.Second
)

// Client calls Gemini to enrich raw items. A zero-credential client is valid
// and reports Available() == false.
type Client struct {
	genai   *genai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewClient builds an enrichment client. An empty API key yields an
// unavailable client rather than an error.
func NewClient(ctx context.Context, opts Options, logger zerolog.Logger) (*Client, error) {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{model: model, timeout: timeout, logger: logger}

	if strings.TrimSpace(opts.APIKey) == "" {
		logger.Warn().Msg("GEMINI_API_KEY not set, ingestion will store raw items without enrichment")
		return client, nil
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: opts.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	client.genai = gc
	return client, nil
}

// Available reports whether a generation credential is configured.
func (c *Client) Available() bool {
	return c != nil && c.genai != nil
}

// Enrich expands one raw item into validated article fields. The category
// hint is passed through to the model; the caller remains responsible for
// normalizing the returned category against the closed label set.
func (c *Client) Enrich(ctx context.Context, title, body, categoryHint string) (*Result, error) {
	if !c.Available() {
		return nil, ErrUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := fmt.Sprintf("category hint: %s\n\ntitle: %s\n\nbody:\n%s", categoryHint, title, body)

	started := time.Now()
	response, err := c.genai.Models.GenerateContent(
		callCtx,
		c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("generate enrichment: %w", err)
	}

	result, err := ParseResult(response.Text())
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("model", c.model).
		Dur("latency", time.Since(started)).
		Str("title", result.Title).
		Msg("item enriched")

	return result, nil
}
