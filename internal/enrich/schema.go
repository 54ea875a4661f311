package enrich

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed enriched_article.schema.json
var enrichedArticleSchemaJSON string

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// Result is the validated enrichment response.
type Result struct {
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	Content        string   `json:"content"`
	AuthorName     string   `json:"author_name"`
	Category       string   `json:"category"`
	Tags           []string `json:"tags"`
	RelatedSymbols []string `json:"related_symbols"`
}

// ParseResult validates raw model output against the response contract and
// decodes it. Markdown code fences around the JSON are tolerated and stripped;
// anything else that deviates from the schema is an error.
func ParseResult(raw string) (*Result, error) {
	payload := stripCodeFence(raw)

	value, err := decodeStrictJSON([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode enrichment JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load enrichment schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("enrichment response contract violated: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize enrichment JSON: %w", err)
	}

	var result Result
	if err := json.Unmarshal(normalized, &result); err != nil {
		return nil, fmt.Errorf("unmarshal enrichment response: %w", err)
	}

	if err := validateSemantics(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func validateSemantics(r *Result) error {
	required := map[string]string{
		"title":       r.Title,
		"summary":     r.Summary,
		"content":     r.Content,
		"author_name": r.AuthorName,
		"category":    r.Category,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("enrichment field %s must not be blank", field)
		}
	}
	for i, tag := range r.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("enrichment tags[%d] must not be blank", i)
		}
	}
	for i, symbol := range r.RelatedSymbols {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("enrichment related_symbols[%d] must not be blank", i)
		}
	}
	return nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("enriched_article.schema.json", strings.NewReader(enrichedArticleSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("enriched_article.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})
	return compiledSchema, compiledSchemaErr
}

func decodeStrictJSON(payload []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := ensureSingleDocument(decoder); err != nil {
		return nil, err
	}
	return value, nil
}

func ensureSingleDocument(decoder *json.Decoder) error {
	if _, err := decoder.Token(); err != io.EOF {
		return fmt.Errorf("payload must contain exactly one JSON document")
	}
	return nil
}

func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
