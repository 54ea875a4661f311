package feed

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source is a single configured feed.
type Source struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// Categories is the closed label set articles are filed under.
var Categories = []string{"markets", "crypto", "tech", "companies", "world", "us", "uk"}

// ValidCategory reports whether label is one of the known categories.
func ValidCategory(label string) bool {
	normalized := strings.ToLower(strings.TrimSpace(label))
	for _, c := range Categories {
		if c == normalized {
			return true
		}
	}
	return false
}

// NormalizeCategory lowercases label and maps unknown values to fallback.
func NormalizeCategory(label, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if ValidCategory(normalized) {
		return normalized
	}
	return fallback
}

// LoadSources reads and validates the YAML source list.
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file %q: %w", path, err)
	}

	var parsed sourcesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse sources file %q: %w", path, err)
	}
	if len(parsed.Sources) == 0 {
		return nil, fmt.Errorf("sources file %q defines no sources", path)
	}

	seen := make(map[string]struct{}, len(parsed.Sources))
	sources := make([]Source, 0, len(parsed.Sources))
	for i, src := range parsed.Sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			return nil, fmt.Errorf("source %d: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("source %q is listed twice", name)
		}
		seen[name] = struct{}{}

		rawURL := strings.TrimSpace(src.URL)
		parsedURL, err := url.Parse(rawURL)
		if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
			return nil, fmt.Errorf("source %q: invalid url %q", name, rawURL)
		}

		category := strings.ToLower(strings.TrimSpace(src.Category))
		if !ValidCategory(category) {
			return nil, fmt.Errorf("source %q: unknown category %q (valid: %s)",
				name, src.Category, strings.Join(Categories, ", "))
		}

		sources = append(sources, Source{Name: name, URL: rawURL, Category: category})
	}

	return sources, nil
}
