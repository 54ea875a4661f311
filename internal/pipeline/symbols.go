package pipeline

import (
	"regexp"
	"strings"
)

var cashtagPattern = regexp.MustCompile(`\$([A-Z]{1,5})\b`)

const maxExtractedSymbols = 8

// extractSymbols pulls cashtag-style ticker mentions ($AAPL, $BTC) out of
// text. It is the fallback when no enrichment response supplies symbols.
func extractSymbols(text string) []string {
	matches := cashtagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return []string{}
	}

	seen := make(map[string]struct{}, len(matches))
	symbols := make([]string, 0, len(matches))
	for _, match := range matches {
		symbol := strings.ToUpper(match[1])
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}
		symbols = append(symbols, symbol)
		if len(symbols) >= maxExtractedSymbols {
			break
		}
	}
	return symbols
}
