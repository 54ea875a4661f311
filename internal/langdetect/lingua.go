// Package langdetect answers one question for the ingestion pipeline: what
// language is this headline-plus-summary written in? Detection is positive
// identification only: when the sample is too short or lingua is unsure, the
// answer is "" and the caller lets the item through.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minSampleLetters is the letter count below which detection is skipped;
// lingua is unreliable on fragments shorter than a few words.
const minSampleLetters = 6

var newDetector = sync.OnceValue(func() lingua.LanguageDetector {
	return lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		WithPreloadedLanguageModels().
		Build()
})

// DetectISO6391 returns the lowercase ISO 639-1 code of text, or "" when the
// language cannot be determined.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if countLetters(sample) < minSampleLetters {
		return ""
	}

	detected, ok := newDetector().DetectLanguageOf(sample)
	if !ok {
		return ""
	}

	code := strings.ToLower(detected.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func countLetters(text string) int {
	count := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			count++
		}
	}
	return count
}
