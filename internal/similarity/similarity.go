// Package similarity scores near-duplicate headlines.
package similarity

import (
	"strings"
	"unicode"
)

// DefaultThreshold is the score at or above which two titles are treated as
// the same story.
const DefaultThreshold = 0.75

// Score computes union-based Jaccard overlap between the token sets of two
// strings, in [0, 1]. Tokens are lowercased with punctuation stripped, so
// "Bitcoin hits $50k" and "bitcoin hits 50k!" compare equal. Union-based
// Jaccard is used rather than max-set-size normalization; it is the standard
// formulation and penalizes length mismatch symmetrically.
func Score(a, b string) float64 {
	left := tokenSet(a)
	right := tokenSet(b)
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for token := range left {
		if _, ok := right[token]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(left) + len(right) - intersection
	return float64(intersection) / float64(union)
}

// IsDuplicate reports whether the two titles score at or above threshold.
// A non-positive threshold falls back to DefaultThreshold.
func IsDuplicate(a, b string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Score(a, b) >= threshold
}

func tokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

// Tokenize lowercases text, strips everything that is not a letter or digit,
// and splits on whitespace.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}
