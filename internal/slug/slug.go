// Package slug derives URL-safe article identifiers from titles.
package slug

import (
	"fmt"
	"strings"
	"unicode"

	"horse.fit/finwire/internal/globaltime"
)

const maxLength = 100

// Make converts a title into a lowercase hyphenated slug containing only
// [a-z0-9-], truncated to 100 characters. It is a pure function and does not
// guarantee uniqueness.
func Make(title string) string {
	lowered := strings.ToLower(title)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	fields := strings.FieldsFunc(b.String(), func(r rune) bool {
		return r == ' ' || r == '-'
	})
	joined := strings.Join(fields, "-")

	if len(joined) > maxLength {
		joined = joined[:maxLength]
		joined = strings.TrimRight(joined, "-")
	}
	return joined
}

// Unique returns a slug for title that is not present in taken. When the base
// slug collides it appends -1, -2, ... until a free value is found. A title
// that strips to nothing falls back to a time-based token so collisions do not
// degenerate to bare numeric suffixes.
func Unique(title string, taken map[string]struct{}) string {
	base := Make(title)
	if base == "" {
		base = Fallback()
	}

	if _, exists := taken[base]; !exists {
		return base
	}

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, exists := taken[candidate]; !exists {
			return candidate
		}
	}
}

// Fallback returns a deterministic time-based slug base for empty titles.
func Fallback() string {
	return fmt.Sprintf("article-%d", globaltime.UTC().Unix())
}
