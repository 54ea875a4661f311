package langdetect

import "strings"

// NormalizeCode reduces a language tag to its lowercase ISO 639-1 primary
// subtag: "en-US", "en_gb", and " EN " all yield "en". Anything that does not
// reduce to two ASCII letters yields "".
func NormalizeCode(raw string) string {
	code := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.IndexAny(code, "-_"); idx >= 0 {
		code = code[:idx]
	}
	if len(code) != 2 {
		return ""
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return code
}
