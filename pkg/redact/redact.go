package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|gemini[_-]?api[_-]?key|access[_-]?token)\b\s*[:=]\s*[^\s"'&]+`)

	// Google API keys travel in query strings (?key=AIza...).
	googleAPIKeyRe = regexp.MustCompile(`AIza[0-9A-Za-z_\-]{30,}`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = googleAPIKeyRe.ReplaceAllString(out, "<redacted_key>")
	return strings.TrimSpace(out)
}

// Truncate redacts s and shortens it to at most max bytes, marking the cut with "...".
// Newlines are flattened so the result fits in a single log field or sheet cell.
func Truncate(s string, max int) string {
	s = Secrets(s)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "..."
}
