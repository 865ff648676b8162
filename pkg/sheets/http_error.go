package sheets

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shpitdev/leadsync/pkg/redact"
)

// googleErrorEnvelope is the standard error shape returned by Google REST APIs.
type googleErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// HTTPError is a sanitized summary of a non-2xx Sheets API response.
//
// Important: do not include raw response bodies here (can leak PII/tokens).
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	// APIStatus is the canonical error status, e.g. RESOURCE_EXHAUSTED.
	APIStatus string
	Message   string

	// Snippet is a redacted, truncated hint for responses without an error envelope.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "sheets http error"
	}
	parts := []string{
		fmt.Sprintf("sheets api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.APIStatus) != "" {
		parts = append(parts, "apiStatus="+strings.TrimSpace(e.APIStatus))
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, "message="+strings.TrimSpace(e.Message))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// RateLimited reports whether the response was a quota or rate-limit rejection.
func (e *HTTPError) RateLimited() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests || strings.EqualFold(e.APIStatus, "RESOURCE_EXHAUSTED")
}

const maxSnippet = 256

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	// Best effort: parse the Google error envelope.
	var env googleErrorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil && (env.Error.Status != "" || env.Error.Message != "") {
		h.APIStatus = strings.TrimSpace(env.Error.Status)
		h.Message = redact.Truncate(env.Error.Message, maxSnippet)
		return h
	}

	// Fallback: include a small, redacted hint only.
	h.Snippet = redactAndTruncate(body)
	return h
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	b := body
	if len(b) > maxSnippet {
		b = b[:maxSnippet]
	}
	s := redact.Truncate(string(b), 0)
	if s == "" {
		return ""
	}
	if len(body) > maxSnippet {
		return s + "..."
	}
	return s
}
