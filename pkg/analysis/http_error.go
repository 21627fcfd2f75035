package analysis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shpitdev/lapcoach/pkg/pipeline/core"
	"github.com/shpitdev/lapcoach/pkg/pipeline/redact"
)

// errorEnvelope is the error body shape some webhook hosts return.
type errorEnvelope struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// HTTPError is a sanitized summary of a non-2xx webhook response.
//
// Raw response bodies are never included: they can echo lap data or tokens.
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Message    string

	// Snippet is a redacted, truncated hint for unstructured responses.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "analysis webhook http error"
	}
	parts := []string{
		fmt.Sprintf("analysis webhook error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, "message="+strings.TrimSpace(e.Message))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// Retryable reports whether the status is worth retrying (429 or 5xx).
func (e *HTTPError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode/100 == 5
}

// newHTTPError builds an HTTPError and wraps retryable statuses as transient.
func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = strings.TrimSpace(env.Error)
		}
		h.Message = truncate(redact.Secrets(msg), 256)
	}
	if h.Message == "" {
		h.Snippet = redactAndTruncate(body)
	}

	if h.Retryable() {
		return &core.TransientError{Err: h}
	}
	return h
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
