package analysis

import (
	"encoding/json"
	"strings"
)

// AnalyzeRequest is the body posted to the analysis webhook for a lap comparison.
type AnalyzeRequest struct {
	ReferenceData []map[string]any `json:"reference_data"`
	CurrentData   []map[string]any `json:"current_data"`
	DriverName    string           `json:"driver_name"`
	TrackName     string           `json:"track_name"`
	SessionID     string           `json:"session_id"`
	// Timestamp is ISO-8601 (RFC 3339) in UTC.
	Timestamp string `json:"timestamp"`
}

// AnalyzeResponse is the webhook's reply to an AnalyzeRequest.
type AnalyzeResponse struct {
	// Analysis is passed through untouched; its shape belongs to the webhook.
	Analysis  json.RawMessage `json:"analysis"`
	SessionID string          `json:"session_id"`
	// Message is the initial coaching narrative.
	Message string `json:"message"`
}

// Summary holds the few well-known fields some webhooks put in Analysis.
type Summary struct {
	LapDelta         *float64 `json:"lap_delta,omitempty"`
	ReferenceLapTime *float64 `json:"reference_lap_time,omitempty"`
	CurrentLapTime   *float64 `json:"current_lap_time,omitempty"`
}

// Summary decodes the well-known fields of Analysis. Unknown or malformed
// analysis payloads yield an empty Summary.
func (r AnalyzeResponse) Summary() Summary {
	var s Summary
	if len(r.Analysis) == 0 {
		return s
	}
	_ = json.Unmarshal(r.Analysis, &s)
	return s
}

// ChatRequest carries one follow-up question for an existing session.
type ChatRequest struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	Message    string `json:"message"`
	DriverName string `json:"driver_name,omitempty"`
	TrackName  string `json:"track_name,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// ChatResponse is the webhook's coaching reply.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// wireReply covers both reply shapes seen from webhooks: "message" or "response".
type wireReply struct {
	Analysis  json.RawMessage `json:"analysis"`
	SessionID string          `json:"session_id"`
	Message   string          `json:"message"`
	Response  string          `json:"response"`
}

func (w wireReply) text() string {
	if m := strings.TrimSpace(w.Message); m != "" {
		return m
	}
	return strings.TrimSpace(w.Response)
}
