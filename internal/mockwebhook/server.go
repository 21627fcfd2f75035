package mockwebhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method    string
	Path      string
	Type      string
	SessionID string
}

// Server implements a minimal analysis-webhook surface: it accepts analyze
// and chat posts and replies with canned, deterministic coaching.
type Server struct {
	recordDir string

	mu    sync.Mutex
	calls []Call

	expectedAuthorization string

	// failures are consumed one per request before normal handling.
	failures []int

	lapDelta float64

	// sessions tracks chat turns per session id.
	sessions map[string]int
}

// New constructs a mock server. When recordDir is non-empty each analyze
// request body is persisted there as <session_id>.json.
func New(recordDir string) *Server {
	return &Server{
		recordDir: recordDir,
		lapDelta:  0.412,
		sessions:  make(map[string]int),
	}
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// FailNext makes the next n requests fail with status.
func (s *Server) FailNext(status int, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, status)
	}
}

// SetLapDelta sets the lap delta reported in analysis replies.
func (s *Server) SetLapDelta(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lapDelta = seconds
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/lap-analysis", s.handleWebhook)
	mux.HandleFunc("/webhook/lap-chat", s.handleWebhook)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

type inbound struct {
	Type          string           `json:"type"`
	SessionID     string           `json:"session_id"`
	Message       string           `json:"message"`
	DriverName    string           `json:"driver_name"`
	TrackName     string           `json:"track_name"`
	Timestamp     string           `json:"timestamp"`
	ReferenceData []map[string]any `json:"reference_data"`
	CurrentData   []map[string]any `json:"current_data"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var in inbound
	if err := json.Unmarshal(b, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.recordCall(r, in)

	if !s.authorize(w, r) {
		return
	}
	if status, ok := s.popFailure(); ok {
		writeError(w, status, fmt.Sprintf("injected failure %d", status))
		return
	}
	if !isSafeToken(in.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	if in.Type == "chat" {
		s.handleChat(w, in)
		return
	}
	s.handleAnalyze(w, in, b)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, in inbound, raw []byte) {
	if len(in.ReferenceData) == 0 || len(in.CurrentData) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "reference_data and current_data must be non-empty")
		return
	}
	if s.recordDir != "" {
		if err := os.MkdirAll(s.recordDir, 0o755); err != nil {
			writeError(w, http.StatusInternalServerError, "persist request")
			return
		}
		if err := os.WriteFile(filepath.Join(s.recordDir, in.SessionID+".json"), raw, 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, "persist request")
			return
		}
	}

	s.mu.Lock()
	delta := s.lapDelta
	s.sessions[in.SessionID] = 0
	s.mu.Unlock()

	driver := strings.TrimSpace(in.DriverName)
	if driver == "" {
		driver = "Driver"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": in.SessionID,
		"analysis": map[string]any{
			"lap_delta":      delta,
			"reference_rows": len(in.ReferenceData),
			"current_rows":   len(in.CurrentData),
			"track":          in.TrackName,
		},
		"message": fmt.Sprintf("%s, you are %+.3fs off the reference lap at %s.", driver, delta, strings.TrimSpace(in.TrackName)),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, in inbound) {
	s.mu.Lock()
	turns, ok := s.sessions[in.SessionID]
	if ok {
		turns++
		s.sessions[in.SessionID] = turns
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if strings.TrimSpace(in.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	// Reply in the bare "response" shape some workflow engines emit.
	writeJSON(w, http.StatusOK, []map[string]any{{
		"session_id": in.SessionID,
		"response":   fmt.Sprintf("Turn %d: focus on your braking point for %q.", turns, strings.TrimSpace(in.Message)),
	}})
}

func (s *Server) recordCall(r *http.Request, in inbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	typ := in.Type
	if typ == "" {
		typ = "analyze"
	}
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Type: typ, SessionID: in.SessionID})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

func (s *Server) popFailure() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) == 0 {
		return 0, false
	}
	status := s.failures[0]
	s.failures = s.failures[1:]
	return status, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "message": msg})
}

func isSafeToken(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}
