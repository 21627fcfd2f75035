package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/lapcoach/internal/app"
	"github.com/shpitdev/lapcoach/internal/metrics"
	"github.com/shpitdev/lapcoach/internal/session"
	"github.com/shpitdev/lapcoach/pkg/analysis"
	"github.com/shpitdev/lapcoach/pkg/pipeline/redact"
	"github.com/shpitdev/lapcoach/pkg/telemetry/channels"
	"github.com/shpitdev/lapcoach/pkg/telemetry/io/local"
)

const (
	defaultMaxUploadBytes = 64 << 20
	defaultStoreCapacity  = 256
)

// Config configures a Server.
type Config struct {
	App     *app.App
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// MaxUploadBytes bounds a multipart request body. Defaults to 64MB.
	MaxUploadBytes int64
	// Sessions is how many chat transcripts are kept. Defaults to 256.
	Sessions int
}

// Server is the HTTP API in front of App.
type Server struct {
	app       *app.App
	logger    *zap.Logger
	metrics   *metrics.Metrics
	store     *session.Store
	maxUpload int64
}

// New builds a Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	capacity := cfg.Sessions
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	return &Server{
		app:       cfg.App,
		logger:    logger,
		metrics:   cfg.Metrics,
		store:     session.NewStore(capacity),
		maxUpload: maxUpload,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	mux.HandleFunc("POST /api/channels", s.handleChannels)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.logRequests(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("server shutting down")
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Catalog())
}

// lapReport is the detection summary for one uploaded lap.
type lapReport struct {
	File      string                   `json:"file"`
	Columns   int                      `json:"columns"`
	Rows      int                      `json:"rows"`
	Detection channels.DetectionResult `json:"detection"`
}

func newLapReport(l session.Lap) lapReport {
	return lapReport{
		File:      l.Name,
		Columns:   len(l.Data.Columns),
		Rows:      len(l.Data.Rows),
		Detection: l.Detection,
	}
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lap, err := s.readLap(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newLapReport(lap))
}

type analyzeReply struct {
	SessionID string          `json:"session_id"`
	Analysis  json.RawMessage `json:"analysis"`
	Message   string          `json:"message,omitempty"`
	Reference lapReport       `json:"reference"`
	Current   lapReport       `json:"current"`
}

type missingReply struct {
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	Reference lapReport `json:"reference"`
	Current   lapReport `json:"current"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref, err := s.readLap(r, "reference")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cur, err := s.readLap(r, "current")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.app.Analyze(r.Context(), app.AnalyzeInput{
		Driver:    r.FormValue("driver"),
		Track:     r.FormValue("track"),
		Reference: ref,
		Current:   cur,
	})
	if errors.Is(err, app.ErrMissingChannels) {
		writeJSON(w, http.StatusUnprocessableEntity, missingReply{
			Code:      http.StatusUnprocessableEntity,
			Message:   err.Error(),
			Reference: newLapReport(ref),
			Current:   newLapReport(cur),
		})
		return
	}
	if err != nil {
		writeError(w, upstreamStatus(err), redact.Secrets(err.Error()))
		return
	}

	s.store.Put(out.Transcript)
	writeJSON(w, http.StatusOK, analyzeReply{
		SessionID: out.Response.SessionID,
		Analysis:  out.Response.Analysis,
		Message:   out.Response.Message,
		Reference: newLapReport(ref),
		Current:   newLapReport(cur),
	})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatReply struct {
	SessionID string            `json:"session_id"`
	Message   string            `json:"message"`
	Messages  []session.Message `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var in chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in.SessionID = strings.TrimSpace(in.SessionID)
	if in.SessionID == "" || strings.TrimSpace(in.Message) == "" {
		writeError(w, http.StatusBadRequest, "session_id and message are required")
		return
	}
	t, ok := s.store.Get(in.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	next, reply, err := s.app.Chat(r.Context(), t, in.Message)
	if err != nil {
		writeError(w, upstreamStatus(err), redact.Secrets(err.Error()))
		return
	}
	s.store.Put(next)
	writeJSON(w, http.StatusOK, chatReply{SessionID: in.SessionID, Message: reply, Messages: next.Messages})
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return fmt.Errorf("parse multipart form: %w", err)
	}
	return nil
}

func (s *Server) readLap(r *http.Request, field string) (session.Lap, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return session.Lap{}, fmt.Errorf("form file %q is required", field)
	}
	defer f.Close()
	data, err := local.ReadLapCSV(f)
	if err != nil {
		return session.Lap{}, fmt.Errorf("%s: %w", field, err)
	}
	name := hdr.Filename
	if name == "" {
		name = field
	}
	return s.app.Detect(name, data), nil
}

// upstreamStatus maps an analysis or chat failure to a response status.
func upstreamStatus(err error) int {
	var he *analysis.HTTPError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &he):
		return http.StatusBadGateway
	case strings.Contains(err.Error(), "not configured"):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"code": status, "message": msg})
}
