package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/lapcoach/internal/coach"
	"github.com/shpitdev/lapcoach/internal/metrics"
	"github.com/shpitdev/lapcoach/internal/session"
	"github.com/shpitdev/lapcoach/pkg/analysis"
	"github.com/shpitdev/lapcoach/pkg/pipeline/redact"
	"github.com/shpitdev/lapcoach/pkg/pipeline/worker"
	"github.com/shpitdev/lapcoach/pkg/telemetry/channels"
	"github.com/shpitdev/lapcoach/pkg/telemetry/io/local"
)

// Analyzer submits a lap comparison to the analysis webhook.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.AnalyzeRequest) (analysis.AnalyzeResponse, error)
}

// Options tunes retries and pacing for outbound calls and file detection.
type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitRPS   float64
	FailFast       bool
}

func (o Options) worker() worker.Options {
	policy := worker.FailurePolicyPartialOutput
	if o.FailFast {
		policy = worker.FailurePolicyFailFast
	}
	return worker.Options{
		Workers:           o.Workers,
		MaxRetries:        o.MaxRetries,
		RequestTimeout:    o.RequestTimeout,
		RateLimitRPS:      o.RateLimitRPS,
		FailurePolicy:     policy,
		BackoffInitial:    200 * time.Millisecond,
		BackoffMax:        2 * time.Second,
		BackoffJitterFrac: 0.2,
	}
}

// App wires channel detection, the analysis webhook and the coach together.
// It holds no per-session state; every call works on explicit values.
type App struct {
	catalog  channels.Catalog
	analyzer Analyzer
	coach    coach.Coach
	logger   *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

// Config collects App dependencies. Analyzer and Coach may be nil when only
// detection is used.
type Config struct {
	Catalog  channels.Catalog
	Analyzer Analyzer
	Coach    coach.Coach
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Options  Options
	Now      func() time.Time
}

// New builds an App. A zero Catalog falls back to channels.DefaultCatalog.
func New(cfg Config) *App {
	catalog := cfg.Catalog
	if len(catalog.Required) == 0 {
		catalog = channels.DefaultCatalog()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		catalog:  catalog,
		analyzer: cfg.Analyzer,
		coach:    cfg.Coach,
		logger:   logger,
		metrics:  cfg.Metrics,
		opts:     cfg.Options,
		now:      now,
	}
}

// Catalog returns the active channel catalog.
func (a *App) Catalog() channels.Catalog {
	return a.catalog
}

// Detect resolves a loaded lap's columns against the catalog.
func (a *App) Detect(name string, lap local.Lap) session.Lap {
	l := session.NewLap(name, lap, a.catalog)
	a.metrics.ObserveDetection(l.Detection)
	a.logger.Debug("channels detected",
		zap.String("lap", name),
		zap.Int("columns", len(lap.Columns)),
		zap.Int("rows", len(lap.Rows)),
		zap.Strings("missing", l.Detection.MissingRequired),
		zap.Strings("capabilities", l.Detection.Capabilities),
	)
	return l
}

// FileDetection is the outcome of detecting one file.
type FileDetection struct {
	Path      string                   `json:"path"`
	Columns   []string                 `json:"columns,omitempty"`
	Rows      int                      `json:"rows"`
	Detection channels.DetectionResult `json:"detection"`
	Error     string                   `json:"error,omitempty"`
}

// DetectFiles loads and resolves each path concurrently. Unreadable files
// are reported per entry unless FailFast is set.
func (a *App) DetectFiles(ctx context.Context, paths []string) ([]FileDetection, error) {
	start := time.Now()
	read := func(_ context.Context, path string) (session.Lap, error) {
		lap, err := local.ReadLapFile(path)
		if err != nil {
			return session.Lap{}, err
		}
		return a.Detect(path, lap), nil
	}
	onResult := func(r worker.Result[string, session.Lap]) error {
		if r.Err != nil {
			a.logger.Warn("lap unreadable", zap.String("path", r.Input), zap.String("error", redact.Secrets(r.Err.Error())))
		}
		return nil
	}
	results, err := worker.ProcessAllWithCallback(ctx, paths, read, onResult, a.detectOptions())
	if err != nil {
		return nil, err
	}

	out := make([]FileDetection, 0, len(results))
	missing := 0
	for _, r := range results {
		fd := FileDetection{Path: r.Input}
		if r.Err != nil {
			fd.Error = redact.Secrets(r.Err.Error())
			fd.Detection = channels.Resolve(nil, a.catalog)
			missing++
			out = append(out, fd)
			continue
		}
		fd.Columns = r.Output.Data.Columns
		fd.Rows = len(r.Output.Data.Rows)
		fd.Detection = r.Output.Detection
		if !fd.Detection.OK() {
			missing++
		}
		out = append(out, fd)
	}
	a.logger.Info("detection complete",
		zap.Int("files", len(paths)),
		zap.Int("incomplete", missing),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	return out, nil
}

func (a *App) detectOptions() worker.Options {
	o := a.opts.worker()
	// Local file reads are not retried or rate limited.
	o.MaxRetries = 0
	o.RateLimitRPS = 0
	return o
}

func (a *App) retryOptions(op, sessionID string) worker.Options {
	o := a.opts.worker()
	o.OnRetry = func(e worker.RetryEvent) {
		a.logger.Info("webhook retry",
			zap.String("op", op),
			zap.String("session", sessionID),
			zap.Int("attempt", e.Attempt),
			zap.Duration("backoff", e.Wait.Round(time.Millisecond)),
			zap.String("error", redact.Secrets(e.Err.Error())),
		)
	}
	return o
}

// AnalyzeInput is one lap comparison request.
type AnalyzeInput struct {
	Driver    string
	Track     string
	Reference session.Lap
	Current   session.Lap
}

// Outcome is the result of a successful analysis.
type Outcome struct {
	Session    session.Session
	Response   analysis.AnalyzeResponse
	Transcript session.Transcript
}

// Analyze checks both laps for required channels and submits them to the
// webhook. It fails with a *MissingChannelsError before any network call
// when either lap is incomplete.
func (a *App) Analyze(ctx context.Context, in AnalyzeInput) (Outcome, error) {
	if a.analyzer == nil {
		return Outcome{}, fmt.Errorf("analysis webhook is not configured")
	}
	s := session.New(in.Driver, in.Track, in.Reference, in.Current, a.now())
	if !s.Ready() {
		err := missingChannels(s)
		a.logger.Warn("analysis blocked", zap.String("session", s.ID), zap.Error(err))
		return Outcome{}, err
	}

	start := time.Now()
	a.logger.Info("analysis start",
		zap.String("session", s.ID),
		zap.String("driver", s.Driver),
		zap.String("track", s.Track),
		zap.Int("referenceRows", len(s.Reference.Data.Rows)),
		zap.Int("currentRows", len(s.Current.Data.Rows)),
		zap.Strings("referenceCapabilities", s.Reference.Detection.Capabilities),
		zap.Strings("currentCapabilities", s.Current.Detection.Capabilities),
	)

	traced := newTracedAnalyzer(a.analyzer, a.logger, a.metrics, s.ID, a.opts)
	resp, err := worker.Do(ctx, s.Request(), traced.Analyze, a.retryOptions("analyze", s.ID))
	if err != nil {
		return Outcome{}, fmt.Errorf("analyze session %s: %w", s.ID, err)
	}

	tr := session.Transcript{
		SessionID: resp.SessionID,
		Driver:    s.Driver,
		Track:     s.Track,
		Analysis:  resp.Analysis,
	}
	if strings.TrimSpace(resp.Message) != "" {
		tr = tr.Append(session.Message{Role: session.RoleCoach, Text: resp.Message, At: a.now().UTC()})
	}
	a.logger.Info("analysis complete",
		zap.String("session", resp.SessionID),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	return Outcome{Session: s, Response: resp, Transcript: tr}, nil
}

// Chat asks the coach a follow-up question and returns the extended transcript.
func (a *App) Chat(ctx context.Context, t session.Transcript, question string) (session.Transcript, string, error) {
	if a.coach == nil {
		return t, "", fmt.Errorf("coach is not configured")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return t, "", fmt.Errorf("question is required")
	}
	if strings.TrimSpace(t.SessionID) == "" {
		return t, "", fmt.Errorf("session id is required")
	}

	start := time.Now()
	reply, err := worker.Do(ctx, question, func(ctx context.Context, q string) (string, error) {
		attemptStart := time.Now()
		out, err := a.coach.Reply(ctx, t, q)
		a.metrics.ObserveWebhook("chat", time.Since(attemptStart), err)
		return out, err
	}, a.retryOptions("chat", t.SessionID))
	if err != nil {
		a.logger.Warn("chat failed", zap.String("session", t.SessionID), zap.String("error", redact.Secrets(err.Error())))
		return t, "", fmt.Errorf("chat session %s: %w", t.SessionID, err)
	}

	at := a.now().UTC()
	next := t.
		Append(session.Message{Role: session.RoleDriver, Text: question, At: at}).
		Append(session.Message{Role: session.RoleCoach, Text: reply, At: at})
	a.logger.Info("chat turn",
		zap.String("session", t.SessionID),
		zap.Int("turns", len(next.Messages)),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	return next, reply, nil
}

func missingChannels(s session.Session) error {
	e := &MissingChannelsError{}
	for _, l := range []session.Lap{s.Reference, s.Current} {
		if !l.Detection.OK() {
			e.Laps = append(e.Laps, LapChannels{Lap: l.Name, Missing: l.Detection.MissingRequired})
		}
	}
	return e
}
