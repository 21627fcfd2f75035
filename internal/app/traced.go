package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/lapcoach/internal/metrics"
	"github.com/shpitdev/lapcoach/pkg/analysis"
	"github.com/shpitdev/lapcoach/pkg/pipeline/core"
	"github.com/shpitdev/lapcoach/pkg/pipeline/redact"
)

// tracedAnalyzer logs every webhook attempt and records its latency.
type tracedAnalyzer struct {
	next           Analyzer
	logger         *zap.Logger
	metrics        *metrics.Metrics
	sessionID      string
	maxRetries     int
	requestTimeout time.Duration

	mu       sync.Mutex
	attempts int
}

func newTracedAnalyzer(next Analyzer, logger *zap.Logger, m *metrics.Metrics, sessionID string, opts Options) *tracedAnalyzer {
	return &tracedAnalyzer{
		next:           next,
		logger:         logger,
		metrics:        m,
		sessionID:      sessionID,
		maxRetries:     opts.MaxRetries,
		requestTimeout: opts.RequestTimeout,
	}
}

func (t *tracedAnalyzer) Analyze(ctx context.Context, req analysis.AnalyzeRequest) (analysis.AnalyzeResponse, error) {
	attempt := t.nextAttempt()

	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Debug("webhook request",
		zap.String("session", t.sessionID),
		zap.Int("attempt", attempt),
		zap.Duration("timeout", t.requestTimeout),
		zap.String("deadlineIn", deadlineIn),
		zap.Int("referenceRows", len(req.ReferenceData)),
		zap.Int("currentRows", len(req.CurrentData)),
	)

	start := time.Now()
	out, err := t.next.Analyze(ctx, req)
	elapsed := time.Since(start)
	t.metrics.ObserveWebhook("analyze", elapsed, err)

	if err != nil {
		retryable := core.IsTransient(err)
		t.logger.Warn("webhook response",
			zap.String("session", t.sessionID),
			zap.Int("attempt", attempt),
			zap.Duration("duration", elapsed.Round(time.Millisecond)),
			zap.String("status", "error"),
			zap.Bool("retryable", retryable),
			zap.Bool("willRetry", retryable && attempt <= t.maxRetries),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return out, err
	}

	t.logger.Debug("webhook response",
		zap.String("session", t.sessionID),
		zap.Int("attempt", attempt),
		zap.Duration("duration", elapsed.Round(time.Millisecond)),
		zap.String("status", "ok"),
		zap.Int("analysisBytes", len(out.Analysis)),
	)
	return out, nil
}

func (t *tracedAnalyzer) nextAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	return t.attempts
}
