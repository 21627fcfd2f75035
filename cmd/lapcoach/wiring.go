package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/lapcoach/internal/app"
	"github.com/shpitdev/lapcoach/internal/coach"
	"github.com/shpitdev/lapcoach/internal/config"
	"github.com/shpitdev/lapcoach/internal/metrics"
	"github.com/shpitdev/lapcoach/pkg/analysis"
)

// needs lists which outbound dependencies a command requires.
// bestEffort wires whatever is configured without requiring anything.
type needs struct {
	webhook    bool
	coach      bool
	bestEffort bool
}

func (c *cli) buildApp(ctx context.Context, n needs, m *metrics.Metrics) (*app.App, error) {
	catalog, err := c.cfg.Catalog()
	if err != nil {
		return nil, &exitError{code: 2, err: err}
	}

	ac := app.Config{
		Catalog: catalog,
		Logger:  c.logger,
		Metrics: m,
		Options: c.cfg.Options(),
	}

	var client *analysis.Client
	if c.cfg.WebhookURL != "" {
		client, err = analysis.NewClient(c.cfg.Analysis())
		if err != nil {
			return nil, &exitError{code: 2, err: fmt.Errorf("webhook config error: %w", err)}
		}
		ac.Analyzer = client
	} else if n.webhook || (n.coach && c.cfg.Coach == config.CoachWebhook) {
		return nil, &exitError{code: 2, err: fmt.Errorf("WEBHOOK_URL is required")}
	}

	if n.coach || n.webhook || n.bestEffort {
		switch c.cfg.Coach {
		case config.CoachGemini:
			g, err := coach.NewGemini(ctx, c.cfg.Gemini())
			if err != nil {
				if n.coach {
					return nil, &exitError{code: 2, err: fmt.Errorf("gemini config error: %w", err)}
				}
				c.logger.Warn("gemini coach unavailable; chat disabled", zap.Error(err))
			} else {
				ac.Coach = g
			}
		default:
			if client != nil {
				ac.Coach = coach.NewWebhook(client, timestampNow)
			}
		}
	}
	return app.New(ac), nil
}

func timestampNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
