package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shpitdev/lapcoach/internal/app"
	"github.com/shpitdev/lapcoach/internal/coach"
	"github.com/shpitdev/lapcoach/pkg/analysis"
	"github.com/shpitdev/lapcoach/pkg/telemetry/channels"
)

// Coach backends selectable with COACH.
const (
	CoachWebhook = "webhook"
	CoachGemini  = "gemini"
)

// Config is the process configuration read from the environment.
// CLI flags override individual fields after Load.
type Config struct {
	WebhookURL     string
	WebhookChatURL string
	WebhookToken   string
	WebhookCAPath  string

	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration
	RateLimitRPS   float64
	FailFast       bool

	CatalogPath string
	Coach       string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	ListenAddr string
}

// Load reads Config from the environment, applying defaults.
func Load() (Config, error) {
	workers, err := envInt("WORKERS", 4)
	if err != nil {
		return Config{}, err
	}
	maxRetries, err := envInt("MAX_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	requestTimeout, err := envDuration("REQUEST_TIMEOUT", 120*time.Second)
	if err != nil {
		return Config{}, err
	}
	rateLimitRPS, err := envFloat("RATE_LIMIT_RPS", 0)
	if err != nil {
		return Config{}, err
	}
	failFast, err := envBool("FAIL_FAST")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		WebhookURL:     envString("WEBHOOK_URL", ""),
		WebhookChatURL: envString("WEBHOOK_CHAT_URL", ""),
		WebhookToken:   envString("WEBHOOK_TOKEN", ""),
		WebhookCAPath:  envString("WEBHOOK_CA_PATH", ""),
		Workers:        workers,
		MaxRetries:     maxRetries,
		RequestTimeout: requestTimeout,
		RateLimitRPS:   rateLimitRPS,
		FailFast:       failFast,
		CatalogPath:    envString("CHANNEL_CATALOG", ""),
		Coach:          strings.ToLower(envString("COACH", CoachWebhook)),
		GeminiAPIKey:   envString("GEMINI_API_KEY", ""),
		GeminiModel:    envString("GEMINI_MODEL", ""),
		GeminiBaseURL:  envString("GEMINI_BASE_URL", ""),
		ListenAddr:     envString("LISTEN_ADDR", ":8080"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that do not depend on which command runs.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("invalid WORKERS=%d: must be >= 1", c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid MAX_RETRIES=%d: must be >= 0", c.MaxRetries)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("invalid REQUEST_TIMEOUT=%s: must be >= 0", c.RequestTimeout)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("invalid RATE_LIMIT_RPS=%g: must be >= 0", c.RateLimitRPS)
	}
	switch c.Coach {
	case CoachWebhook, CoachGemini:
	default:
		return fmt.Errorf("invalid COACH=%q: want %q or %q", c.Coach, CoachWebhook, CoachGemini)
	}
	return nil
}

// Options returns the retry and pacing options for app.App.
func (c Config) Options() app.Options {
	return app.Options{
		Workers:        c.Workers,
		MaxRetries:     c.MaxRetries,
		RequestTimeout: c.RequestTimeout,
		RateLimitRPS:   c.RateLimitRPS,
		FailFast:       c.FailFast,
	}
}

// Analysis returns the webhook client configuration.
func (c Config) Analysis() analysis.Config {
	return analysis.Config{
		URL:     c.WebhookURL,
		ChatURL: c.WebhookChatURL,
		Token:   c.WebhookToken,
		CAPath:  c.WebhookCAPath,
		Timeout: c.RequestTimeout,
	}
}

// Gemini returns the Gemini coach configuration.
func (c Config) Gemini() coach.GeminiConfig {
	return coach.GeminiConfig{
		APIKey:  c.GeminiAPIKey,
		Model:   c.GeminiModel,
		BaseURL: c.GeminiBaseURL,
	}
}

// Catalog loads CHANNEL_CATALOG when set, otherwise the built-in catalog.
func (c Config) Catalog() (channels.Catalog, error) {
	if c.CatalogPath == "" {
		return channels.DefaultCatalog(), nil
	}
	return channels.LoadCatalogFile(c.CatalogPath)
}

func envString(varName, fallback string) string {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return false, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
