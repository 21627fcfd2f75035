package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shpitdev/lapcoach/internal/config"
	"github.com/shpitdev/lapcoach/internal/version"
	"github.com/shpitdev/lapcoach/pkg/pipeline/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// exitError carries a process exit code. A nil err means the command already
// reported the failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = fmt.Fprintf(stderr, "error: %s\n", redact.Secrets(ee.err.Error()))
		}
		return ee.code
	}
	_, _ = fmt.Fprintf(stderr, "error: %s\n", redact.Secrets(err.Error()))
	return 1
}

// cli holds global flag values and the state built in PersistentPreRunE.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	verbose        bool
	catalogPath    string
	webhookURL     string
	coachName      string
	workers        int
	maxRetries     int
	requestTimeout time.Duration
	rateLimitRPS   float64

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "lapcoach",
		Short: "Detect telemetry channels in lap logs and get coaching on them",
		Long: `lapcoach reads lap telemetry CSV files, works out which channels each
file carries (time, distance, speed, pedals, g-forces, ...), and sends a
reference/current lap pair to an analysis webhook for coaching.

Environment:
  WEBHOOK_URL          Analysis webhook endpoint
  WEBHOOK_CHAT_URL     Chat endpoint (defaults to WEBHOOK_URL)
  WEBHOOK_TOKEN        Optional bearer token
  WEBHOOK_CA_PATH      Optional PEM bundle for the webhook's TLS
  REQUEST_TIMEOUT      Per-request timeout (default 120s)
  MAX_RETRIES          Retries for transient webhook failures (default 3)
  RATE_LIMIT_RPS       Outbound request rate limit, 0 disables
  WORKERS              Concurrent file detections (default 4)
  CHANNEL_CATALOG      YAML channel catalog overriding the built-in one
  COACH                webhook (default) or gemini
  GEMINI_API_KEY       Gemini API key (COACH=gemini)
  GEMINI_MODEL         Gemini model name (COACH=gemini)
  GEMINI_BASE_URL      Optional Gemini base URL override
  LISTEN_ADDR          serve listen address (default :8080)`,
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "Debug logging")
	pf.StringVar(&c.catalogPath, "catalog", "", "YAML channel catalog (env: CHANNEL_CATALOG)")
	pf.StringVar(&c.webhookURL, "webhook-url", "", "Analysis webhook URL (env: WEBHOOK_URL)")
	pf.StringVar(&c.coachName, "coach", "", "Coach backend: webhook or gemini (env: COACH)")
	pf.IntVar(&c.workers, "workers", 0, "Concurrent file detections (env: WORKERS)")
	pf.IntVar(&c.maxRetries, "max-retries", 0, "Retries for transient webhook failures (env: MAX_RETRIES)")
	pf.DurationVar(&c.requestTimeout, "request-timeout", 0, "Per-request timeout (env: REQUEST_TIMEOUT)")
	pf.Float64Var(&c.rateLimitRPS, "rate-limit-rps", 0, "Outbound request rate limit, 0 disables (env: RATE_LIMIT_RPS)")

	root.AddCommand(
		c.newDetectCmd(),
		c.newAnalyzeCmd(),
		c.newChatCmd(),
		c.newServeCmd(),
		c.newCatalogCmd(),
		c.newVersionCmd(),
	)
	return root
}

// setup builds the logger and merges env config with explicitly set flags.
func (c *cli) setup(cmd *cobra.Command) error {
	zc := zap.NewProductionConfig()
	if c.verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger

	cfg, err := config.Load()
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("config error: %w", err)}
	}
	flags := cmd.Flags()
	if flags.Changed("catalog") {
		cfg.CatalogPath = c.catalogPath
	}
	if flags.Changed("webhook-url") {
		cfg.WebhookURL = c.webhookURL
	}
	if flags.Changed("coach") {
		cfg.Coach = c.coachName
	}
	if flags.Changed("workers") {
		cfg.Workers = c.workers
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries = c.maxRetries
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = c.requestTimeout
	}
	if flags.Changed("rate-limit-rps") {
		cfg.RateLimitRPS = c.rateLimitRPS
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("config error: %w", err)}
	}
	c.cfg = cfg
	return nil
}

func (c *cli) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lapcoach version",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, err := fmt.Fprintln(c.stdout, version.Current)
			return err
		},
	}
}
