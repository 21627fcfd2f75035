package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shpitdev/lapcoach/internal/app"
	"github.com/shpitdev/lapcoach/internal/metrics"
	"github.com/shpitdev/lapcoach/internal/server"
	"github.com/shpitdev/lapcoach/internal/session"
	"github.com/shpitdev/lapcoach/pkg/telemetry/channels"
	"github.com/shpitdev/lapcoach/pkg/telemetry/io/local"
)

func (c *cli) newDetectCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "detect FILE...",
		Short: "Report which channels each telemetry CSV carries",
		Long: `Resolves each file's header against the channel catalog and reports
matched, missing and unlocked capabilities. Exits 1 when any file lacks a
required channel or cannot be read.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.buildApp(cmd.Context(), needs{}, nil)
			if err != nil {
				return err
			}
			results, err := a.DetectFiles(cmd.Context(), args)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				if err := writeJSON(c.stdout, results); err != nil {
					return err
				}
			case "table":
				if err := writeDetectTable(c, results); err != nil {
					return err
				}
			default:
				return &exitError{code: 2, err: fmt.Errorf("unknown --format %q (want json or table)", format)}
			}

			incomplete := 0
			for _, r := range results {
				if r.Error != "" || !r.Detection.OK() {
					incomplete++
				}
			}
			if incomplete > 0 {
				return &exitError{code: 1, err: fmt.Errorf("%d of %d files cannot be analysed", incomplete, len(results))}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	return cmd
}

func writeDetectTable(c *cli, results []app.FileDetection) error {
	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FILE\tROWS\tMISSING\tCAPABILITIES")
	for _, r := range results {
		missing := strings.Join(r.Detection.MissingRequired, ",")
		if r.Error != "" {
			missing = "error: " + r.Error
		} else if missing == "" {
			missing = "-"
		}
		caps := strings.Join(r.Detection.Capabilities, ", ")
		if caps == "" {
			caps = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.Path, r.Rows, missing, caps)
	}
	return tw.Flush()
}

// analyzeOutput is what analyze prints and what chat --analysis reads back.
type analyzeOutput struct {
	SessionID string                   `json:"session_id"`
	Timestamp string                   `json:"timestamp"`
	Driver    string                   `json:"driver,omitempty"`
	Track     string                   `json:"track,omitempty"`
	Analysis  json.RawMessage          `json:"analysis"`
	Message   string                   `json:"message,omitempty"`
	Reference channels.DetectionResult `json:"reference"`
	Current   channels.DetectionResult `json:"current"`
}

func (c *cli) newAnalyzeCmd() *cobra.Command {
	var referencePath, currentPath, driver, track, outputPath string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compare a current lap to a reference lap via the analysis webhook",
		Long: `Loads both laps, checks that each carries every required channel, and
submits them to the analysis webhook. Nothing is sent when a lap is missing
a required channel.

Example:
  lapcoach analyze --reference best.csv --current latest.csv --driver Alex --track Spa`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.buildApp(cmd.Context(), needs{webhook: true}, nil)
			if err != nil {
				return err
			}
			ref, err := loadLap(a, referencePath)
			if err != nil {
				return err
			}
			cur, err := loadLap(a, currentPath)
			if err != nil {
				return err
			}

			out, err := a.Analyze(cmd.Context(), app.AnalyzeInput{
				Driver:    driver,
				Track:     track,
				Reference: ref,
				Current:   cur,
			})
			var mce *app.MissingChannelsError
			if errors.As(err, &mce) {
				_ = writeJSON(c.stdout, map[string]channels.DetectionResult{
					"reference": ref.Detection,
					"current":   cur.Detection,
				})
				return &exitError{code: 1, err: err}
			}
			if err != nil {
				return err
			}

			result := analyzeOutput{
				SessionID: out.Response.SessionID,
				Timestamp: out.Session.Timestamp(),
				Driver:    out.Session.Driver,
				Track:     out.Session.Track,
				Analysis:  out.Response.Analysis,
				Message:   out.Response.Message,
				Reference: ref.Detection,
				Current:   cur.Detection,
			}
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				if err := writeJSON(f, result); err != nil {
					_ = f.Close()
					return fmt.Errorf("write output: %w", err)
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("close output: %w", err)
				}
			}
			return writeJSON(c.stdout, result)
		},
	}
	f := cmd.Flags()
	f.StringVar(&referencePath, "reference", "", "Reference lap CSV")
	f.StringVar(&currentPath, "current", "", "Current lap CSV")
	f.StringVar(&driver, "driver", "", "Driver name")
	f.StringVar(&track, "track", "", "Track name")
	f.StringVar(&outputPath, "output", "", "Also write the result JSON to this file (input for chat --analysis)")
	_ = cmd.MarkFlagRequired("reference")
	_ = cmd.MarkFlagRequired("current")
	return cmd
}

func loadLap(a *app.App, path string) (session.Lap, error) {
	data, err := local.ReadLapFile(path)
	if err != nil {
		return session.Lap{}, err
	}
	return a.Detect(path, data), nil
}

func (c *cli) newChatCmd() *cobra.Command {
	var sessionID, analysisPath string
	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Ask the coach a follow-up question about an analysed session",
		Long: `Sends one question to the configured coach. With COACH=webhook the
webhook keeps the conversation by session id. With COACH=gemini the answer is
generated from the analysis saved by analyze --output, passed as --analysis.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := session.Transcript{SessionID: strings.TrimSpace(sessionID)}
			if analysisPath != "" {
				saved, err := readAnalysis(analysisPath)
				if err != nil {
					return err
				}
				if t.SessionID == "" {
					t.SessionID = saved.SessionID
				}
				t.Driver = saved.Driver
				t.Track = saved.Track
				t.Analysis = saved.Analysis
				if saved.Message != "" {
					t = t.Append(session.Message{Role: session.RoleCoach, Text: saved.Message})
				}
			}
			if t.SessionID == "" {
				return &exitError{code: 2, err: fmt.Errorf("chat requires --session or --analysis")}
			}

			a, err := c.buildApp(cmd.Context(), needs{coach: true}, nil)
			if err != nil {
				return err
			}
			_, reply, err := a.Chat(cmd.Context(), t, strings.Join(args, " "))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.stdout, reply)
			return err
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id returned by analyze")
	cmd.Flags().StringVar(&analysisPath, "analysis", "", "Result file written by analyze --output")
	return cmd
}

func readAnalysis(path string) (analyzeOutput, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return analyzeOutput{}, fmt.Errorf("read analysis file: %w", err)
	}
	var out analyzeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return analyzeOutput{}, fmt.Errorf("parse analysis file: %w", err)
	}
	return out, nil
}

func (c *cli) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = c.cfg.ListenAddr
			}
			m := metrics.New()
			a, err := c.buildApp(cmd.Context(), needs{bestEffort: true}, m)
			if err != nil {
				return err
			}
			if c.cfg.WebhookURL == "" {
				c.logger.Warn("WEBHOOK_URL not set; /api/analyze and /api/chat are disabled")
			}
			srv := server.New(server.Config{App: a, Logger: c.logger, Metrics: m})
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (env: LISTEN_ADDR, default :8080)")
	return cmd
}

func (c *cli) newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the active channel catalog",
		Long: `Prints the catalog in effect: the built-in one, or the YAML file named by
--catalog / CHANNEL_CATALOG after validation. Use it to check a custom
catalog for alias collisions before deploying it.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cat, err := c.cfg.Catalog()
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			return writeJSON(c.stdout, cat)
		},
	}
}
