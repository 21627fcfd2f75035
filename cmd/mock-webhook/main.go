package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shpitdev/lapcoach/internal/mockwebhook"
)

func main() {
	addr := defaultString("MOCK_WEBHOOK_ADDR", ":8081")
	recordDir := defaultString("MOCK_WEBHOOK_RECORD_DIR", "")
	token := defaultString("MOCK_WEBHOOK_TOKEN", "")
	lapDelta := defaultString("MOCK_WEBHOOK_LAP_DELTA", "0.412")

	fs := flag.NewFlagSet("mock-webhook", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&recordDir, "record-dir", recordDir, "Directory to persist analyze requests as <session_id>.json (empty disables)")
	fs.StringVar(&token, "token", token, "Require this bearer token (empty disables)")
	fs.StringVar(&lapDelta, "lap-delta", lapDelta, "Lap delta in seconds reported by analysis replies")
	_ = fs.Parse(os.Args[1:])

	delta, err := strconv.ParseFloat(strings.TrimSpace(lapDelta), 64)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid lap delta %q: %v\n", lapDelta, err)
		os.Exit(2)
	}

	srv := mockwebhook.New(recordDir)
	srv.RequireBearerToken(token)
	srv.SetLapDelta(delta)

	_, _ = fmt.Fprintf(os.Stdout, "mock-webhook listening on %s (record=%q auth=%t)\n", addr, recordDir, token != "")
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := hs.ListenAndServe(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
