package analysis_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/lapcoach/internal/mockwebhook"
	"github.com/shpitdev/lapcoach/pkg/analysis"
	"github.com/shpitdev/lapcoach/pkg/pipeline/core"
)

func newClient(t *testing.T, srv *mockwebhook.Server, token string) *analysis.Client {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := analysis.NewClient(analysis.Config{
		URL:     ts.URL + "/webhook/lap-analysis",
		ChatURL: ts.URL + "/webhook/lap-chat",
		Token:   token,
	})
	require.NoError(t, err)
	return c
}

func sampleRequest(sessionID string) analysis.AnalyzeRequest {
	return analysis.AnalyzeRequest{
		ReferenceData: []map[string]any{{"Time": 0.0, "Distance": 0.0, "Speed": 120.0}},
		CurrentData:   []map[string]any{{"Time": 0.0, "Distance": 0.0, "Speed": 118.0}},
		DriverName:    "Alex",
		TrackName:     "Spa-Francorchamps",
		SessionID:     sessionID,
		Timestamp:     "2026-10-17T10:00:00Z",
	}
}

func TestClient_AnalyzeAndChat(t *testing.T) {
	t.Parallel()

	recordDir := t.TempDir()
	srv := mockwebhook.New(recordDir)
	srv.RequireBearerToken("hook-token")
	c := newClient(t, srv, "hook-token")
	ctx := context.Background()

	resp, err := c.Analyze(ctx, sampleRequest("session_abc"))
	require.NoError(t, err)
	assert.Equal(t, "session_abc", resp.SessionID)
	assert.Contains(t, resp.Message, "Alex")
	sum := resp.Summary()
	require.NotNil(t, sum.LapDelta)
	assert.InDelta(t, 0.412, *sum.LapDelta, 1e-9)

	_, err = os.Stat(filepath.Join(recordDir, "session_abc.json"))
	require.NoError(t, err, "mock should persist analyze request")

	reply, err := c.Chat(ctx, analysis.ChatRequest{SessionID: "session_abc", Message: "Where am I slow?"})
	require.NoError(t, err)
	assert.Equal(t, "session_abc", reply.SessionID)
	assert.Contains(t, reply.Message, "Turn 1")

	calls := srv.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "analyze", calls[0].Type)
	assert.Equal(t, "/webhook/lap-chat", calls[1].Path)
	assert.Equal(t, "chat", calls[1].Type)
}

func TestClient_UnauthorizedIsPermanent(t *testing.T) {
	t.Parallel()

	srv := mockwebhook.New("")
	srv.RequireBearerToken("expected")
	c := newClient(t, srv, "wrong")

	_, err := c.Analyze(context.Background(), sampleRequest("s1"))
	require.Error(t, err)
	assert.False(t, core.IsTransient(err))

	var he *analysis.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusUnauthorized, he.StatusCode)
	assert.Equal(t, "unauthorized", he.Message)
	assert.NotContains(t, err.Error(), "wrong")
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := mockwebhook.New("")
	srv.FailNext(http.StatusBadGateway, 1)
	c := newClient(t, srv, "")

	_, err := c.Analyze(context.Background(), sampleRequest("s2"))
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))

	var he *analysis.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadGateway, he.StatusCode)

	_, err = c.Analyze(context.Background(), sampleRequest("s2"))
	require.NoError(t, err)
}

func TestClient_ChatUnknownSession(t *testing.T) {
	t.Parallel()

	c := newClient(t, mockwebhook.New(""), "")
	_, err := c.Chat(context.Background(), analysis.ChatRequest{SessionID: "nope", Message: "hi"})
	var he *analysis.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusNotFound, he.StatusCode)
}

func TestClient_RequestValidation(t *testing.T) {
	t.Parallel()

	c := newClient(t, mockwebhook.New(""), "")
	ctx := context.Background()

	_, err := c.Analyze(ctx, analysis.AnalyzeRequest{})
	assert.ErrorContains(t, err, "session id is required")
	_, err = c.Chat(ctx, analysis.ChatRequest{SessionID: "x"})
	assert.ErrorContains(t, err, "message is required")
}

func TestClient_MissingAnalysis(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"s","message":"hello"}`))
	}))
	t.Cleanup(ts.Close)

	c, err := analysis.NewClient(analysis.Config{URL: ts.URL})
	require.NoError(t, err)
	_, err = c.Analyze(context.Background(), sampleRequest("s"))
	assert.ErrorContains(t, err, "no analysis")
}

func TestClient_ResponseFallbackField(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"analysis":{"lap_delta":-0.1},"response":"nice lap"}`))
	}))
	t.Cleanup(ts.Close)

	c, err := analysis.NewClient(analysis.Config{URL: ts.URL})
	require.NoError(t, err)
	resp, err := c.Analyze(context.Background(), sampleRequest("s9"))
	require.NoError(t, err)
	assert.Equal(t, "nice lap", resp.Message)
	assert.Equal(t, "s9", resp.SessionID)
}

func TestNewClient_ValidatesURL(t *testing.T) {
	tests := []struct {
		name    string
		cfg     analysis.Config
		wantErr string
	}{
		{name: "empty", cfg: analysis.Config{}, wantErr: "webhook URL is required"},
		{name: "bad scheme", cfg: analysis.Config{URL: "ftp://example.test"}, wantErr: "must be http(s)"},
		{name: "bad chat", cfg: analysis.Config{URL: "https://example.test", ChatURL: "ftp://x"}, wantErr: "chat webhook URL"},
		{name: "missing CA", cfg: analysis.Config{URL: "example.test/hook", CAPath: "/nonexistent/ca.pem"}, wantErr: "read webhook CA file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := analysis.NewClient(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
