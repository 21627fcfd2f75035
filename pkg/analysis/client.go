package analysis

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// maxResponseBytes bounds how much of a webhook reply is read into memory.
const maxResponseBytes = 32 << 20

// Config configures a Client.
type Config struct {
	// URL is the analysis webhook endpoint.
	URL string
	// ChatURL receives follow-up chat turns. Defaults to URL.
	ChatURL string
	// Token, when set, is sent as a bearer token.
	Token string
	// CAPath is an optional PEM bundle trusted for TLS.
	CAPath string
	// Timeout bounds a single HTTP exchange. Defaults to 120s; analysis is slow.
	Timeout time.Duration
}

// Client talks to the external analysis webhook.
type Client struct {
	url     *url.URL
	chatURL *url.URL
	token   string
	http    *http.Client
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	u, err := parseWebhookURL(cfg.URL, "webhook")
	if err != nil {
		return nil, err
	}
	chat := u
	if strings.TrimSpace(cfg.ChatURL) != "" {
		chat, err = parseWebhookURL(cfg.ChatURL, "chat webhook")
		if err != nil {
			return nil, err
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	hc, err := newHTTPClient(cfg.CAPath, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		url:     u,
		chatURL: chat,
		token:   strings.TrimSpace(cfg.Token),
		http:    hc,
	}, nil
}

func parseWebhookURL(raw string, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s URL is required", name)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s URL must be http(s) (got scheme %q)", name, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%s URL must include a host", name)
	}
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(caPath string, timeout time.Duration) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(caPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(caPath))
		if err != nil {
			return nil, fmt.Errorf("read webhook CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse webhook CA PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// Analyze posts both laps to the webhook and returns its analysis.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return AnalyzeResponse{}, fmt.Errorf("session id is required")
	}
	if req.ReferenceData == nil {
		req.ReferenceData = []map[string]any{}
	}
	if req.CurrentData == nil {
		req.CurrentData = []map[string]any{}
	}

	var reply wireReply
	if err := c.postJSON(ctx, "analyze", c.url, req, &reply); err != nil {
		return AnalyzeResponse{}, err
	}

	out := AnalyzeResponse{
		Analysis:  reply.Analysis,
		SessionID: strings.TrimSpace(reply.SessionID),
		Message:   reply.text(),
	}
	if out.SessionID == "" {
		out.SessionID = req.SessionID
	}
	if len(out.Analysis) == 0 || string(out.Analysis) == "null" {
		return out, fmt.Errorf("analyze: webhook response has no analysis")
	}
	return out, nil
}

// Chat sends a follow-up coaching question for an existing session.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return ChatResponse{}, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return ChatResponse{}, fmt.Errorf("message is required")
	}
	req.Type = "chat"

	var reply wireReply
	if err := c.postJSON(ctx, "chat", c.chatURL, req, &reply); err != nil {
		return ChatResponse{}, err
	}
	out := ChatResponse{
		SessionID: strings.TrimSpace(reply.SessionID),
		Message:   reply.text(),
	}
	if out.SessionID == "" {
		out.SessionID = req.SessionID
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, op string, u *url.URL, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return newHTTPError(op, resp, b)
	}
	doc := bytes.TrimSpace(b)
	// Workflow-engine webhooks commonly wrap the reply in a one-element array.
	if len(doc) > 0 && doc[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(doc, &items); err != nil {
			return fmt.Errorf("parse %s response: %w (body=%s)", op, err, redactAndTruncate(b))
		}
		if len(items) == 0 {
			return fmt.Errorf("parse %s response: empty array", op)
		}
		doc = items[0]
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return fmt.Errorf("parse %s response: %w (body=%s)", op, err, redactAndTruncate(b))
	}
	return nil
}
