package coach

import (
	"context"
	"fmt"
	"strings"

	"github.com/shpitdev/lapcoach/internal/session"
	"github.com/shpitdev/lapcoach/pkg/analysis"
)

// Coach answers a driver's follow-up question about an analysed session.
type Coach interface {
	Reply(ctx context.Context, t session.Transcript, question string) (string, error)
}

// ChatClient is the subset of the webhook client a Webhook coach needs.
type ChatClient interface {
	Chat(ctx context.Context, req analysis.ChatRequest) (analysis.ChatResponse, error)
}

// Webhook relays questions to the analysis webhook, which keeps its own
// conversation state keyed by session id.
type Webhook struct {
	client ChatClient
	now    func() string
}

// NewWebhook wraps client. now formats the request timestamp.
func NewWebhook(client ChatClient, now func() string) *Webhook {
	return &Webhook{client: client, now: now}
}

func (w *Webhook) Reply(ctx context.Context, t session.Transcript, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}
	req := analysis.ChatRequest{
		SessionID:  t.SessionID,
		Message:    question,
		DriverName: t.Driver,
		TrackName:  t.Track,
	}
	if w.now != nil {
		req.Timestamp = w.now()
	}
	resp, err := w.client.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Message) == "" {
		return "", fmt.Errorf("chat: webhook returned an empty reply")
	}
	return resp.Message, nil
}
