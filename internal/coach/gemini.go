package coach

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"

	"github.com/shpitdev/lapcoach/internal/session"
	"github.com/shpitdev/lapcoach/pkg/pipeline/core"
)

// maxAnalysisChars bounds how much of the analysis payload goes into a prompt.
const maxAnalysisChars = 24000

// GeminiConfig configures the Gemini coach.
type GeminiConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Gemini answers questions locally from the stored analysis using a Gemini model.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini builds a Gemini coach.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

func (g *Gemini) Reply(ctx context.Context, t session.Transcript, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}

	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		buildContents(t, question),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt(t), genai.RoleUser),
			CandidateCount:    1,
		},
	)
	if err != nil {
		return "", classifyErr(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: empty reply")
	}
	return text, nil
}

func systemPrompt(t session.Transcript) string {
	analysisJSON := strings.TrimSpace(string(t.Analysis))
	if analysisJSON == "" {
		analysisJSON = "{}"
	}
	if len(analysisJSON) > maxAnalysisChars {
		analysisJSON = analysisJSON[:maxAnalysisChars] + "...(truncated)"
	}
	var b strings.Builder
	b.WriteString("You are a motorsport driving coach. Answer the driver's questions using only the lap comparison analysis below.\n")
	b.WriteString("Be concrete: name corners or distance ranges, give one actionable change at a time, and keep answers under 150 words.\n")
	if t.Driver != "" {
		b.WriteString("Driver: " + t.Driver + "\n")
	}
	if t.Track != "" {
		b.WriteString("Track: " + t.Track + "\n")
	}
	b.WriteString("Analysis JSON:\n")
	b.WriteString(analysisJSON)
	return b.String()
}

// buildContents replays the transcript as alternating user/model turns.
func buildContents(t session.Transcript, question string) []*genai.Content {
	out := make([]*genai.Content, 0, len(t.Messages)+1)
	for _, m := range t.Messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == session.RoleCoach {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(text, role))
	}
	return append(out, genai.NewContentFromText(question, genai.RoleUser))
}

func classifyErr(err error) error {
	// Wrap transient failures so the caller's retry loop backs off and tries again.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &core.TransientError{Err: err}
	}
	return err
}
