package redact_test

import (
	"testing"

	"github.com/shpitdev/lapcoach/pkg/pipeline/redact"
)

func TestSecrets(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "bearer", in: "auth failed: Bearer abc.def.ghi", want: "auth failed: Bearer <redacted>"},
		{name: "api key", in: "GEMINI_API_KEY=sk-123 rejected", want: "<redacted_kv> rejected"},
		{name: "webhook token", in: "webhook_token: s3cr3t", want: "<redacted_kv>"},
		{
			name: "query secret",
			in:   `Post "https://hooks.example.test/analyze?token=abc123&lap=2": dial tcp`,
			want: `Post "https://hooks.example.test/analyze?token=<redacted>&lap=2": dial tcp`,
		},
		{name: "untouched", in: "  lap delta +0.412s  ", want: "lap delta +0.412s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redact.Secrets(tt.in); got != tt.want {
				t.Fatalf("Secrets(%q)=%q want=%q", tt.in, got, tt.want)
			}
		})
	}
}
