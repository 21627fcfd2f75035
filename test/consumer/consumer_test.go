package consumer

import (
	"context"
	"strings"
	"testing"

	"github.com/shpitdev/lapcoach/pkg/analysis"
	"github.com/shpitdev/lapcoach/pkg/pipeline/core"
	"github.com/shpitdev/lapcoach/pkg/pipeline/redact"
	"github.com/shpitdev/lapcoach/pkg/pipeline/worker"
	"github.com/shpitdev/lapcoach/pkg/telemetry/channels"
	"github.com/shpitdev/lapcoach/pkg/telemetry/io/local"
)

func TestPublicPackagesCompile(t *testing.T) {
	t.Parallel()

	_ = analysis.AnalyzeRequest{}
	_ = core.TransientError{}

	lap, err := local.ReadLapCSV(strings.NewReader("Time,Distance,Speed\n0,0,100\n"))
	if err != nil {
		t.Fatalf("ReadLapCSV failed: %v", err)
	}
	res := channels.Resolve(lap.Columns, channels.DefaultCatalog())
	if !res.OK() {
		t.Fatalf("expected all required channels, missing=%v", res.MissingRequired)
	}

	out, err := worker.ProcessAll(context.Background(), []string{"x"}, func(_ context.Context, in string) (string, error) {
		return in, nil
	}, worker.Options{Workers: 1})
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("unexpected results: %#v", out)
	}

	if got := redact.Secrets("Authorization: Bearer abc.def"); strings.Contains(got, "abc.def") {
		t.Fatalf("token not redacted: %q", got)
	}

	if _, err := channels.ParseCatalog([]byte("required:\n  - name: time\n    aliases: [time]\n")); err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
}
