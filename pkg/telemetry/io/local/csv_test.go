package local_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shpitdev/lapcoach/pkg/telemetry/io/local"
)

func TestReadLapCSV(t *testing.T) {
	t.Run("reads header and typed rows", func(t *testing.T) {
		in := "Time,Distance,Speed,Gear,Note\n0.0,0,120.5,3,start\n0.1,3.4,121,3,\n"
		lap, err := local.ReadLapCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := strings.Join(lap.Columns, ","); got != "Time,Distance,Speed,Gear,Note" {
			t.Fatalf("unexpected columns: %q", got)
		}
		if len(lap.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(lap.Rows))
		}
		if v, ok := lap.Rows[0]["Speed"].(float64); !ok || v != 120.5 {
			t.Fatalf("unexpected Speed: %#v", lap.Rows[0]["Speed"])
		}
		if v, ok := lap.Rows[0]["Note"].(string); !ok || v != "start" {
			t.Fatalf("unexpected Note: %#v", lap.Rows[0]["Note"])
		}
		if lap.Rows[1]["Note"] != nil {
			t.Fatalf("expected nil for empty cell, got %#v", lap.Rows[1]["Note"])
		}
	})

	t.Run("trims header whitespace and BOM", func(t *testing.T) {
		in := "\ufeffTime , Speed\n1,2\n"
		lap, err := local.ReadLapCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lap.Columns[0] != "Time" || lap.Columns[1] != "Speed" {
			t.Fatalf("unexpected columns: %#v", lap.Columns)
		}
	})

	t.Run("booleans and non-finite values", func(t *testing.T) {
		in := "flag,x\nTRUE,NaN\nfalse,Inf\n"
		lap, err := local.ReadLapCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lap.Rows[0]["flag"] != true || lap.Rows[1]["flag"] != false {
			t.Fatalf("unexpected flags: %#v %#v", lap.Rows[0]["flag"], lap.Rows[1]["flag"])
		}
		if lap.Rows[0]["x"] != "NaN" || lap.Rows[1]["x"] != "Inf" {
			t.Fatalf("non-finite values should stay strings: %#v %#v", lap.Rows[0]["x"], lap.Rows[1]["x"])
		}
	})

	t.Run("ragged and blank rows", func(t *testing.T) {
		in := "a,b,c\n1\n,,\n1,2,3,4\n"
		lap, err := local.ReadLapCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(lap.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d: %#v", len(lap.Rows), lap.Rows)
		}
		if lap.Rows[0]["b"] != nil || lap.Rows[0]["c"] != nil {
			t.Fatalf("short row should pad with nil: %#v", lap.Rows[0])
		}
		if len(lap.Rows[1]) != 3 {
			t.Fatalf("extra cells should be dropped: %#v", lap.Rows[1])
		}
	})

	t.Run("duplicate header keeps first value", func(t *testing.T) {
		in := "Speed,Speed\n1,2\n"
		lap, err := local.ReadLapCSV(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lap.Rows[0]["Speed"] != float64(1) {
			t.Fatalf("unexpected Speed: %#v", lap.Rows[0]["Speed"])
		}
	})

	t.Run("header only", func(t *testing.T) {
		lap, err := local.ReadLapCSV(strings.NewReader("Time,Speed\n"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(lap.Columns) != 2 || len(lap.Rows) != 0 {
			t.Fatalf("unexpected lap: %#v", lap)
		}
	})

	t.Run("empty input errors", func(t *testing.T) {
		if _, err := local.ReadLapCSV(strings.NewReader("")); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestReadLapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lap.csv")
	if err := os.WriteFile(path, []byte("time,distance,speed\n0,0,0\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	lap, err := local.ReadLapFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lap.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(lap.Rows))
	}

	if _, err := local.ReadLapFile(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
