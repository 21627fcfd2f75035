package local

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Lap is a parsed telemetry log: its header and one record per sample.
type Lap struct {
	// Columns holds the header labels in file order, trimmed.
	Columns []string
	// Rows holds one map per record keyed by column label.
	Rows []map[string]any
}

// ReadLapCSV reads a telemetry CSV. The first record is the header.
//
// Cell values are typed: numbers become float64, true/false become bool,
// empty cells become nil and everything else stays a string.
func ReadLapCSV(r io.Reader) (Lap, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Lap{}, fmt.Errorf("read header: empty file")
		}
		return Lap{}, fmt.Errorf("read header: %w", err)
	}
	columns := make([]string, len(header))
	for i, col := range header {
		if i == 0 {
			col = strings.TrimPrefix(col, "\ufeff")
		}
		columns[i] = strings.TrimSpace(col)
	}

	var rows []map[string]any
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Lap{}, fmt.Errorf("read row %d: %w", line, err)
		}
		if blankRecord(rec) {
			continue
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if col == "" {
				continue
			}
			if _, dup := row[col]; dup {
				continue
			}
			if i >= len(rec) {
				row[col] = nil
				continue
			}
			row[col] = typedValue(rec[i])
		}
		rows = append(rows, row)
	}
	return Lap{Columns: columns, Rows: rows}, nil
}

// ReadLapFile opens path and reads it with ReadLapCSV.
func ReadLapFile(path string) (Lap, error) {
	f, err := os.Open(path)
	if err != nil {
		return Lap{}, err
	}
	defer func() {
		_ = f.Close()
	}()

	lap, err := ReadLapCSV(f)
	if err != nil {
		return Lap{}, fmt.Errorf("%s: %w", path, err)
	}
	return lap, nil
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func typedValue(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
