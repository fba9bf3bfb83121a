package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pgschema/pgmatview/internal/refresh"
)

func sampleEntries() []refresh.LogEntry {
	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	return []refresh.LogEntry{
		{ID: 2, ViewName: "daily_totals", UpdatedAt: at, Duration: 1200 * time.Millisecond, Failed: false},
		{ID: 1, ViewName: "daily_totals", UpdatedAt: at.Add(-time.Hour), Duration: 300 * time.Millisecond, Failed: true},
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	if err := writeTable(&buf, sampleEntries()); err != nil {
		t.Fatalf("writeTable() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got:\n%s", buf.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "1.2s") || !strings.HasSuffix(lines[1], "ok") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "failed") {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestWriteTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeTable(&buf, nil); err != nil {
		t.Fatalf("writeTable() error = %v", err)
	}
	if buf.String() != "No refreshes recorded.\n" {
		t.Errorf("writeTable(nil) = %q", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, sampleEntries()); err != nil {
		t.Fatalf("writeJSON() error = %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if len(decoded) != 2 || decoded[1]["failed"] != true {
		t.Errorf("decoded = %v", decoded)
	}

	buf.Reset()
	if err := writeJSON(&buf, nil); err != nil {
		t.Fatalf("writeJSON(nil) error = %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("writeJSON(nil) = %q", buf.String())
	}
}
