package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "warn")

	l.Info("hidden")
	l.Warn("shown", "key", "value")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if rec["msg"] != "shown" || rec["key"] != "value" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "debug").With("component", "fetch")
	l.Debug("hello")

	if !strings.Contains(buf.String(), `"component":"fetch"`) {
		t.Errorf("missing attribute in %q", buf.String())
	}
}

func TestParseLevelDefault(t *testing.T) {
	if got := parseLevel("loud"); got.String() != "INFO" {
		t.Errorf("parseLevel(loud) = %v, want INFO", got)
	}
}
