package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info().Msg("hidden")
	log.Warn().Str("channel", "newsdaily").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["message"] != "shown" || entry["channel"] != "newsdaily" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "loud", Output: &buf})

	log.Debug().Msg("debug")
	log.Info().Msg("info")

	if strings.Contains(buf.String(), `"message":"debug"`) {
		t.Errorf("debug line should be filtered: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"message":"info"`) {
		t.Errorf("info line missing: %s", buf.String())
	}
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(Config{Output: &buf}), "scheduler")
	log.Info().Msg("tick")

	if !strings.Contains(buf.String(), `"component":"scheduler"`) {
		t.Errorf("missing component field: %s", buf.String())
	}
}
