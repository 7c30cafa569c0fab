package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestUseJSON(t *testing.T) {
	tests := []struct {
		format string
		tty    bool
		want   bool
	}{
		{"json", true, true},
		{"text", false, false},
		{"", true, false},
		{"", false, true},
	}
	for _, tt := range tests {
		if got := useJSON(tt.format, tt.tty); got != tt.want {
			t.Errorf("useJSON(%q, %v) = %v", tt.format, tt.tty, got)
		}
	}
}

func TestJSONHandlerHonoursLevel(t *testing.T) {
	defer Level.Set(slog.LevelInfo)

	var buf bytes.Buffer
	logger := slog.New(JSONHandler(&buf))

	Level.Set(slog.LevelWarn)
	logger.Info("dropped")
	logger.Warn("kept", "room", "668")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "kept" || rec["room"] != "668" {
		t.Errorf("unexpected record %v", rec)
	}
}
