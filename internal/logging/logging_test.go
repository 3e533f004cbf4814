package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "JSON format to stdout",
			config: Config{Level: "info", Format: "json", Output: "stdout"},
		},
		{
			name:   "Console format to stderr",
			config: Config{Level: "debug", Format: "console", Output: "stderr"},
		},
		{
			name:   "Invalid log level defaults to info",
			config: Config{Level: "invalid", Format: "json", Output: "stdout"},
		},
		{
			name:    "Unwritable file",
			config:  Config{Level: "info", Format: "json", Output: "/nonexistent-dir/app.log"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Failed to decode log line %q: %v", line, err)
	}
	return entry
}

func TestContextualFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.DebugLevel).
		WithJobID("job-1").
		WithVideoID("video-1").
		WithComponent("pipeline")

	logger.Info("hello")

	entry := decodeLine(t, &buf)
	if entry["job_id"] != "job-1" || entry["video_id"] != "video-1" || entry["component"] != "pipeline" {
		t.Errorf("Missing contextual fields: %v", entry)
	}
	if entry["message"] != "hello" {
		t.Errorf("Expected message hello, got %v", entry["message"])
	}
}

func TestLogFrameDescribedLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.DebugLevel)

	logger.LogFrameDescribed(4, 8.0, 120*time.Millisecond, nil)
	entry := decodeLine(t, &buf)
	if entry["level"] != "debug" {
		t.Errorf("Expected debug level for a clean frame, got %v", entry["level"])
	}
	if entry["frame_number"] != float64(4) {
		t.Errorf("Expected frame_number 4, got %v", entry["frame_number"])
	}

	buf.Reset()
	logger.LogFrameDescribed(5, 10.0, time.Second, errors.New("boom"))
	entry = decodeLine(t, &buf)
	if entry["level"] != "warn" || entry["error"] != "boom" {
		t.Errorf("Expected warn with error, got %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.WarnLevel)

	logger.Info("dropped")
	logger.Debugf("dropped %d", 1)
	if buf.Len() != 0 {
		t.Errorf("Expected nothing below warn, got %q", buf.String())
	}

	logger.WithError(errors.New("x")).Error("kept")
	if buf.Len() == 0 {
		t.Error("Expected error entry")
	}
}

func TestNop(t *testing.T) {
	// Must not panic.
	Nop().WithField("k", "v").LogPipelineSummary("local", 3, 1, time.Second)
}
