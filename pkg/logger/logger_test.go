package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"debug", *DebugConfig(), false},
		{"production", *ProductionConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"bad output", Config{Level: InfoLevel, Format: TextFormat, Output: "syslog"}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithFieldsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLoggerWithWriter(&Config{Level: DebugLevel, Format: JSONFormat, Output: StdoutOutput}, &buf)
	if err != nil {
		t.Fatalf("NewLoggerWithWriter: %v", err)
	}

	log.WithComponent("matcher").
		WithScope("ACME|BETA|2024-03").
		WithFields(Fields{"pass": "reference"}).
		WithError(errors.New("boom")).
		Info("pass finished")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}

	want := map[string]string{
		"component": "matcher",
		"scope":     "ACME|BETA|2024-03",
		"pass":      "reference",
		"error":     "boom",
		"msg":       "pass finished",
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("field %s = %v, want %s", k, line[k], v)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLoggerWithWriter(&Config{Level: WarnLevel, Format: TextFormat, Output: StdoutOutput}, &buf)
	if err != nil {
		t.Fatalf("NewLoggerWithWriter: %v", err)
	}

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should have been filtered")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn line should have been written")
	}
}

func TestProgressTracker(t *testing.T) {
	tracker := NewProgressTracker(ProgressConfig{
		Operation:   "reconcile-all",
		Total:       4,
		LogInterval: time.Hour,
		Logger:      Discard(),
	})

	tracker.ScopeDone(3, nil)
	tracker.ScopeDone(0, errors.New("lock unavailable"))
	tracker.ScopeDone(2, nil)

	stats := tracker.GetStats()
	if stats.Current != 3 || stats.Matches != 5 || stats.Failed != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Percentage != 75 {
		t.Errorf("expected 75%%, got %.1f", stats.Percentage)
	}

	final := tracker.Complete()
	if !strings.Contains(final.String(), "3/4 scopes") {
		t.Errorf("unexpected summary %q", final.String())
	}
}

func TestTimedOperation(t *testing.T) {
	want := errors.New("failed")
	if got := TimedOperation("import", Discard(), func() error { return want }); got != want {
		t.Errorf("expected error to pass through, got %v", got)
	}
	if got := TimedOperation("import", Discard(), func() error { return nil }); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
