package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestLoggerInitialization tests that logger can be initialized with different log levels
func TestLoggerInitialization(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  logrus.Level
	}{
		{name: "Valid DEBUG level", level: "DEBUG", want: logrus.DebugLevel},
		{name: "Valid INFO level", level: "INFO", want: logrus.InfoLevel},
		{name: "Valid WARN level", level: "WARN", want: logrus.WarnLevel},
		{name: "Valid ERROR level", level: "ERROR", want: logrus.ErrorLevel},
		{name: "Invalid level defaults to INFO", level: "INVALID", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Init(tt.level)
			if GetLogger().Level != tt.want {
				t.Errorf("Expected level %v, got %v", tt.want, GetLogger().Level)
			}
		})
	}
}

// TestWithSession tests that session-scoped entries carry the server id as JSON
func TestWithSession(t *testing.T) {
	Init("DEBUG")
	var buf bytes.Buffer
	SetOutput(&buf)

	WithSession("srv-1").WithField("step", "tools").Info("advanced")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["server_id"] != "srv-1" {
		t.Errorf("Expected server_id srv-1, got %v", entry["server_id"])
	}
	if entry["step"] != "tools" {
		t.Errorf("Expected step tools, got %v", entry["step"])
	}
	if entry["msg"] != "advanced" {
		t.Errorf("Expected msg advanced, got %v", entry["msg"])
	}
}

// TestWithError tests that errors are attached under the standard key
func TestWithError(t *testing.T) {
	Init("INFO")
	var buf bytes.Buffer
	SetOutput(&buf)

	WithError(errors.New("boom")).Error("task failed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line: %v", err)
	}
	if entry[logrus.ErrorKey] != "boom" {
		t.Errorf("Expected error boom, got %v", entry[logrus.ErrorKey])
	}
}

// TestLevelFiltering tests that entries below the configured level are dropped
func TestLevelFiltering(t *testing.T) {
	Init("WARN")
	var buf bytes.Buffer
	SetOutput(&buf)

	Debug("hidden")
	Infof("hidden %s", "too")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below WARN, got %q", buf.String())
	}

	Warnf("shown %d", 1)
	if buf.Len() == 0 {
		t.Errorf("Expected WARN output")
	}
}

// TestLoggerWithFields tests that logger can add contextual fields
func TestLoggerWithFields(t *testing.T) {
	Init("INFO")

	entry := WithFields(logrus.Fields{
		"server_id": "srv-1",
		"kind":      "suggest_tools",
	})
	if entry == nil {
		t.Fatalf("WithFields should return a non-nil entry")
	}
	if entry.Data["kind"] != "suggest_tools" {
		t.Errorf("Expected kind field, got %v", entry.Data["kind"])
	}
}

// TestInitCLI tests that the command line logger writes plain text
func TestInitCLI(t *testing.T) {
	InitCLI("WARN")
	defer Init("INFO")
	var buf bytes.Buffer
	SetOutput(&buf)

	WithSession("srv-1").Warn("registry disabled")

	if json.Valid(buf.Bytes()) {
		t.Errorf("Expected text output, got JSON %q", buf.String())
	}
	if !strings.Contains(buf.String(), "server_id=srv-1") {
		t.Errorf("Expected server_id field, got %q", buf.String())
	}
}
