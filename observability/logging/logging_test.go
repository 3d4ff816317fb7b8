package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWithOptionsWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := SetupWithOptions("vaultd", "test", Options{Level: "debug", Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Debug("harvested", "op", "harvest")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "harvested" || line["severity"] != "DEBUG" || line["service"] != "vaultd" || line["env"] != "test" {
		t.Fatalf("unexpected log line %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp in %v", line)
	}
}

func TestSetupWithOptionsRotatedFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "vaultd.log")
	logger, err := SetupWithOptions("vaultd", "", Options{File: path, Output: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Info("started")
	logger.Debug("hidden")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"started"`) {
		t.Fatalf("file missing log line: %s", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatalf("debug line written at info level")
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestParseLevel(t *testing.T) {
	if level, err := ParseLevel("WARN"); err != nil || level != slog.LevelWarn {
		t.Fatalf("expected warn, got %v %v", level, err)
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("authorization", "Bearer abc"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %v", attr)
	}
	if attr := MaskField("user", "0xabc"); attr.Value.String() != "0xabc" {
		t.Fatalf("allowlisted key must pass through, got %v", attr)
	}
	keys := RedactionAllowlist()
	if len(keys) == 0 || keys[0] != "asset" {
		t.Fatalf("expected sorted allowlist, got %v", keys)
	}
}
