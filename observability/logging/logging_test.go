package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupWithOptionsWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "vaultd.log")
	logger := SetupWithOptions("vaultd", "test", Options{Level: "debug", File: file, MaxSizeMB: 1, Output: &buf})
	logger.Debug("transaction committed", "module", "farm", MaskField("secret", "hunter2"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "transaction committed" || line["severity"] != "DEBUG" {
		t.Fatalf("unexpected renamed keys: %v", line)
	}
	if line["service"] != "vaultd" || line["env"] != "test" || line["module"] != "farm" {
		t.Fatalf("missing attributes: %v", line)
	}
	if line["secret"] != RedactedValue {
		t.Fatalf("expected secret to be masked, got %v", line["secret"])
	}
	data, err := os.ReadFile(file)
	if err != nil || !bytes.Equal(bytes.TrimSpace(data), bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("expected rotated file copy, got %q err=%v", data, err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestMaskFieldAllowlist(t *testing.T) {
	if attr := MaskField("module", "farm"); attr.Value.String() != "farm" {
		t.Fatalf("allowlisted key should pass through")
	}
	if attr := MaskField("Authorization", "Bearer x"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected authorization to be masked")
	}
	if MaskValue("  ") != "  " {
		t.Fatalf("empty values should be left untouched")
	}
}
