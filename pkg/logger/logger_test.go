package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitAndLevelString(t *testing.T) {
	Init("debug")
	if got := LevelString(); got != "debug" {
		t.Fatalf("LevelString() = %q, want %q", got, "debug")
	}
	Init("WARN")
	if got := LevelString(); got != "warn" {
		t.Fatalf("LevelString() = %q, want %q", got, "warn")
	}
	Init("Error")
	if got := LevelString(); got != "error" {
		t.Fatalf("LevelString() = %q, want %q", got, "error")
	}
	Init("nonsense")
	if got := LevelString(); got != "info" {
		t.Fatalf("LevelString() = %q, want %q for unknown input", got, "info")
	}
}

func TestLevelFilteringAndPrintln(t *testing.T) {
	var buf bytes.Buffer
	orig := SetOutput(&buf)
	defer SetOutput(orig)

	Init("warn")
	Debugf("debug-msg")
	Infof("info-msg")
	Warnf("warn-msg")
	Errorf("error-msg")

	out := buf.String()
	if strings.Contains(out, "debug-msg") {
		t.Fatalf("debug messages should be suppressed at warn level")
	}
	if strings.Contains(out, "info-msg") {
		t.Fatalf("info messages should be suppressed at warn level")
	}
	if !strings.Contains(out, "warn-msg") || !strings.Contains(out, "WARN") {
		t.Fatalf("warn message missing: %q", out)
	}
	if !strings.Contains(out, "error-msg") {
		t.Fatalf("error message missing: %q", out)
	}

	buf.Reset()
	Println("hello")
	if strings.Contains(buf.String(), "hello") {
		t.Fatalf("Println should be suppressed at warn level")
	}

	Init("info")
	buf.Reset()
	Println("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("Println expected at info level, got: %q", buf.String())
	}
}

func TestInfowWritesFields(t *testing.T) {
	var buf bytes.Buffer
	orig := SetOutput(&buf)
	defer SetOutput(orig)
	Init("info")

	Infow("refresh rotated", "user", "alice")
	if !strings.Contains(buf.String(), "refresh rotated") || !strings.Contains(buf.String(), "alice") {
		t.Fatalf("expected message and field in output: %q", buf.String())
	}
}

func TestTokenPrefix(t *testing.T) {
	if got := TokenPrefix("short"); got != "short" {
		t.Fatalf("TokenPrefix(short) = %q", got)
	}
	got := TokenPrefix("abcdefghijklmnop")
	if !strings.HasPrefix(got, "abcdefgh") || strings.Contains(got, "ijkl") {
		t.Fatalf("TokenPrefix leaked token tail: %q", got)
	}
}
