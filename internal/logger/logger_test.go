package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

// captureStdout runs fn with stdout redirected and returns what it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	w.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func TestLevels_IncludeTagAndMessage(t *testing.T) {
	out := captureStdout(t, func() {
		Info("ESI", "info message")
		Success("DB", "success message")
		Warn("Cache", "warn message")
		Error("Scan", "error message")
	})
	for _, want := range []string{"[ESI]", "info message", "[DB]", "[Cache]", "warn message", "[Scan]", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBanner_DefaultsVersion(t *testing.T) {
	out := captureStdout(t, func() {
		Banner("")
	})
	if !strings.Contains(out, "dev") {
		t.Errorf("banner without version should show dev, got:\n%s", out)
	}
}

func TestSectionStatsServer_NoPanic(t *testing.T) {
	out := captureStdout(t, func() {
		Section("Universe")
		Stats("Systems", 42)
		Server("127.0.0.1:13371")
	})
	if !strings.Contains(out, "Systems:") || !strings.Contains(out, "42") {
		t.Errorf("stats line missing, got:\n%s", out)
	}
	if !strings.Contains(out, "127.0.0.1:13371") {
		t.Errorf("server line missing addr, got:\n%s", out)
	}
}
