package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewLogger(Config{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(Event{
		SessionID:  "sess-1",
		Channel:    "http",
		Direction:  "inbound",
		EventType:  "question",
		ContentRaw: "what is Go?",
	})

	line := waitForLogLine(t, filepath.Join(dir, "sess-1.ndjson"))
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ContentRaw != "what is Go?" {
		t.Fatalf("unexpected ContentRaw: %q", got.ContentRaw)
	}
	if got.Content == "" {
		t.Fatal("expected cleaned content to be populated")
	}
	if got.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}

func TestLoggerGlobalFileAndClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "global.ndjson")
	logger, err := NewLogger(Config{
		Enabled:       true,
		Dir:           filepath.Join(dir, "sessions"),
		GlobalEnabled: true,
		GlobalPath:    global,
	}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Log(Event{SessionID: "a", EventType: "question", ContentRaw: "one"})
	logger.Log(Event{SessionID: "../b", EventType: "answer", ContentRaw: "two"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Logging after close must not panic.
	logger.Log(Event{SessionID: "a", ContentRaw: "late"})

	data, err := os.ReadFile(global)
	if err != nil {
		t.Fatalf("read global: %v", err)
	}
	if n := len(strings.Split(strings.TrimSpace(string(data)), "\n")); n != 2 {
		t.Fatalf("expected 2 global lines, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "sessions", ".._b.ndjson")); err != nil {
		t.Fatalf("expected sanitized session file: %v", err)
	}
}

func TestCloseSessionReleasesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewLogger(Config{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("sess-%d", i)
		logger.Log(Event{SessionID: ids[i], EventType: "question", ContentRaw: "q"})
	}
	for _, id := range ids {
		logger.CloseSession(id)
	}
	if n := len(logger.files); n != 0 {
		t.Fatalf("expected all session files released, %d still open", n)
	}

	// A later event reopens the file and appends.
	logger.Log(Event{SessionID: "sess-0", EventType: "answer", ContentRaw: "a"})
	logger.CloseSession("sess-0")
	if n := len(logger.files); n != 0 {
		t.Fatalf("expected reopened file released, %d still open", n)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Releasing after close must not block or panic.
	logger.CloseSession("sess-1")

	data, err := os.ReadFile(filepath.Join(dir, "sess-0.ndjson"))
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	if n := len(strings.Split(strings.TrimSpace(string(data)), "\n")); n != 2 {
		t.Fatalf("expected 2 lines after reopen, got %d", n)
	}
}

func TestDisabledLoggerIsNoop(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "never")
	logger, err := NewLogger(Config{Enabled: false, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Log(Event{SessionID: "x", ContentRaw: "ignored"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected no directory to be created, got %v", err)
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain\r\n"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") {
		t.Fatalf("expected ANSI sequence to be stripped: %q", clean)
	}
	if clean != "error plain" {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
