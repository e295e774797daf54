package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv(APIKeyEnv, "  key-123  ")
	t.Setenv("CONVERSATION_LOG_ENABLED", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIKey != "key-123" {
		t.Errorf("expected trimmed API key, got %q", cfg.APIKey)
	}
	if cfg.TextModel != "gemini-1.5-flash-001" {
		t.Errorf("unexpected text model %q", cfg.TextModel)
	}
	if cfg.VisionModel != "gemini-1.5-flash" {
		t.Errorf("unexpected vision model %q", cfg.VisionModel)
	}
	if cfg.SessionTTL != 60*time.Minute {
		t.Errorf("unexpected session TTL %v", cfg.SessionTTL)
	}
	if cfg.ConversationLog.Enabled {
		t.Error("expected conversation transcripts to be off by default")
	}
}

func TestLoadFileOverlayEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
text_model: file-text
vision_model: file-vision
port: "9090"
session_ttl: 15m
conversation_log:
  enabled: true
  queue_size: 42
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("VISION_MODEL", "env-vision")
	t.Setenv("CONVERSATION_LOG_ENABLED", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TextModel != "file-text" {
		t.Errorf("expected file text model, got %q", cfg.TextModel)
	}
	if cfg.VisionModel != "env-vision" {
		t.Errorf("expected env to win for vision model, got %q", cfg.VisionModel)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port from file, got %q", cfg.Port)
	}
	if cfg.SessionTTL != 15*time.Minute {
		t.Errorf("expected session TTL from file, got %v", cfg.SessionTTL)
	}
	if !cfg.ConversationLog.Enabled {
		t.Error("expected conversation log enabled by file")
	}
	if cfg.ConversationLog.QueueSize != 42 {
		t.Errorf("expected queue size 42, got %d", cfg.ConversationLog.QueueSize)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("session_ttl: soon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable session_ttl")
	}
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg.MaxImageBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero MAX_IMAGE_BYTES")
	}

	cfg = defaults()
	cfg.ConversationLog.Dir = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("log dir is irrelevant while transcripts are off: %v", err)
	}
	cfg.ConversationLog.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty CONVERSATION_LOG_DIR")
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected wildcard in development, got %v", got)
	}

	cfg.FrontendURL = "https://qa.example.org/, https://admin.example.org"
	got := cfg.AllowedOrigins()
	if len(got) != 2 || got[0] != "https://qa.example.org" || got[1] != "https://admin.example.org" {
		t.Fatalf("unexpected origins %v", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FLAG_ON", "Yes")
	t.Setenv("FLAG_OFF", "off")
	t.Setenv("FLAG_JUNK", "maybe")

	if !getEnvBool("FLAG_ON", false) {
		t.Error("expected FLAG_ON true")
	}
	if getEnvBool("FLAG_OFF", true) {
		t.Error("expected FLAG_OFF false")
	}
	if !getEnvBool("FLAG_JUNK", true) {
		t.Error("expected fallback for unparseable value")
	}
}
