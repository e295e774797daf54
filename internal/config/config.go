// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// APIKeyEnv names the environment variable holding the Gemini credential.
	APIKeyEnv = "GOOGLE_API_KEY"

	defaultTextModel     = "gemini-1.5-flash-001"
	defaultVisionModel   = "gemini-1.5-flash"
	defaultMaxImageBytes = 10 << 20
)

// Config holds all application configuration.
type Config struct {
	APIKey          string
	TextModel       string
	VisionModel     string
	GeminiBaseURL   string // empty = SDK default endpoint
	Port            string
	FrontendURL     string
	DBPath          string
	SessionTTL      time.Duration
	ReaperInterval  time.Duration
	MaxImageBytes   int64
	ConversationLog ConversationLogConfig
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// fileConfig is the optional YAML overlay named by CONFIG_FILE.
// Environment variables take precedence over values in the file.
type fileConfig struct {
	TextModel       string `yaml:"text_model"`
	VisionModel     string `yaml:"vision_model"`
	GeminiBaseURL   string `yaml:"gemini_base_url"`
	Port            string `yaml:"port"`
	FrontendURL     string `yaml:"frontend_url"`
	DBPath          string `yaml:"db_path"`
	SessionTTL      string `yaml:"session_ttl"`
	ReaperInterval  string `yaml:"reaper_interval"`
	MaxImageBytes   int64  `yaml:"max_image_bytes"`
	ConversationLog struct {
		Enabled       *bool  `yaml:"enabled"`
		Dir           string `yaml:"dir"`
		GlobalEnabled *bool  `yaml:"global_enabled"`
		GlobalPath    string `yaml:"global_path"`
		QueueSize     int    `yaml:"queue_size"`
	} `yaml:"conversation_log"`
}

// Load reads configuration from the optional CONFIG_FILE and environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		TextModel:      defaultTextModel,
		VisionModel:    defaultVisionModel,
		Port:           "8080",
		DBPath:         "./data/gemini-qa.db",
		SessionTTL:     60 * time.Minute,
		ReaperInterval: 5 * time.Minute,
		MaxImageBytes:  defaultMaxImageBytes,
		ConversationLog: ConversationLogConfig{
			Enabled:    false,
			Dir:        "./data/logs/conversations",
			GlobalPath: "./data/logs/conversations/all.ndjson",
			QueueSize:  1000,
		},
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.TextModel, fc.TextModel)
	setString(&c.VisionModel, fc.VisionModel)
	setString(&c.GeminiBaseURL, fc.GeminiBaseURL)
	setString(&c.Port, fc.Port)
	setString(&c.FrontendURL, fc.FrontendURL)
	setString(&c.DBPath, fc.DBPath)
	if fc.MaxImageBytes > 0 {
		c.MaxImageBytes = fc.MaxImageBytes
	}
	if fc.SessionTTL != "" {
		d, err := time.ParseDuration(fc.SessionTTL)
		if err != nil {
			return fmt.Errorf("parse session_ttl: %w", err)
		}
		c.SessionTTL = d
	}
	if fc.ReaperInterval != "" {
		d, err := time.ParseDuration(fc.ReaperInterval)
		if err != nil {
			return fmt.Errorf("parse reaper_interval: %w", err)
		}
		c.ReaperInterval = d
	}

	cl := fc.ConversationLog
	if cl.Enabled != nil {
		c.ConversationLog.Enabled = *cl.Enabled
	}
	if cl.GlobalEnabled != nil {
		c.ConversationLog.GlobalEnabled = *cl.GlobalEnabled
	}
	setString(&c.ConversationLog.Dir, cl.Dir)
	setString(&c.ConversationLog.GlobalPath, cl.GlobalPath)
	if cl.QueueSize > 0 {
		c.ConversationLog.QueueSize = cl.QueueSize
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIKey = strings.TrimSpace(getEnv(APIKeyEnv, c.APIKey))
	c.TextModel = getEnv("TEXT_MODEL", c.TextModel)
	c.VisionModel = getEnv("VISION_MODEL", c.VisionModel)
	c.GeminiBaseURL = getEnv("GEMINI_BASE_URL", c.GeminiBaseURL)
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	c.ReaperInterval = getEnvDuration("REAPER_INTERVAL", c.ReaperInterval)
	c.MaxImageBytes = int64(getEnvInt("MAX_IMAGE_BYTES", int(c.MaxImageBytes)))

	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize)
	if queueSize <= 0 {
		queueSize = 1000
	}
	c.ConversationLog = ConversationLogConfig{
		Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled),
		Dir:           getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir),
		GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", c.ConversationLog.GlobalEnabled),
		GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", c.ConversationLog.GlobalPath),
		QueueSize:     queueSize,
	}
}

// Validate checks that all required configuration fields are set.
// The API key is not checked here; the credential resolver owns that decision.
func (c *Config) Validate() error {
	if c.TextModel == "" {
		return errors.New("TEXT_MODEL cannot be empty")
	}
	if c.VisionModel == "" {
		return errors.New("VISION_MODEL cannot be empty")
	}
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be > 0")
	}
	if c.ReaperInterval <= 0 {
		return errors.New("REAPER_INTERVAL must be > 0")
	}
	if c.MaxImageBytes <= 0 {
		return errors.New("MAX_IMAGE_BYTES must be > 0")
	}
	if !c.ConversationLog.Enabled {
		return nil
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins lists the origins CORS should accept. Development allows any
// origin; otherwise FRONTEND_URL may hold a comma-separated list.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
