// Package transcript writes conversation events as NDJSON files.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

const defaultQueueSize = 1000

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
)

// Config controls where events are written.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one line in a transcript file.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	SessionID  string            `json:"session_id"`
	Channel    string            `json:"channel"`
	Direction  string            `json:"direction"`
	EventType  string            `json:"event_type"`
	ContentRaw string            `json:"content_raw"`
	Content    string            `json:"content"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Logger writes events on a background goroutine. Events are dropped when the queue is full.
type Logger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan request

	files  map[string]*os.File
	global *os.File

	closeOnce sync.Once
	done      chan struct{}
}

// request is either an event to write or, when ack is set, a session whose file should be released.
type request struct {
	ev      Event
	release string
	ack     chan struct{}
}

// NewLogger creates the output directories and starts the writer.
// A disabled config returns a Logger whose Log is a no-op.
func NewLogger(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	l := &Logger{
		cfg:    cfg,
		logger: logger,
		files:  make(map[string]*os.File),
		done:   make(chan struct{}),
	}
	if !cfg.Enabled {
		close(l.done)
		return l, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o750); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open global transcript: %w", err)
		}
		l.global = f
	}

	l.queue = make(chan request, cfg.QueueSize)
	go l.run()
	return l, nil
}

// Log enqueues ev without blocking.
func (l *Logger) Log(ev Event) {
	if l == nil || l.queue == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Content == "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}
	defer func() {
		// Log after Close.
		if r := recover(); r != nil {
			l.logger.Debug("Transcript event after close dropped", "session_id", ev.SessionID)
		}
	}()
	select {
	case l.queue <- request{ev: ev}:
	default:
		l.logger.Warn("Transcript queue full, dropping event",
			"session_id", ev.SessionID,
			"event_type", ev.EventType)
	}
}

// CloseSession closes the file for sessionID once every event queued before it
// has been written. It waits for the writer, and a later event for the same
// session reopens the file in append mode.
func (l *Logger) CloseSession(sessionID string) {
	if l == nil || l.queue == nil {
		return
	}
	ack := make(chan struct{})
	if !l.enqueue(request{release: sessionID, ack: ack}) {
		return
	}
	select {
	case <-ack:
	case <-l.done:
	}
}

func (l *Logger) enqueue(req request) (sent bool) {
	defer func() {
		// Queue closed by Close.
		if r := recover(); r != nil {
			sent = false
		}
	}()
	l.queue <- req
	return true
}

// Close flushes queued events and closes all files.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.closeOnce.Do(func() {
		if l.queue != nil {
			close(l.queue)
		}
	})
	<-l.done
	return nil
}

func (l *Logger) run() {
	defer close(l.done)
	defer l.closeFiles()

	for req := range l.queue {
		if req.ack != nil {
			l.releaseFile(req.release)
			close(req.ack)
			continue
		}

		ev := req.ev
		line, err := json.Marshal(ev)
		if err != nil {
			l.logger.Warn("Transcript event marshal failed", "error", err)
			continue
		}
		line = append(line, '\n')

		if f, err := l.sessionFile(ev.SessionID); err != nil {
			l.logger.Warn("Transcript file open failed", "session_id", ev.SessionID, "error", err)
		} else if _, err := f.Write(line); err != nil {
			l.logger.Warn("Transcript write failed", "session_id", ev.SessionID, "error", err)
		}

		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("Global transcript write failed", "error", err)
			}
		}
	}
}

func (l *Logger) sessionFile(sessionID string) (*os.File, error) {
	name := sanitizeName(sessionID)
	if f, ok := l.files[name]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(l.cfg.Dir, name+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	l.files[name] = f
	return f, nil
}

func (l *Logger) releaseFile(sessionID string) {
	name := sanitizeName(sessionID)
	f, ok := l.files[name]
	if !ok {
		return
	}
	delete(l.files, name)
	if err := f.Close(); err != nil {
		l.logger.Warn("Transcript file close failed", "file", name, "error", err)
	}
}

func (l *Logger) closeFiles() {
	for name, f := range l.files {
		if err := f.Close(); err != nil {
			l.logger.Warn("Transcript file close failed", "file", name, "error", err)
		}
	}
	if l.global != nil {
		_ = l.global.Close()
	}
}

func sanitizeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return unsafeNameChars.ReplaceAllString(s, "_")
}

// cleanForReadability strips terminal escapes and carriage returns.
func cleanForReadability(raw string) string {
	clean := ansiPattern.ReplaceAllString(raw, "")
	clean = strings.ReplaceAll(clean, "\r\n", "\n")
	clean = strings.ReplaceAll(clean, "\r", "")
	return strings.TrimSpace(clean)
}
