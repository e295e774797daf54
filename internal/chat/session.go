package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/gemini-qa/internal/dispatch"
	"github.com/ashureev/gemini-qa/internal/domain"
	"github.com/ashureev/gemini-qa/internal/imaging"
	"github.com/ashureev/gemini-qa/internal/transcript"
)

const (
	// WarnEmptyQuestion is shown when a submission has no question text.
	WarnEmptyQuestion = "Please enter a question."
	// WarnMissingImage is shown for a vision submission without an image.
	WarnMissingImage = "Please upload an image."
)

var (
	// ErrBusy is returned when a submission is already in flight for the session.
	ErrBusy = errors.New("a request is already in progress for this session")
	// ErrSessionClosed is returned when submitting to a session that was closed.
	ErrSessionClosed = errors.New("session closed")
)

// Submission is one user action from any front-end.
type Submission struct {
	Mode       dispatch.Mode
	Text       string
	ImageName  string
	ImageBytes []byte
	// Channel names the front-end for transcripts, e.g. "http" or "console".
	Channel string
}

// Outcome is what a front-end needs to redraw after a submission.
type Outcome struct {
	SessionID string            `json:"session_id"`
	Mode      dispatch.Mode     `json:"mode"`
	Response  string            `json:"response,omitempty"`
	Warning   string            `json:"warning,omitempty"`
	Error     string            `json:"error,omitempty"`
	Entries   []domain.LogEntry `json:"entries"`

	// Err is the underlying failure behind Error.
	Err error `json:"-"`
}

// Session owns one conversation log and the last decoded image.
type Session struct {
	id        string
	engine    *Engine
	log       *Log
	createdAt time.Time

	submitMu sync.Mutex
	closed   atomic.Bool

	image    atomic.Pointer[imaging.Image]
	state    atomic.Int32
	lastSeen atomic.Int64
}

func newSession(id string, engine *Engine) *Session {
	now := time.Now()
	s := &Session{
		id:        id,
		engine:    engine,
		log:       NewLog(),
		createdAt: now,
	}
	s.state.Store(int32(StateReady))
	s.lastSeen.Store(now.UnixNano())
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State is READY or DISPATCHING.
func (s *Session) State() State { return State(s.state.Load()) }

// Entries returns the full log.
func (s *Session) Entries() []domain.LogEntry { return s.log.All() }

// LastSeen returns the time of the last submission or open.
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// CachedImage returns the image a vision submission without new bytes would reuse.
func (s *Session) CachedImage() *imaging.Image { return s.image.Load() }

// Closed reports whether the engine has closed the session. A closed session
// never reopens; callers holding one should ask the engine for a new one.
func (s *Session) Closed() bool { return s.closed.Load() }

func (s *Session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *Session) close() {
	s.submitMu.Lock()
	s.closed.Store(true)
	s.image.Store(nil)
	s.submitMu.Unlock()
}

// Submit validates and dispatches sub. Only one submission runs at a time; an
// overlapping call returns ErrBusy. User-correctable problems and dispatch
// failures are reported in the Outcome, never as the returned error.
func (s *Session) Submit(ctx context.Context, sub Submission) (*Outcome, error) {
	if !s.submitMu.TryLock() {
		return nil, ErrBusy
	}
	defer s.submitMu.Unlock()

	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if sub.Mode != dispatch.ModeText && sub.Mode != dispatch.ModeVision {
		return nil, fmt.Errorf("%w: %q", dispatch.ErrUnknownMode, sub.Mode)
	}
	d, err := s.engine.currentDispatcher()
	if err != nil {
		return nil, err
	}
	s.touch()

	out := &Outcome{SessionID: s.id, Mode: sub.Mode}
	if strings.TrimSpace(sub.Text) == "" {
		return s.warn(out, WarnEmptyQuestion), nil
	}

	var img *imaging.Image
	if sub.Mode == dispatch.ModeVision {
		switch {
		case len(sub.ImageBytes) > 0:
			img, err = s.decode(sub.ImageName, sub.ImageBytes)
			if err != nil {
				s.engine.logger.Warn("Image rejected", "session_id", s.id, "error", err)
				return s.fail(out, err), nil
			}
		case s.image.Load() != nil:
			img = s.image.Load()
		default:
			return s.warn(out, WarnMissingImage), nil
		}
	}

	s.record(sub, "inbound", "question", sub.Text, nil)

	s.state.Store(int32(StateDispatching))
	start := time.Now()
	resp, err := d.Dispatch(ctx, dispatch.Query{Text: sub.Text, Image: img}, sub.Mode)
	elapsed := time.Since(start)
	s.state.Store(int32(StateReady))

	s.audit(ctx, sub, resp, err, elapsed)

	if err != nil {
		s.record(sub, "outbound", "error", err.Error(), map[string]string{"outcome": string(dispatch.Outcome(err))})
		s.touchRecord(ctx)
		return s.fail(out, err), nil
	}

	if err := s.log.AppendPair(sub.Text, resp.Text); err != nil {
		return s.fail(out, err), nil
	}
	s.record(sub, "outbound", "answer", resp.Text, nil)
	s.touchRecord(ctx)

	out.Response = resp.Text
	out.Entries = s.log.All()
	return out, nil
}

// decode reuses the cached image when the bytes are identical.
func (s *Session) decode(name string, data []byte) (*imaging.Image, error) {
	if cached := s.image.Load(); cached != nil && cached.Digest == imaging.Digest(data) {
		return cached, nil
	}
	img, err := s.engine.cfg.Decoder.Decode(name, data)
	if err != nil {
		return nil, err
	}
	s.image.Store(img)
	return img, nil
}

func (s *Session) warn(out *Outcome, msg string) *Outcome {
	if s.engine.cfg.Observer != nil {
		s.engine.cfg.Observer.Warning(out.Mode)
	}
	out.Warning = msg
	out.Entries = s.log.All()
	return out
}

func (s *Session) fail(out *Outcome, err error) *Outcome {
	out.Err = err
	out.Error = userMessage(err)
	out.Entries = s.log.All()
	return out
}

func userMessage(err error) string {
	var dErr *dispatch.DispatchError
	switch {
	case errors.Is(err, dispatch.ErrEmptyChunk), errors.Is(err, imaging.ErrMalformedImage):
		return err.Error()
	case errors.As(err, &dErr):
		return "An error occurred: " + dErr.Error()
	default:
		return err.Error()
	}
}

func (s *Session) record(sub Submission, direction, eventType, content string, meta map[string]string) {
	if s.engine.cfg.Transcript == nil {
		return
	}
	channel := sub.Channel
	if channel == "" {
		channel = "unknown"
	}
	if meta == nil {
		meta = map[string]string{}
	}
	meta["mode"] = string(sub.Mode)
	s.engine.cfg.Transcript.Log(transcript.Event{
		SessionID:  s.id,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}

func (s *Session) audit(ctx context.Context, sub Submission, resp dispatch.Response, err error, elapsed time.Duration) {
	repo := s.engine.cfg.Store
	if repo == nil {
		return
	}
	rec := &domain.DispatchRecord{
		ID:            uuid.NewString(),
		SessionID:     s.id,
		Mode:          string(sub.Mode),
		Outcome:       dispatch.Outcome(err),
		PromptChars:   len(sub.Text),
		ResponseChars: len(resp.Text),
		Duration:      elapsed,
		CreatedAt:     time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if err := repo.RecordDispatch(ctx, rec); err != nil {
		s.engine.logger.Warn("Failed to record dispatch", "session_id", s.id, "error", err)
	}
}

func (s *Session) touchRecord(ctx context.Context) {
	repo := s.engine.cfg.Store
	if repo == nil {
		return
	}
	if err := repo.TouchSession(ctx, s.id, s.State().String(), s.log.Len(), s.LastSeen().UTC()); err != nil {
		s.engine.logger.Warn("Failed to touch session record", "session_id", s.id, "error", err)
	}
}
