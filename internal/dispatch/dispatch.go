// Package dispatch runs one request/response cycle against the remote model.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/gemini-qa/internal/domain"
	"github.com/ashureev/gemini-qa/internal/imaging"
)

// Mode selects how a query is sent.
type Mode string

const (
	// ModeText streams a chat reply with empty prior history.
	ModeText Mode = "text"
	// ModeVision sends one text+image request.
	ModeVision Mode = "vision"
)

var (
	// ErrEmptyChunk is returned when a stream delivers a chunk without text.
	ErrEmptyChunk = errors.New("Received an empty response from the AI.")
	// ErrEmptyQuestion is returned before any remote call when the text is blank.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrMissingImage is returned for a vision query without an image.
	ErrMissingImage = errors.New("vision query has no image")
	// ErrUnknownMode is returned for a mode other than text or vision.
	ErrUnknownMode = errors.New("unknown dispatch mode")
)

// DispatchError wraps any failure raised by the remote service.
type DispatchError struct {
	Message string
	Err     error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Query is one user submission.
type Query struct {
	Text  string
	Image *imaging.Image
}

// Response is the text produced by a dispatch.
type Response struct {
	Text string
}

// Chunk is one streamed fragment after shape validation.
type Chunk struct {
	Text    string
	HasText bool
}

// Reply is the result of a single non-streamed request.
type Reply struct {
	Text string
}

// Model is the remote-service boundary.
type Model interface {
	StreamText(ctx context.Context, prompt string) iter.Seq2[Chunk, error]
	GenerateVision(ctx context.Context, prompt string, img *imaging.Image) (Reply, error)
}

// Recorder observes finished dispatches.
type Recorder interface {
	Observe(mode Mode, outcome domain.DispatchOutcome, d time.Duration)
}

// Dispatcher sends queries to a Model. It holds no per-session state.
type Dispatcher struct {
	model     Model
	recorders []Recorder
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder adds a Recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorders = append(d.recorders, r)
		}
	}
}

// WithLogger sets the logger used for dispatch lines.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Dispatcher.
func New(model Model, opts ...Option) *Dispatcher {
	d := &Dispatcher{model: model, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates q and sends it in the given mode. There are no retries.
func (d *Dispatcher) Dispatch(ctx context.Context, q Query, mode Mode) (resp Response, err error) {
	if strings.TrimSpace(q.Text) == "" {
		return Response{}, ErrEmptyQuestion
	}
	switch mode {
	case ModeText:
	case ModeVision:
		if q.Image == nil {
			return Response{}, ErrMissingImage
		}
	default:
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp = Response{}
			err = &DispatchError{Message: "model call panicked", Err: fmt.Errorf("%v", r)}
		}
		d.finish(mode, q, resp, err, time.Since(start))
	}()

	if mode == ModeVision {
		return d.vision(ctx, q)
	}
	return d.text(ctx, q)
}

func (d *Dispatcher) text(ctx context.Context, q Query) (Response, error) {
	var b strings.Builder
	for chunk, err := range d.model.StreamText(ctx, q.Text) {
		if err != nil {
			return Response{}, &DispatchError{Message: "stream failed", Err: err}
		}
		if !chunk.HasText {
			return Response{}, ErrEmptyChunk
		}
		b.WriteString(chunk.Text)
	}
	return Response{Text: b.String()}, nil
}

func (d *Dispatcher) vision(ctx context.Context, q Query) (Response, error) {
	reply, err := d.model.GenerateVision(ctx, q.Text, q.Image)
	if err != nil {
		return Response{}, &DispatchError{Message: "vision request failed", Err: err}
	}
	return Response{Text: reply.Text}, nil
}

func (d *Dispatcher) finish(mode Mode, q Query, resp Response, err error, elapsed time.Duration) {
	outcome := Outcome(err)
	attrs := []any{
		"mode", mode,
		"outcome", outcome,
		"prompt_chars", len(q.Text),
		"response_chars", len(resp.Text),
		"duration_ms", elapsed.Milliseconds(),
	}
	if err != nil {
		d.logger.Warn("Dispatch failed", append(attrs, "error", err)...)
	} else {
		d.logger.Info("Dispatch completed", attrs...)
	}
	for _, r := range d.recorders {
		r.Observe(mode, outcome, elapsed)
	}
}

// Outcome classifies a dispatch error for audit and metrics.
func Outcome(err error) domain.DispatchOutcome {
	switch {
	case err == nil:
		return domain.OutcomeOK
	case errors.Is(err, ErrEmptyChunk):
		return domain.OutcomeEmptyChunk
	default:
		return domain.OutcomeError
	}
}
