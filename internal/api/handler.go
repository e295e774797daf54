// Package api provides HTTP handlers for the Q&A API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ashureev/gemini-qa/internal/chat"
	"github.com/ashureev/gemini-qa/internal/config"
	"github.com/ashureev/gemini-qa/internal/dispatch"
	"github.com/ashureev/gemini-qa/internal/imaging"
	"github.com/ashureev/gemini-qa/internal/render"
	"github.com/ashureev/gemini-qa/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	engine   *chat.Engine
	repo     store.Repository
	renderer *render.Renderer
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies. repo may be nil.
func NewHandler(engine *chat.Engine, repo store.Repository, renderer *render.Renderer, cfg *config.Config) *Handler {
	if renderer == nil {
		renderer = render.New()
	}
	return &Handler{
		engine:   engine,
		repo:     repo,
		renderer: renderer,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusForError maps a Submit or OpenSession error to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, chat.ErrHalted), errors.Is(err, chat.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// statusForOutcome maps a completed submission to an HTTP status.
func statusForOutcome(out *chat.Outcome) int {
	switch {
	case out.Warning != "":
		return http.StatusBadRequest
	case out.Err == nil:
		return http.StatusOK
	case errors.Is(out.Err, imaging.ErrMalformedImage):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
