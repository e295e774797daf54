package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/gemini-qa/internal/chat"
	"github.com/ashureev/gemini-qa/internal/dispatch"
	"github.com/ashureev/gemini-qa/internal/domain"
	"github.com/ashureev/gemini-qa/internal/identity"
	"github.com/ashureev/gemini-qa/internal/imaging"
)

const (
	maxAskBodyBytes     = 64 << 10
	multipartOverhead   = 1 << 20
	defaultHistoryLimit = 20
)

// ChatHandler serves the question and vision endpoints.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/session", h.GetSession)
		r.Delete("/session", h.DeleteSession)
		r.Get("/session/dispatches", h.GetDispatches)
		r.Post("/ask", h.Ask)
		r.Post("/vision", h.Vision)
	})
}

type askRequest struct {
	Question string `json:"question"`
}

type sessionResponse struct {
	SessionID string     `json:"session_id"`
	State     chat.State `json:"state"`
	Entries   any        `json:"entries"`
	HasImage  bool       `json:"has_image"`
	Engine    chat.State `json:"engine_state"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresIn int        `json:"expires_in"` // seconds until the reaper may close the session
}

// GetConfig returns the model names and upload limits.
func (h *ChatHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"text_model":      h.cfg.TextModel,
		"vision_model":    h.cfg.VisionModel,
		"max_image_bytes": h.cfg.MaxImageBytes,
		"image_types":     imaging.AcceptedExtensions,
		"engine_state":    h.engine.State(),
	})
}

// session opens the caller's session, writing an error response on failure.
func (h *ChatHandler) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	sessionID := identity.SessionIDFromContext(r.Context())
	s, err := h.engine.OpenSession(r.Context(), sessionID)
	if err != nil {
		Error(w, statusForError(err), err.Error())
		return nil, false
	}
	return s, true
}

// GetSession returns the session log. ?render=html adds rendered markdown.
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	rec := domain.SessionRecord{
		SessionID:  s.ID(),
		LastSeenAt: s.LastSeen(),
		CreatedAt:  s.CreatedAt(),
	}
	resp := sessionResponse{
		SessionID: s.ID(),
		State:     s.State(),
		Entries:   s.Entries(),
		HasImage:  s.CachedImage() != nil,
		Engine:    h.engine.State(),
		CreatedAt: rec.CreatedAt.UTC(),
		ExpiresIn: int(rec.TTL(h.cfg.SessionTTL).Seconds()),
	}
	if r.URL.Query().Get("render") == "html" {
		rendered, err := h.renderer.Entries(s.Entries())
		if err != nil {
			slog.Error("Failed to render session log", "session_id", s.ID(), "error", err)
			Error(w, http.StatusInternalServerError, "failed to render log")
			return
		}
		resp.Entries = rendered
	}
	JSON(w, http.StatusOK, resp)
}

// DeleteSession tears the caller's session down.
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	err := h.engine.CloseSession(r.Context(), sessionID)
	if err != nil && !errors.Is(err, chat.ErrSessionNotFound) {
		slog.Error("Failed to close session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to close session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "closed", "session_id": sessionID})
}

// GetDispatches returns the audit trail for the caller's session.
func (h *ChatHandler) GetDispatches(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotFound, "dispatch audit disabled")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	sessionID := identity.SessionIDFromContext(r.Context())
	records, err := h.repo.ListDispatches(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("Failed to list dispatches", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list dispatches")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID, "dispatches": records})
}

// Ask submits a TEXT question.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.submit(w, r, chat.Submission{Mode: dispatch.ModeText, Text: req.Question, Channel: "http"})
}

// Vision submits a question with an optional image upload. Without an upload
// the session's cached image is used.
func (h *ChatHandler) Vision(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.cfg.MaxImageBytes + multipartOverhead); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	sub := chat.Submission{Mode: dispatch.ModeVision, Text: r.FormValue("question"), Channel: "http"}
	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer func() { _ = file.Close() }()
		data, readErr := io.ReadAll(file)
		if readErr != nil {
			Error(w, http.StatusBadRequest, "failed to read image")
			return
		}
		sub.ImageName = header.Filename
		sub.ImageBytes = data
	case errors.Is(err, http.ErrMissingFile):
	default:
		Error(w, http.StatusBadRequest, "invalid image field")
		return
	}

	h.submit(w, r, sub)
}

func (h *ChatHandler) submit(w http.ResponseWriter, r *http.Request, sub chat.Submission) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := s.Submit(r.Context(), sub)
	if err != nil {
		Error(w, statusForError(err), err.Error())
		return
	}
	JSON(w, statusForOutcome(out), out)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
