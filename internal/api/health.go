package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/gemini-qa/internal/chat"
)

// HealthHandler reports database and engine readiness.
type HealthHandler struct {
	*Handler
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(base *Handler) *HealthHandler {
	return &HealthHandler{Handler: base}
}

// RegisterHealth registers the readiness route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Ready)
}

// Ready returns 200 when the engine is READY and the database answers.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"engine":   h.engine.State(),
		"sessions": len(h.engine.Sessions()),
	}

	if h.engine.State() != chat.StateReady {
		status = http.StatusServiceUnavailable
	}

	if h.repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.repo.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}

	JSON(w, status, body)
}
