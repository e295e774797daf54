package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/gemini-qa/internal/chat"
	"github.com/ashureev/gemini-qa/internal/dispatch"
	"github.com/ashureev/gemini-qa/internal/identity"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler runs chat submissions over a WebSocket. Each inbound message
// is handled to completion before the next one is read.
type WebSocketHandler struct {
	*Handler
	allowedOrigins []string
	isDev          bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(base *Handler, allowedOrigins []string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		Handler:        base,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// wsInbound is a client message. Image bytes travel base64-encoded.
type wsInbound struct {
	Type      string `json:"type"`
	Question  string `json:"question,omitempty"`
	ImageName string `json:"image_name,omitempty"`
	Image     []byte `json:"image,omitempty"`
}

// wsOutbound is a server message.
type wsOutbound struct {
	Type    string        `json:"type"`
	Status  int           `json:"status,omitempty"`
	Outcome *chat.Outcome `json:"outcome,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	s, err := h.engine.OpenSession(r.Context(), sessionID)
	if err != nil {
		Error(w, statusForError(err), err.Error())
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()
	ws.SetReadLimit(h.cfg.MaxImageBytes*2 + multipartOverhead)

	h.readLoop(r.Context(), ws, s)
	slog.Info("Chat socket ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, s *chat.Session) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", s.ID())
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", s.ID())
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(message, &msg); err != nil {
			h.send(ctx, ws, wsOutbound{Type: "error", Status: http.StatusBadRequest, Error: "invalid message"})
			continue
		}

		if s, err = h.current(ctx, s); err != nil {
			h.send(ctx, ws, wsOutbound{Type: "error", Status: statusForError(err), Error: err.Error()})
			continue
		}

		switch msg.Type {
		case "ping":
			h.send(ctx, ws, wsOutbound{Type: "pong"})
		case "ask":
			s = h.handleSubmit(ctx, ws, s, chat.Submission{Mode: dispatch.ModeText, Text: msg.Question, Channel: "websocket"})
		case "vision":
			s = h.handleSubmit(ctx, ws, s, chat.Submission{
				Mode:       dispatch.ModeVision,
				Text:       msg.Question,
				ImageName:  msg.ImageName,
				ImageBytes: msg.Image,
				Channel:    "websocket",
			})
		case "history":
			h.send(ctx, ws, wsOutbound{Type: "history", Status: http.StatusOK, Outcome: &chat.Outcome{
				SessionID: s.ID(),
				Entries:   s.Entries(),
			}})
		default:
			h.send(ctx, ws, wsOutbound{Type: "error", Status: http.StatusBadRequest, Error: "unknown message type: " + msg.Type})
		}
	}
}

// current returns s, or a fresh session under the same id once s has been
// closed by the reaper or a DELETE. HTTP clients get the same on their next request.
func (h *WebSocketHandler) current(ctx context.Context, s *chat.Session) (*chat.Session, error) {
	if !s.Closed() {
		return s, nil
	}
	slog.Info("Reopening closed session for socket", "session_id", s.ID())
	fresh, err := h.engine.OpenSession(ctx, s.ID())
	if err != nil {
		return s, err
	}
	return fresh, nil
}

// handleSubmit returns the session the submission ran on. A close that lands
// between current and Submit is retried once on a fresh session.
func (h *WebSocketHandler) handleSubmit(ctx context.Context, ws *websocket.Conn, s *chat.Session, sub chat.Submission) *chat.Session {
	out, err := s.Submit(ctx, sub)
	if errors.Is(err, chat.ErrSessionClosed) {
		var reopenErr error
		if s, reopenErr = h.current(ctx, s); reopenErr != nil {
			err = reopenErr
		} else {
			out, err = s.Submit(ctx, sub)
		}
	}
	if err != nil {
		h.send(ctx, ws, wsOutbound{Type: "error", Status: statusForError(err), Error: err.Error()})
		return s
	}
	h.send(ctx, ws, wsOutbound{Type: "outcome", Status: statusForOutcome(out), Outcome: out})
	return s
}

func (h *WebSocketHandler) send(ctx context.Context, ws *websocket.Conn, v wsOutbound) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode websocket message", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
	}
}
