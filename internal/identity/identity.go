// Package identity assigns each browser or client a chat session id.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SessionCookieName = "gemqa_session"
	SessionHeaderName = "X-Session-ID"
	sessionCookieAge  = 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

// SessionIDFromContext extracts the session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a context carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func isValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func sessionIDFromRequest(r *http.Request) string {
	if sid := strings.TrimSpace(r.Header.Get(SessionHeaderName)); isValidSessionID(sid) {
		return sid
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && isValidSessionID(c.Value) {
		return c.Value
	}
	return ""
}

func setSessionCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware resolves the session id from the header or cookie, minting a new
// one when neither carries a valid uuid. The id is echoed in the response header.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := sessionIDFromRequest(r)
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			setSessionCookie(w, sessionID, isDev)
			w.Header().Set(SessionHeaderName, sessionID)

			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
