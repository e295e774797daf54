package domain

import "time"

// DispatchOutcome classifies how a dispatch ended.
type DispatchOutcome string

const (
	OutcomeOK         DispatchOutcome = "ok"
	OutcomeEmptyChunk DispatchOutcome = "empty_chunk"
	OutcomeError      DispatchOutcome = "error"
)

// DispatchRecord is the audit row for one request/response cycle.
type DispatchRecord struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	Mode          string          `json:"mode"`
	Outcome       DispatchOutcome `json:"outcome"`
	Error         string          `json:"error,omitempty"`
	PromptChars   int             `json:"prompt_chars"`
	ResponseChars int             `json:"response_chars"`
	Duration      time.Duration   `json:"duration"`
	CreatedAt     time.Time       `json:"created_at"`
}
