package domain

// Role identifies who produced a log entry.
type Role string

const (
	// RoleUser marks the question submitted by the user.
	RoleUser Role = "You"
	// RoleBot marks the model's answer.
	RoleBot Role = "Bot"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleBot
}

// LogEntry is one line of the session log.
type LogEntry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}
