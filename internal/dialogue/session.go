package dialogue

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a session
type Status int

const (
	StatusActive Status = iota
	StatusCompleted
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = StatusActive
	case "completed":
		*s = StatusCompleted
	default:
		return fmt.Errorf("unknown session status %q", text)
	}
	return nil
}

// Role identifies the speaker of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a session history
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Session is a snapshot of one conversation
type Session struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	History   []Message `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// session is the tracked, mutable form
type session struct {
	id        string
	status    Status
	history   []Message
	createdAt time.Time
	updatedAt time.Time
	seq       uint64
}

func (s *session) snapshot() Session {
	return Session{
		ID:        s.id,
		Status:    s.status,
		History:   append([]Message(nil), s.history...),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

// BuildPrompt renders history plus the new user text as a role-tagged
// transcript, one line per turn
func BuildPrompt(history []Message, text string) string {
	var b strings.Builder
	for _, m := range history {
		writeLine(&b, m.Role, m.Text)
	}
	writeLine(&b, RoleUser, text)
	return b.String()
}

func writeLine(b *strings.Builder, role Role, text string) {
	switch role {
	case RoleUser:
		b.WriteString("User: ")
	default:
		b.WriteString("Assistant: ")
	}
	b.WriteString(text)
	b.WriteByte('\n')
}
