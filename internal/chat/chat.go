// Package chat defines the core conversation types shared across the
// storage, API, and orchestration layers.
package chat

import "time"

// Role identifies the author of a message. The set is closed: anything
// outside user/assistant/system is rejected before persistence.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DefaultTitle is used when a session is created without an explicit title.
const DefaultTitle = "Untitled"

// Session is an ordered, append-only conversation owned by exactly one user.
// The owner never changes after creation.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single immutable turn. Seq is the position within the owning
// session, assigned at append time and never reused.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
