package domain

import (
	"time"
)

// Message roles. Messages are append-only; a row never changes after insert.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single persisted chat message. The ordering key within a
// session is (SessionID, CreatedAt) ascending, with ID as a tiebreaker.
type ChatMessage struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	GoalID      *int64    `json:"goal_id,omitempty"`
	MilestoneID *int64    `json:"milestone_id,omitempty"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	ContextData string    `json:"context_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsFromUser returns true for learner-authored messages.
func (m *ChatMessage) IsFromUser() bool {
	return m.Role == RoleUser
}
