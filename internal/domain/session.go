package domain

import (
	"time"
)

// ChatSession groups messages exchanged in one tutoring context. A session is
// created lazily on the first message for a (user, goal) pair and closing it
// is terminal: EndedAt and Summary are set exactly once, and continued chat
// for the same goal starts a fresh session.
type ChatSession struct {
	ID                string     `json:"id"`
	UserID            int64      `json:"user_id"`
	GoalID            *int64     `json:"goal_id,omitempty"`
	Title             string     `json:"title,omitempty"`
	Summary           string     `json:"summary,omitempty"`
	KeyLearningPoints []string   `json:"key_learning_points"`
	ActionItems       []string   `json:"action_items"`
	MessageCount      int        `json:"message_count"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	LastMessageAt     time.Time  `json:"last_message_at"`
}

// IsClosed reports whether the session has been ended.
func (s *ChatSession) IsClosed() bool {
	return s.EndedAt != nil
}

// IdleFor returns how long the session has gone without a message.
func (s *ChatSession) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastMessageAt)
}
