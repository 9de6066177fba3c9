package domain

import (
	"time"
)

// Goal is a learning goal owned by a user. Goal CRUD lives outside the
// gateway; the core only reads titles to build generation context.
type Goal struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Milestone is a step within a goal. The active milestone of a goal is the
// earliest one not yet completed.
type Milestone struct {
	ID        int64     `json:"id"`
	GoalID    int64     `json:"goal_id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}
