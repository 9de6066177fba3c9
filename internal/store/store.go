// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mentorly/chat-gateway/internal/domain"
)

// ErrSessionClosed is returned when attempting to close an already-closed
// session. Closing is terminal; a closed session is never reopened.
var ErrSessionClosed = errors.New("session already closed")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting chat history and sessions.
type Repository interface {
	// SaveMessage appends a message and bumps the owning session's message
	// count and last-activity timestamp in the same transaction. Returns the
	// message as persisted.
	SaveMessage(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error)

	// ListMessages returns messages for a user ordered ascending by creation
	// time, optionally filtered by goal. The second return value reports
	// whether more rows exist beyond offset+limit.
	ListMessages(ctx context.Context, userID int64, goalID *int64, limit, offset int) ([]*domain.ChatMessage, bool, error)

	// RecentMessages returns the last n messages of a session in ascending
	// order, for generation context.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]*domain.ChatMessage, error)

	// GetOrCreateActiveSession returns the open session for a (user, goal)
	// context, creating one lazily if none exists.
	GetOrCreateActiveSession(ctx context.Context, userID int64, goalID *int64) (*domain.ChatSession, error)

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, id string) (*domain.ChatSession, error)

	// CloseSession ends a session, setting the rollup fields exactly once.
	// Returns ErrSessionClosed if the session was already ended.
	CloseSession(ctx context.Context, id, summary string, keyPoints, actionItems []string) error

	// ListIdleSessions returns open sessions with no activity for at least ttl.
	ListIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error)

	// GetGoal retrieves a goal by ID. Returns nil if it does not exist.
	GetGoal(ctx context.Context, id int64) (*domain.Goal, error)

	// GetActiveMilestone returns the earliest incomplete milestone of a goal,
	// or nil if the goal has none.
	GetActiveMilestone(ctx context.Context, goalID int64) (*domain.Milestone, error)

	// UpsertGoal creates or updates a goal record. Goal CRUD proper lives in
	// the platform; this exists for the adapter glue and seeding.
	UpsertGoal(ctx context.Context, goal *domain.Goal) error

	// UpsertMilestone creates or updates a milestone record.
	UpsertMilestone(ctx context.Context, m *domain.Milestone) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
