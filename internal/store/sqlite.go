package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mentorly/chat-gateway/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session create/close to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		goal_id INTEGER,
		title TEXT,
		summary TEXT,
		key_points_json TEXT NOT NULL DEFAULT '[]',
		action_items_json TEXT NOT NULL DEFAULT '[]',
		message_count INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		last_message_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_active ON chat_sessions(user_id, goal_id) WHERE ended_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_sessions_idle ON chat_sessions(last_message_at) WHERE ended_at IS NULL;

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		goal_id INTEGER,
		milestone_id INTEGER,
		session_id TEXT NOT NULL REFERENCES chat_sessions(id),
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		context_data TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON chat_messages(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS goals (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS milestones (
		id INTEGER PRIMARY KEY,
		goal_id INTEGER NOT NULL REFERENCES goals(id),
		title TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_milestones_goal ON milestones(goal_id, completed);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SaveMessage appends a message and bumps the session counter atomically.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	saved := *msg
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
			slog.Warn("failed to rollback save message transaction", "error", rollbackErr)
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, user_id, goal_id, milestone_id, session_id, role, content, context_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		saved.ID, saved.UserID, nullInt64(saved.GoalID), nullInt64(saved.MilestoneID),
		saved.SessionID, saved.Role, saved.Content, nullString(saved.ContextData),
		saved.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE chat_sessions SET message_count = message_count + 1, last_message_at = ?
		WHERE id = ? AND ended_at IS NULL`,
		saved.CreatedAt.UnixMilli(), saved.SessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("bump session counter: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("session %s: %w", saved.SessionID, ErrSessionClosed)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save message: %w", err)
	}
	return &saved, nil
}

const messageColumns = `id, user_id, goal_id, milestone_id, session_id, role, content, context_data, created_at`

// ListMessages returns messages in ascending creation order plus a hasMore flag.
func (s *SQLiteStore) ListMessages(ctx context.Context, userID int64, goalID *int64, limit, offset int) ([]*domain.ChatMessage, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE user_id = ?`
	args := []interface{}{userID}
	if goalID != nil {
		query += ` AND goal_id = ?`
		args = append(args, *goalID)
	}
	// Fetch one extra row to compute hasMore without a second count query.
	query += ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit+1, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	return messages, hasMore, nil
}

// RecentMessages returns the last n messages of a session in ascending order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]*domain.ChatMessage, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `SELECT ` + messageColumns + ` FROM chat_messages
		WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer closeRows(rows, "recent messages")

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into ascending order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scanMessages(rows *sql.Rows) ([]*domain.ChatMessage, error) {
	var messages []*domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var goalID, milestoneID sql.NullInt64
		var contextData sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&msg.ID, &msg.UserID, &goalID, &milestoneID,
			&msg.SessionID, &msg.Role, &msg.Content, &contextData, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		if goalID.Valid {
			msg.GoalID = &goalID.Int64
		}
		if milestoneID.Valid {
			msg.MilestoneID = &milestoneID.Int64
		}
		msg.ContextData = contextData.String
		msg.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

const sessionColumns = `id, user_id, goal_id, title, summary, key_points_json, action_items_json, message_count, started_at, ended_at, last_message_at`

// GetOrCreateActiveSession returns the open session for a context, creating
// one lazily on first use.
func (s *SQLiteStore) GetOrCreateActiveSession(ctx context.Context, userID int64, goalID *int64) (*domain.ChatSession, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `SELECT ` + sessionColumns + ` FROM chat_sessions
		WHERE user_id = ? AND ended_at IS NULL`
	args := []interface{}{userID}
	if goalID != nil {
		query += ` AND goal_id = ?`
		args = append(args, *goalID)
	} else {
		query += ` AND goal_id IS NULL`
	}
	query += ` ORDER BY started_at DESC LIMIT 1`

	session, err := s.scanSessionRow(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	now := time.Now()
	created := &domain.ChatSession{
		ID:            uuid.NewString(),
		UserID:        userID,
		GoalID:        goalID,
		StartedAt:     now,
		LastMessageAt: now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, goal_id, message_count, started_at, last_message_at)
		VALUES (?, ?, ?, 0, ?, ?)`,
		created.ID, created.UserID, nullInt64(created.GoalID),
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE id = ?`
	session, err := s.scanSessionRow(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return session, nil
}

func (s *SQLiteStore) scanSessionRow(row *sql.Row) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var goalID sql.NullInt64
	var title, summary sql.NullString
	var keyPointsJSON, actionItemsJSON string
	var startedAt, lastMessageAt int64
	var endedAt sql.NullInt64

	err := row.Scan(
		&session.ID, &session.UserID, &goalID, &title, &summary,
		&keyPointsJSON, &actionItemsJSON, &session.MessageCount,
		&startedAt, &endedAt, &lastMessageAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if goalID.Valid {
		session.GoalID = &goalID.Int64
	}
	session.Title = title.String
	session.Summary = summary.String
	session.StartedAt = time.UnixMilli(startedAt)
	session.LastMessageAt = time.UnixMilli(lastMessageAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		session.EndedAt = &t
	}

	if err := json.Unmarshal([]byte(keyPointsJSON), &session.KeyLearningPoints); err != nil {
		return nil, fmt.Errorf("unmarshal key points: %w", err)
	}
	if err := json.Unmarshal([]byte(actionItemsJSON), &session.ActionItems); err != nil {
		return nil, fmt.Errorf("unmarshal action items: %w", err)
	}
	return &session, nil
}

// CloseSession ends a session exactly once. The conditional update enforces
// terminal close semantics without a read-modify-write race.
func (s *SQLiteStore) CloseSession(ctx context.Context, id, summary string, keyPoints, actionItems []string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if keyPoints == nil {
		keyPoints = []string{}
	}
	if actionItems == nil {
		actionItems = []string{}
	}
	keyPointsJSON, err := json.Marshal(keyPoints)
	if err != nil {
		return fmt.Errorf("marshal key points: %w", err)
	}
	actionItemsJSON, err := json.Marshal(actionItems)
	if err != nil {
		return fmt.Errorf("marshal action items: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET ended_at = ?, summary = ?, key_points_json = ?, action_items_json = ?
		WHERE id = ? AND ended_at IS NULL`,
		time.Now().UnixMilli(), summary, string(keyPointsJSON), string(actionItemsJSON), id,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		existing, err := s.scanSessionRow(s.db.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("session %s: %w", id, ErrSessionClosed)
	}
	return nil
}

// ListIdleSessions returns open sessions idle for at least ttl.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.ChatSession, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions
		WHERE ended_at IS NULL AND last_message_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer closeRows(rows, "idle sessions")

	var sessions []*domain.ChatSession
	for rows.Next() {
		var session domain.ChatSession
		var goalID sql.NullInt64
		var title, summary sql.NullString
		var keyPointsJSON, actionItemsJSON string
		var startedAt, lastMessageAt int64
		var endedAt sql.NullInt64

		if err := rows.Scan(
			&session.ID, &session.UserID, &goalID, &title, &summary,
			&keyPointsJSON, &actionItemsJSON, &session.MessageCount,
			&startedAt, &endedAt, &lastMessageAt,
		); err != nil {
			return nil, fmt.Errorf("scan idle session row: %w", err)
		}

		if goalID.Valid {
			session.GoalID = &goalID.Int64
		}
		session.Title = title.String
		session.Summary = summary.String
		session.StartedAt = time.UnixMilli(startedAt)
		session.LastMessageAt = time.UnixMilli(lastMessageAt)
		if endedAt.Valid {
			t := time.UnixMilli(endedAt.Int64)
			session.EndedAt = &t
		}
		if err := json.Unmarshal([]byte(keyPointsJSON), &session.KeyLearningPoints); err != nil {
			return nil, fmt.Errorf("unmarshal key points: %w", err)
		}
		if err := json.Unmarshal([]byte(actionItemsJSON), &session.ActionItems); err != nil {
			return nil, fmt.Errorf("unmarshal action items: %w", err)
		}
		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle sessions: %w", err)
	}
	return sessions, nil
}

// GetGoal retrieves a goal by ID. Returns nil if not found.
func (s *SQLiteStore) GetGoal(ctx context.Context, id int64) (*domain.Goal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM goals WHERE id = ?`, id)

	var goal domain.Goal
	var createdAt, updatedAt int64
	err := row.Scan(&goal.ID, &goal.UserID, &goal.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan goal row: %w", err)
	}
	goal.CreatedAt = time.UnixMilli(createdAt)
	goal.UpdatedAt = time.UnixMilli(updatedAt)
	return &goal, nil
}

// GetActiveMilestone returns the earliest incomplete milestone of a goal.
func (s *SQLiteStore) GetActiveMilestone(ctx context.Context, goalID int64) (*domain.Milestone, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, goal_id, title, completed, created_at FROM milestones
		WHERE goal_id = ? AND completed = 0
		ORDER BY created_at ASC, id ASC LIMIT 1`, goalID)

	var m domain.Milestone
	var createdAt int64
	err := row.Scan(&m.ID, &m.GoalID, &m.Title, &m.Completed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan milestone row: %w", err)
	}
	m.CreatedAt = time.UnixMilli(createdAt)
	return &m, nil
}

// UpsertGoal creates or updates a goal record.
func (s *SQLiteStore) UpsertGoal(ctx context.Context, goal *domain.Goal) error {
	now := time.Now()
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at`,
		goal.ID, goal.UserID, goal.Title, goal.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert goal: %w", err)
	}
	return nil
}

// UpsertMilestone creates or updates a milestone record.
func (s *SQLiteStore) UpsertMilestone(ctx context.Context, m *domain.Milestone) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milestones (id, goal_id, title, completed, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			completed = excluded.completed`,
		m.ID, m.GoalID, m.Title, m.Completed, m.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert milestone: %w", err)
	}
	return nil
}

// IsBusyError reports whether err looks like SQLITE_BUSY contention.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "what", what, "error", err)
	}
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
