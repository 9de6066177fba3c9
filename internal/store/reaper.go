package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mentorly/chat-gateway/internal/domain"
)

// StartReaper launches a background worker that closes chat sessions with no
// activity for at least ttl, writing a rollup summary. The worker stops when
// ctx is canceled.
func StartReaper(ctx context.Context, repo Repository, ttl, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Session reaper stopped")
				return
			case <-ticker.C:
				reapOnce(ctx, repo, ttl)
			}
		}
	}()
}

func reapOnce(ctx context.Context, repo Repository, ttl time.Duration) {
	sessions, err := repo.ListIdleSessions(ctx, ttl)
	if err != nil {
		slog.Error("Reaper failed to list idle sessions", "error", err)
		return
	}

	for _, session := range sessions {
		if err := closeIdleSession(ctx, repo, session); err != nil {
			slog.Error("Reaper failed to close session",
				"session_id", session.ID,
				"user_id", session.UserID,
				"error", err,
			)
			continue
		}
		slog.Info("Idle session closed",
			"session_id", session.ID,
			"user_id", session.UserID,
			"message_count", session.MessageCount,
			"idle_for", session.IdleFor(time.Now()).Round(time.Second),
		)
	}
}

// closeIdleSession closes one session with exponential backoff on
// SQLITE_BUSY contention.
func closeIdleSession(ctx context.Context, repo Repository, session *domain.ChatSession) error {
	summary := fmt.Sprintf("Session ended after %d messages due to inactivity.", session.MessageCount)

	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := repo.CloseSession(ctx, session.ID, summary, nil, nil)
		if err == nil {
			return nil
		}
		// Already closed by an explicit end request racing the reaper.
		if errors.Is(err, ErrSessionClosed) {
			return nil
		}

		if IsBusyError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("Reaper close hit SQLITE_BUSY, retrying",
				"session_id", session.ID,
				"attempt", i+1,
				"delay", delay,
			)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("close idle session %s after %d attempts: %w", session.ID, i+1, err)
	}
	return nil
}
