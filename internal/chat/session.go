package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mentorly/chat-gateway/internal/domain"
	"github.com/mentorly/chat-gateway/internal/generator"
	"github.com/mentorly/chat-gateway/internal/store"
)

// State is the connection session state.
type State int32

const (
	// StateReady means the session is idle and accepts input.
	StateReady State = iota
	// StateGenerating means an AI call is in flight and streaming; a second
	// chat_message in this state is rejected with an error event.
	StateGenerating
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// SessionConfig bounds a session's generation behavior.
type SessionConfig struct {
	HistoryWindow    int           // messages of context passed to the generator
	GeneratorTimeout time.Duration // bound on one generator call
}

// Session is the per-connection state machine. It owns the authenticated
// identity, the active goal context, and the in-flight generation state. All
// handler methods are called from the connection's read loop; the generation
// round runs in its own goroutine and reports back through the emitter.
type Session struct {
	identity *domain.Identity
	repo     store.Repository
	gen      generator.Generator
	streamer *Streamer
	emitter  Emitter
	stats    *Stats
	cfg      SessionConfig

	mu           sync.Mutex
	state        State
	goalID       *int64
	clientTyping bool

	generating sync.WaitGroup
}

// NewSession creates a session in StateReady for an authenticated connection.
func NewSession(identity *domain.Identity, repo store.Repository, gen generator.Generator, streamer *Streamer, emitter Emitter, stats *Stats, cfg SessionConfig) *Session {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.GeneratorTimeout <= 0 {
		cfg.GeneratorTimeout = 60 * time.Second
	}
	return &Session{
		identity: identity,
		repo:     repo,
		gen:      gen,
		streamer: streamer,
		emitter:  emitter,
		stats:    stats,
		cfg:      cfg,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Wait blocks until no generation round is in flight.
func (s *Session) Wait() {
	s.generating.Wait()
}

// HandleEvent routes one inbound event. Unknown events are ignored for
// forward compatibility; malformed known events get an error event without
// closing the connection.
func (s *Session) HandleEvent(ctx context.Context, event string, data json.RawMessage) {
	switch event {
	case EventChatMessage:
		var p ChatMessagePayload
		if err := json.Unmarshal(data, &p); err != nil || p.Message == "" {
			s.emitError("invalid chat_message payload")
			return
		}
		s.handleChatMessage(ctx, p)
	case EventGetChatHistory:
		var p HistoryPayload
		if len(data) > 0 {
			if err := json.Unmarshal(data, &p); err != nil {
				s.emitError("invalid get_chat_history payload")
				return
			}
		}
		s.handleHistory(ctx, p)
	case EventTyping:
		var p TypingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			s.emitError("invalid typing payload")
			return
		}
		s.handleTyping(p)
	default:
		slog.Debug("Ignoring unknown chat event", "event", event, "user_id", s.identity.UserID)
	}
}

// handleChatMessage runs the READY → GENERATING transition: persist the user
// message, echo it, then dispatch generation.
func (s *Session) handleChatMessage(ctx context.Context, p ChatMessagePayload) {
	s.mu.Lock()
	if s.state == StateGenerating {
		s.mu.Unlock()
		s.emitError("a response is already being generated")
		return
	}
	s.state = StateGenerating
	if p.GoalID != nil {
		s.goalID = p.GoalID
	}
	goalID := s.goalID
	s.mu.Unlock()

	s.stats.countMessage()

	// Capture the context window before appending the new message so the
	// prompt does not contain it twice.
	var sessionID string
	var history []*domain.ChatMessage
	chatSession, err := s.repo.GetOrCreateActiveSession(ctx, s.identity.UserID, goalID)
	if err != nil {
		s.stats.CountPersistenceFailure()
		slog.Warn("Failed to resolve chat session, continuing without persistence",
			"user_id", s.identity.UserID, "error", err)
	} else {
		sessionID = chatSession.ID
		history, err = s.repo.RecentMessages(ctx, sessionID, s.cfg.HistoryWindow)
		if err != nil {
			slog.Warn("Failed to load history window", "user_id", s.identity.UserID, "error", err)
			history = nil
		}
	}

	msg := &domain.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    s.identity.UserID,
		GoalID:    goalID,
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   p.Message,
		CreatedAt: time.Now(),
	}
	if sessionID != "" {
		saved, err := s.repo.SaveMessage(ctx, msg)
		if err != nil {
			// Best-effort persistence: conversational continuity matters more
			// than the write landing, so delivery proceeds with local values.
			s.stats.CountPersistenceFailure()
			slog.Warn("Failed to persist user message",
				"user_id", s.identity.UserID, "session_id", sessionID, "error", err)
		} else {
			msg = saved
		}
	}

	if err := s.emitter.Emit(EventChatMessage, EchoPayload{
		ID:        msg.ID,
		Message:   msg.Content,
		Sender:    domain.RoleUser,
		Timestamp: msg.CreatedAt,
		GoalID:    goalID,
	}); err != nil {
		slog.Debug("Failed to emit message echo", "user_id", s.identity.UserID, "error", err)
	}

	s.generating.Add(1)
	go s.generate(sessionID, goalID, p.Message, history)
}

// generate runs one generation round off the read loop and returns the
// session to StateReady when done. It deliberately does not inherit the
// connection context: a disconnect mid-generation leaves the call running
// and its result is discarded when emission fails.
func (s *Session) generate(sessionID string, goalID *int64, message string, history []*domain.ChatMessage) {
	defer s.generating.Done()
	defer func() {
		s.mu.Lock()
		s.state = StateReady
		s.mu.Unlock()
	}()

	// The timeout budget covers producing the response: context lookups and
	// the generator call. Streaming is paced by the chunk delay and must not
	// race that budget, so it runs under a fresh context below.
	genCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GeneratorTimeout)
	defer cancel()

	req := generator.Request{
		Message: message,
		History: history,
	}
	if goalID != nil {
		if goal, err := s.repo.GetGoal(genCtx, *goalID); err != nil {
			slog.Warn("Failed to load goal context", "goal_id", *goalID, "error", err)
		} else if goal != nil {
			req.GoalTitle = goal.Title
		}
		if milestone, err := s.repo.GetActiveMilestone(genCtx, *goalID); err != nil {
			slog.Warn("Failed to load milestone context", "goal_id", *goalID, "error", err)
		} else if milestone != nil {
			req.MilestoneTitle = milestone.Title
		}
	}

	text, err := s.gen.Generate(genCtx, req)
	if err != nil {
		s.stats.CountGenerationFailure()
		slog.Error("Response generation failed",
			"user_id", s.identity.UserID, "session_id", sessionID, "error", err)
		s.emitError("failed to generate a response, please try again")
		// Stop any typing indicator so the client never shows a stuck one.
		if emitErr := s.emitter.Emit(EventAITyping, false); emitErr != nil {
			slog.Debug("Failed to emit typing stop after generation error", "error", emitErr)
		}
		return
	}

	if err := s.streamer.Stream(context.Background(), s.emitter, text); err != nil {
		// The connection is gone; the response is discarded, nothing is
		// persisted, and no partial assistant message is ever stored.
		slog.Debug("Chunk stream aborted",
			"user_id", s.identity.UserID, "session_id", sessionID, "error", err)
		return
	}

	if sessionID == "" {
		return
	}
	saveCtx, cancelSave := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSave()
	if _, err := s.repo.SaveMessage(saveCtx, &domain.ChatMessage{
		UserID:    s.identity.UserID,
		GoalID:    goalID,
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   text,
	}); err != nil {
		s.stats.CountPersistenceFailure()
		slog.Warn("Failed to persist assistant message",
			"user_id", s.identity.UserID, "session_id", sessionID, "error", err)
	}
}

// handleHistory serves a read-only history page. It does not change state.
func (s *Session) handleHistory(ctx context.Context, p HistoryPayload) {
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	messages, hasMore, err := s.repo.ListMessages(ctx, s.identity.UserID, p.GoalID, limit, offset)
	if err != nil {
		slog.Error("Failed to load chat history", "user_id", s.identity.UserID, "error", err)
		s.emitError("failed to load chat history")
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}

	if err := s.emitter.Emit(EventChatHistory, HistoryResult{
		Messages: messages,
		HasMore:  hasMore,
	}); err != nil {
		slog.Debug("Failed to emit chat history", "user_id", s.identity.UserID, "error", err)
	}
}

// handleTyping records the client typing indicator. It is accepted in any
// state and is a broadcast hook for future multi-party support; today it has
// no effect on the state machine.
func (s *Session) handleTyping(p TypingPayload) {
	s.mu.Lock()
	s.clientTyping = p.IsTyping
	s.mu.Unlock()
}

func (s *Session) emitError(message string) {
	if err := s.emitter.Emit(EventError, ErrorPayload{Message: message}); err != nil {
		slog.Debug("Failed to emit error event", "user_id", s.identity.UserID, "error", err)
	}
}
