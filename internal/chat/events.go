// Package chat implements the real-time tutoring chat gateway: connection
// lifecycle, the per-connection session state machine, and chunked delivery
// of generated responses.
package chat

import (
	"encoding/json"
	"time"

	"github.com/mentorly/chat-gateway/internal/domain"
)

// Client-to-server events.
const (
	EventConnect        = "connect"
	EventChatMessage    = "chat_message"
	EventGetChatHistory = "get_chat_history"
	EventTyping         = "typing"
)

// Server-to-client events. EventChatMessage is reused for the echo of the
// persisted user message.
const (
	EventChatHistory    = "chat_history"
	EventAITyping       = "ai_typing"
	EventAIMessageChunk = "ai_message_chunk"
	EventError          = "error"
)

// Frame is the wire envelope for every message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectPayload is the authentication handshake. It must precede all other
// events unless the token was supplied at upgrade time.
type ConnectPayload struct {
	Token string `json:"token"`
}

// ChatMessagePayload triggers a generation round.
type ChatMessagePayload struct {
	Message string `json:"message"`
	GoalID  *int64 `json:"goalId,omitempty"`
}

// HistoryPayload requests a page of chat history.
type HistoryPayload struct {
	GoalID *int64 `json:"goalId,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// TypingPayload is the informational client typing indicator.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// EchoPayload acknowledges a persisted user message back to its sender.
type EchoPayload struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	GoalID    *int64    `json:"goalId,omitempty"`
}

// HistoryResult answers a get_chat_history request.
type HistoryResult struct {
	Messages []*domain.ChatMessage `json:"messages"`
	HasMore  bool                  `json:"hasMore"`
}

// ChunkPayload carries one fragment of a streamed assistant response.
type ChunkPayload struct {
	Content    string `json:"content"`
	IsComplete bool   `json:"isComplete"`
}

// ErrorPayload is a non-fatal error event unless the connection is also
// closed.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Emitter delivers outbound events to one client. The session state machine
// only depends on this seam, keeping the protocol testable without sockets.
type Emitter interface {
	Emit(event string, data interface{}) error
}
