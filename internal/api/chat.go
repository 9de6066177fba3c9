package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mentorly/chat-gateway/internal/auth"
	"github.com/mentorly/chat-gateway/internal/chat"
	"github.com/mentorly/chat-gateway/internal/domain"
	"github.com/mentorly/chat-gateway/internal/store"
)

// ChatHandler serves the REST companion endpoints to the WebSocket gateway:
// history for initial page load, explicit session close, and gateway stats.
type ChatHandler struct {
	repo  store.Repository
	stats *chat.Stats
}

// NewChatHandler creates a chat REST handler.
func NewChatHandler(repo store.Repository, stats *chat.Stats) *ChatHandler {
	return &ChatHandler{repo: repo, stats: stats}
}

// RegisterRoutes registers chat REST routes (requires authentication).
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/history", h.HandleHistory)
		r.Post("/sessions/{sessionID}/end", h.HandleEndSession)
		r.Get("/stats", h.HandleStats)
	})
}

// HandleHistory handles GET /api/chat/history requests. It is the same read
// path the gateway serves over the socket, exposed for initial page load.
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	var goalID *int64
	if raw := r.URL.Query().Get("goal_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid goal_id")
			return
		}
		goalID = &id
	}

	messages, hasMore, err := h.repo.ListMessages(r.Context(), identity.UserID, goalID, limit, offset)
	if err != nil {
		slog.Error("Failed to list chat history", "user_id", identity.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"hasMore":  hasMore,
	})
}

// endSessionRequest is the optional rollup supplied when closing a session.
type endSessionRequest struct {
	Summary           string   `json:"summary"`
	KeyLearningPoints []string `json:"key_learning_points"`
	ActionItems       []string `json:"action_items"`
}

// HandleEndSession handles POST /api/chat/sessions/{sessionID}/end. Closing
// is terminal; a second close returns 409.
func (h *ChatHandler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to load session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if session.UserID != identity.UserID {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	var req endSessionRequest
	if r.Body != nil {
		// An empty body closes with a default rollup.
		_ = decodeJSONBody(r, &req)
	}
	summary := req.Summary
	if summary == "" {
		summary = "Session ended by the learner."
	}

	err = h.repo.CloseSession(r.Context(), sessionID, summary, req.KeyLearningPoints, req.ActionItems)
	if err != nil {
		if errors.Is(err, store.ErrSessionClosed) {
			Error(w, http.StatusConflict, "session already closed")
			return
		}
		slog.Error("Failed to close session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to close session")
		return
	}

	closed, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		slog.Warn("Failed to reload closed session", "session_id", sessionID, "error", err)
		JSON(w, http.StatusOK, map[string]string{"status": "closed"})
		return
	}
	JSON(w, http.StatusOK, closed)
}

// HandleStats handles GET /api/chat/stats requests.
func (h *ChatHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if auth.IdentityFromContext(r.Context()) == nil {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, h.stats.Snapshot())
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
