package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mentorly/chat-gateway/internal/auth"
	"github.com/mentorly/chat-gateway/internal/chat"
	"github.com/mentorly/chat-gateway/internal/domain"
	"github.com/mentorly/chat-gateway/internal/store"
)

type testEnv struct {
	repo     store.Repository
	verifier *auth.TokenVerifier
	router   chi.Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	verifier := auth.NewTokenVerifier("test-secret")
	stats := &chat.Stats{}

	r := chi.NewRouter()
	NewHealthHandler(repo).RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))
		NewChatHandler(repo, stats).RegisterRoutes(r)
	})

	return &testEnv{repo: repo, verifier: verifier, router: r}
}

func (env *testEnv) token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := env.verifier.Issue(&domain.Identity{
		UserID: userID,
		Email:  fmt.Sprintf("user%d@example.com", userID),
	}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (env *testEnv) request(t *testing.T, method, target, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func seedSession(t *testing.T, repo store.Repository, userID int64, messages int) *domain.ChatSession {
	t.Helper()
	session, err := repo.GetOrCreateActiveSession(context.Background(), userID, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < messages; i++ {
		if _, err := repo.SaveMessage(context.Background(), &domain.ChatMessage{
			UserID:    userID,
			SessionID: session.ID,
			Role:      domain.RoleUser,
			Content:   fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}
	return session
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestHistoryRequiresAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/chat/history", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestHistoryReturnsOwnMessagesOnly(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	seedSession(t, env.repo, 1, 5)
	seedSession(t, env.repo, 2, 3)

	rec := env.request(t, http.MethodGet, "/api/chat/history?limit=3", env.token(t, 1), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Messages []*domain.ChatMessage `json:"messages"`
		HasMore  bool                  `json:"hasMore"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode history body: %v", err)
	}
	if len(body.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(body.Messages))
	}
	if !body.HasMore {
		t.Error("expected hasMore with 5 messages and limit 3")
	}
	for _, msg := range body.Messages {
		if msg.UserID != 1 {
			t.Errorf("history leaked a message belonging to user %d", msg.UserID)
		}
	}
}

func TestHistoryEmptyIsAnEmptyList(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/chat/history", env.token(t, 1), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Messages []*domain.ChatMessage `json:"messages"`
		HasMore  bool                  `json:"hasMore"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode history body: %v", err)
	}
	if body.Messages == nil || len(body.Messages) != 0 || body.HasMore {
		t.Errorf("expected an empty list, got %+v", body)
	}
}

func TestHistoryRejectsBadGoalID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/chat/history?goal_id=abc", env.token(t, 1), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad goal_id, got %d", rec.Code)
	}
}

func TestEndSessionLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	session := seedSession(t, env.repo, 1, 2)

	payload, _ := json.Marshal(map[string]interface{}{
		"summary":             "covered recursion",
		"key_learning_points": []string{"base case first"},
		"action_items":        []string{"solve two more problems"},
	})

	rec := env.request(t, http.MethodPost,
		"/api/chat/sessions/"+session.ID+"/end", env.token(t, 1), payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var closed domain.ChatSession
	if err := json.NewDecoder(rec.Body).Decode(&closed); err != nil {
		t.Fatalf("decode closed session: %v", err)
	}
	if closed.EndedAt == nil || closed.Summary != "covered recursion" {
		t.Errorf("unexpected closed session: %+v", closed)
	}
	if len(closed.KeyLearningPoints) != 1 || len(closed.ActionItems) != 1 {
		t.Errorf("rollup not persisted: %+v", closed)
	}

	// Closing is terminal.
	rec = env.request(t, http.MethodPost,
		"/api/chat/sessions/"+session.ID+"/end", env.token(t, 1), nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on second close, got %d", rec.Code)
	}
}

func TestEndSessionHidesOtherUsers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	session := seedSession(t, env.repo, 1, 1)

	// Another user's session reads as not found, not forbidden.
	rec := env.request(t, http.MethodPost,
		"/api/chat/sessions/"+session.ID+"/end", env.token(t, 2), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another user's session, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodPost,
		"/api/chat/sessions/missing/end", env.token(t, 1), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown session, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/chat/stats", env.token(t, 1), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snapshot chat.StatsSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if snapshot.ActiveConnections != 0 || snapshot.MessagesReceived != 0 {
		t.Errorf("expected zeroed counters, got %+v", snapshot)
	}

	rec = env.request(t, http.MethodGet, "/api/chat/stats", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}
}
