package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mentorly/chat-gateway/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	v := NewTokenVerifier("test-secret")
	want := &domain.Identity{UserID: 42, Email: "learner@example.com", Name: "Learner"}

	token, err := v.Issue(want, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	got, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if got.UserID != want.UserID || got.Email != want.Email || got.Name != want.Name {
		t.Errorf("identity mismatch: got %+v, want %+v", got, want)
	}
}

func TestTokenTamperedSignature(t *testing.T) {
	t.Parallel()

	v := NewTokenVerifier("test-secret")
	token, err := v.Issue(&domain.Identity{UserID: 1, Email: "a@b.c"}, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	// Flip a character in the signature half.
	dot := strings.IndexByte(token, '.')
	tampered := token[:dot+1] + flipChar(token[dot+1:])
	if _, err := v.Verify(context.Background(), tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for tampered signature, got %v", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	t.Parallel()

	issuer := NewTokenVerifier("secret-a")
	token, err := issuer.Issue(&domain.Identity{UserID: 1, Email: "a@b.c"}, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	verifier := NewTokenVerifier("secret-b")
	if _, err := verifier.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken across secrets, got %v", err)
	}
}

func TestTokenExpired(t *testing.T) {
	t.Parallel()

	v := NewTokenVerifier("test-secret")
	token, err := v.Issue(&domain.Identity{UserID: 1, Email: "a@b.c"}, -time.Minute)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestTokenMalformed(t *testing.T) {
	t.Parallel()

	v := NewTokenVerifier("test-secret")
	for _, token := range []string{"", "no-dot", "a.b", "!!!.???"} {
		if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken for %q, got %v", token, err)
		}
	}
}

func flipChar(s string) string {
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	t.Parallel()

	v := NewTokenVerifier("test-secret")
	token, err := v.Issue(&domain.Identity{UserID: 7, Email: "a@b.c"}, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	var seen *domain.Identity
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.UserID != 7 {
		t.Errorf("expected identity for user 7 in context, got %+v", seen)
	}
}

func TestMiddlewareRejectsMissingOrBadToken(t *testing.T) {
	t.Parallel()

	v := NewTokenVerifier("test-secret")
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a valid token")
	}))

	for _, header := range []string{"", "Bearer garbage", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/chat/history", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}
