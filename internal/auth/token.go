// Package auth provides bearer-token verification for gateway connections.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mentorly/chat-gateway/internal/domain"
)

// ErrInvalidToken is returned for malformed, tampered, or expired tokens.
var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a bearer token to a stable user identity. Verification
// happens once per connection, not per message.
type Verifier interface {
	Verify(ctx context.Context, token string) (*domain.Identity, error)
}

// tokenClaims is the signed token payload.
type tokenClaims struct {
	UserID    int64  `json:"uid"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

// TokenVerifier verifies HMAC-SHA256 signed opaque tokens issued by the
// platform's auth service.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier with the shared signing secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

var _ Verifier = (*TokenVerifier)(nil)

// Verify validates the token signature and expiry and returns the identity.
func (v *TokenVerifier) Verify(_ context.Context, token string) (*domain.Identity, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrInvalidToken
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if !hmac.Equal(sigBytes, v.sign(payloadBytes)) {
		return nil, ErrInvalidToken
	}

	var claims tokenClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	if claims.ExpiresAt <= time.Now().Unix() {
		return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
	}

	return &domain.Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Name:   claims.Name,
	}, nil
}

// Issue creates a signed token for an identity. Used by the platform's login
// flow and by tests.
func (v *TokenVerifier) Issue(identity *domain.Identity, ttl time.Duration) (string, error) {
	payloadBytes, err := json.Marshal(tokenClaims{
		UserID:    identity.UserID,
		Email:     identity.Email,
		Name:      identity.Name,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal token claims: %w", err)
	}

	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	sig := base64.RawURLEncoding.EncodeToString(v.sign(payloadBytes))
	return payload + "." + sig, nil
}

func (v *TokenVerifier) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
