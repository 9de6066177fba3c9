// Package domain contains core domain types for the chat gateway.
package domain

// Identity is the authenticated principal behind a connection.
// It is resolved once at connect time and is immutable for the
// lifetime of the connection.
type Identity struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}
