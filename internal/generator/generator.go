// Package generator wraps the external text-completion capability used to
// produce tutoring responses. The gateway treats it as a black box invoked
// once per user message; streaming to the client is simulated downstream.
package generator

import (
	"context"

	"github.com/mentorly/chat-gateway/internal/domain"
)

// Request carries one user message plus bounded conversational context.
type Request struct {
	Message        string
	History        []*domain.ChatMessage
	GoalTitle      string
	MilestoneTitle string
}

// Generator produces a single completed response text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
