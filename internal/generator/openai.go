package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mentorly/chat-gateway/internal/domain"
	"github.com/sashabaranov/go-openai"
)

const basePersona = "You are a supportive AI tutor. Be concise, encourage the learner, " +
	"and relate answers to their stated goal when one is set."

// OpenAIGenerator implements Generator using the OpenAI chat completion API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a new OpenAI-backed generator.
func NewOpenAI(apiKey, model string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	slog.Info("Initializing OpenAI generator", "model", model)
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

var _ Generator = (*OpenAIGenerator)(nil)

// Generate produces one completed response for the request.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: buildMessages(req),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	slog.Debug("Generator response received",
		"model", g.model,
		"finish_reason", resp.Choices[0].FinishReason,
	)
	return resp.Choices[0].Message.Content, nil
}

// buildMessages assembles the system persona, the bounded history window, and
// the current user message in conversation order.
func buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req)},
	}

	for _, msg := range req.History {
		role := openai.ChatMessageRoleUser
		if msg.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})
}

func systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(basePersona)
	if req.GoalTitle != "" {
		fmt.Fprintf(&b, "\nThe learner is working toward the goal: %q.", req.GoalTitle)
	}
	if req.MilestoneTitle != "" {
		fmt.Fprintf(&b, "\nTheir current milestone is: %q.", req.MilestoneTitle)
	}
	return b.String()
}
