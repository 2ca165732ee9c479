// Package reply asks a chat model for the assistant's side of a journaling turn.
package reply

import (
	"context"
	"errors"
	"strings"

	"github.com/sjawhar/voice-journal/internal/llm"
	"github.com/sjawhar/voice-journal/internal/session"
)

const DefaultSystemPrompt = "You are a helpful AI assistant for journaling. Provide thoughtful, empathetic responses."

type Option func(*Responder)

func WithSystemPrompt(prompt string) Option {
	return func(r *Responder) {
		if strings.TrimSpace(prompt) != "" {
			r.systemPrompt = prompt
		}
	}
}

// WithHistory makes every request carry the committed conversation between
// the system instruction and the new user message.
func WithHistory(include bool) Option {
	return func(r *Responder) {
		r.includeHistory = include
	}
}

type Responder struct {
	client         llm.Client
	systemPrompt   string
	includeHistory bool
}

func New(client llm.Client, opts ...Option) *Responder {
	r := &Responder{client: client, systemPrompt: DefaultSystemPrompt}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Respond returns the first completion for text. Without history the request
// is exactly [system, user], so each turn is answered on its own.
func (r *Responder) Respond(ctx context.Context, text string, history []session.Entry) (string, error) {
	if r.client == nil {
		return "", errors.New("reply: no chat client configured")
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: r.systemPrompt})
	if r.includeHistory {
		for _, entry := range history {
			role := llm.RoleUser
			if entry.Role == session.RoleAssistant {
				role = llm.RoleAssistant
			}
			messages = append(messages, llm.Message{Role: role, Content: entry.Content})
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	return r.client.Complete(ctx, messages)
}
