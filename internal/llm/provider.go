// Package llm is the boundary to the chat-completion API.
//
// The rest of the application depends only on the Provider interface; the
// OpenAI adapter and the retry decorator are plugged in at the composition
// root. Every call is stateless: callers pass the full message list and get
// back a single reply.
package llm

import (
	"context"
	"errors"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat-completion request.
type Message struct {
	Role    Role
	Content string
}

// UserMessage returns a message authored by the end user.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// SystemMessage returns an instruction message for the model.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// ErrEmptyReply is returned when the API answers without any content.
var ErrEmptyReply = errors.New("llm: provider returned an empty reply")

// Provider completes a conversation with one assistant reply.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, messages []Message) (string, error)

// Complete calls f.
func (f ProviderFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}
