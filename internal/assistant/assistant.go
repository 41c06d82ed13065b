// Package assistant talks to the upstream chat model that proposes task
// changes as JSON directives embedded in its replies.
package assistant

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is a text-in/text-out chat completion.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}
