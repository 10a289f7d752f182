// Package llm provides the HTTP client for the text-generation model.
package llm

import "context"

// Message is a chat message in the model's wire format.
type Message struct {
	Role    string   `json:"role"` // system, user, assistant
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Client is the interface the orchestrator and scheduler use to reach
// the model. The concrete implementation is [OllamaClient]; tests
// substitute doubles.
type Client interface {
	// Chat sends the message sequence and returns the assistant's raw
	// text content. The content is returned verbatim: deciding whether
	// it is an answer or a tool call is the interpreter's job, not the
	// transport's.
	Chat(ctx context.Context, messages []Message) (string, error)
}
