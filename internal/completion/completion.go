// Package completion is the call boundary to a text-generation backend.
//
// A Gateway receives a persona, generation parameters and a conversation, and
// returns generated text or a typed *Error. Backends: OpenAI, AWS Bedrock and
// Gemini.
package completion

import (
	"context"
)

// Gateway generates text for a single request.
// Implementations must be safe for concurrent use.
type Gateway interface {
	// Complete runs one generation round. Callers bound latency through ctx.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the backend name (e.g. "openai").
	Name() string
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one generation round.
type Request struct {
	// System is the persona / system instruction.
	System string `json:"system,omitempty"`

	// Messages is the conversation, oldest first. Must not be empty.
	Messages []Message `json:"messages"`

	// Model overrides the gateway default when set.
	Model string `json:"model,omitempty"`

	// Temperature controls randomness; 0 is a valid value.
	Temperature float64 `json:"temperature"`

	// MaxTokens caps the generated length; 0 leaves the backend default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// FinishReason explains why generation stopped.
type FinishReason string

const (
	FinishStop     FinishReason = "stop"
	FinishLength   FinishReason = "length"
	FinishFiltered FinishReason = "content_filter"
	FinishOther    FinishReason = "other"
)

// Response is the outcome of one generation round.
type Response struct {
	Content      string       `json:"content"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// Truncated reports whether the backend stopped because it ran out of tokens.
func (r *Response) Truncated() bool {
	return r != nil && r.FinishReason == FinishLength
}

// Usage is token accounting for one round.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UserPrompt builds a single-turn request.
func UserPrompt(system, prompt string, temperature float64) Request {
	return Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: temperature,
	}
}
