// Package providers implements the model provider boundary: a uniform
// streaming completion interface backed by concrete Anthropic, OpenAI and
// Bedrock clients, plus the tiered router with fallback that sits in front
// of them.
package providers

import (
	"context"

	"github.com/coreagent/runtime/pkg/models"
)

// LLMProvider is implemented by each concrete model backend.
type LLMProvider interface {
	// Complete sends a prompt and returns a channel of streamed chunks.
	// The channel is closed after a chunk with Done=true or Error != nil.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier used for routing and logging.
	Name() string

	// Models returns the model catalog this provider exposes.
	Models() []Model

	// SupportsTools reports whether this provider can accept tool definitions.
	SupportsTools() bool
}

// CompletionRequest is a single LLM completion request.
type CompletionRequest struct {
	Model                string                  `json:"model"`
	System               string                  `json:"system,omitempty"`
	Messages             []CompletionMessage     `json:"messages"`
	Tools                []models.ToolDescriptor `json:"tools,omitempty"`
	MaxTokens            int                     `json:"max_tokens,omitempty"`
	EnableThinking       bool                    `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int                     `json:"thinking_budget_tokens,omitempty"`
}

// CompletionMessage is one turn of conversation passed to a provider.
type CompletionMessage struct {
	Role        string              `json:"role"` // "user" | "assistant" | "tool" | "system"
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// CompletionChunk is one piece of a streamed completion response. The final
// chunk on a stream carries Done=true and the accumulated usage counts.
type CompletionChunk struct {
	Text          string          `json:"text,omitempty"`
	ToolCall      *models.ToolCall `json:"tool_call,omitempty"`
	Thinking      string          `json:"thinking,omitempty"`
	ThinkingStart bool            `json:"thinking_start,omitempty"`
	ThinkingEnd   bool            `json:"thinking_end,omitempty"`
	Done          bool            `json:"done,omitempty"`
	Error         error           `json:"-"`
	InputTokens   int             `json:"input_tokens,omitempty"`
	OutputTokens  int             `json:"output_tokens,omitempty"`
}

// Model describes one model a provider exposes.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}
