// Package llmclient wraps an LLM chat-completion provider behind a small
// capability interface, with bounded retries and safe structured-output
// extraction, per spec.md §4.1's plan/critique/debate stage contracts.
package llmclient

import (
	"context"
)

// ChatRequest is one chat-completion call.
type ChatRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the raw text returned by the provider.
type ChatResponse struct {
	Text       string
	StopReason string
}

// ChatCompleter is the capability interface pipeline stages consult. A nil
// ChatCompleter means the plan/critique/debate stages degrade to their
// empty-output fallback rather than failing the pipeline.
type ChatCompleter interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
