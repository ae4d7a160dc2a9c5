package llmclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/veritas-os/veritas/internal/errs"
)

// AnthropicClient is the concrete ChatCompleter backed by the Anthropic
// Messages API. It is the only component in the repository aware of a
// specific LLM vendor; the pipeline only ever sees the ChatCompleter
// interface.
type AnthropicClient struct {
	client     anthropic.Client
	model      anthropic.Model
	timeout    time.Duration
	maxRetries int
}

// NewAnthropicClient builds a client. model is the Anthropic model ID
// (e.g. "claude-sonnet-4-5"); timeout bounds each individual call;
// maxRetries bounds the retry loop for transient failures.
func NewAnthropicClient(apiKey, model string, timeout time.Duration, maxRetries int) *AnthropicClient {
	return &AnthropicClient{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:      anthropic.Model(model),
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// Chat issues a single chat-completion call, retrying transient failures
// with exponential backoff and jitter, per spec.md §5's "bounded retries
// with exponential backoff + jitter" requirement. The per-call timeout is
// applied to each attempt independently.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return ChatResponse{}, errs.New(errs.KindDeadlineExceeded, "llmclient: deadline expired during retry backoff", err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.call(callCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ChatResponse{}, errs.New(errs.KindDeadlineExceeded, "llmclient: request deadline expired", ctx.Err())
		}
		if !isRetryable(err) {
			return ChatResponse{}, errs.New(errs.KindCapabilityUnavailable, "llmclient: chat completion failed", err)
		}
	}
	return ChatResponse{}, errs.New(errs.KindTransientIO, "llmclient: retries exhausted", lastErr)
}

func (c *AnthropicClient) call(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("llmclient: anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return ChatResponse{Text: text, StopReason: string(msg.StopReason)}, nil
}

func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 529:
			return true
		}
		return false
	}
	// Network-level errors (no structured API error) are treated as
	// transient; the retry budget still bounds the total attempts.
	return true
}

func sleepBackoff(ctx context.Context, attempt int) error {
	base := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
