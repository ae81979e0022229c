// Package orchestrator is an example a2a.Handler backed by the Anthropic
// Claude Messages API, demonstrating the worker-agent contract end-to-end.
// It is a *consumer* of internal/executor's Handler contract, not part of
// the core substrate's dependency graph — cmd/server wires it in when
// ANTHROPIC_API_KEY is set and falls back to its echo handler otherwise.
//
// Generalizes goadesign-goa-ai's features/model/anthropic.Client: the same
// narrow MessagesClient seam (satisfied by *sdk.MessageService or a test
// double) in place of a full model.Client adapter, since this handler needs
// only a single non-streaming completion per task, not goa-ai's planner
// abstraction (tool calls, thinking budgets, model classes).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// MessagesClient captures the subset of the Anthropic SDK client used by
// this handler. It is satisfied by *sdk.MessageService so callers can pass
// either a real client or a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the Anthropic-backed handler.
type Options struct {
	// Model is the Claude model identifier, e.g. string(sdk.ModelClaudeSonnet4_5).
	Model string
	// MaxTokens caps the completion length. Defaults to 1024 when unset.
	MaxTokens int64
	// Temperature is passed through when positive; left to the API default
	// otherwise.
	Temperature float64
	// SystemPrompt, if set, is sent as the request's system prompt.
	SystemPrompt string
}

// Handler implements the a2a.Handler contract over a single Anthropic
// completion per invocation.
type Handler struct {
	msg  MessagesClient
	opts Options
}

// New builds a Handler from an explicit Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Handler, error) {
	if msg == nil {
		return nil, errors.New("orchestrator: anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("orchestrator: model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &Handler{msg: msg, opts: opts}, nil
}

// NewFromAPIKey builds a Handler using the default Anthropic HTTP client
// configured with apiKey.
func NewFromAPIKey(apiKey string, opts Options) (*Handler, error) {
	if apiKey == "" {
		return nil, errors.New("orchestrator: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, opts)
}

// Handle satisfies a2a.Handler: it sends the incoming message's text to
// Claude, publishes a progress update before the call, and returns the
// model's reply as the task's completed text result.
func (h *Handler) Handle(ctx context.Context, hctx a2a.HandlerContext, message a2a.Message) (a2a.HandlerResult, error) {
	text, ok := message.FirstText()
	if !ok {
		return a2a.HandlerResult{}, errors.New("orchestrator: message has no text part")
	}

	hctx.PublishUpdate("Thinking...")

	params := sdk.MessageNewParams{
		Model:     sdk.Model(h.opts.Model),
		MaxTokens: h.opts.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(text))},
	}
	if h.opts.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: h.opts.SystemPrompt}}
	}
	if h.opts.Temperature > 0 {
		params.Temperature = sdk.Float(h.opts.Temperature)
	}

	resp, err := h.msg.New(ctx, params)
	if err != nil {
		return a2a.HandlerResult{}, fmt.Errorf("orchestrator: anthropic messages.new: %w", err)
	}

	var reply strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			reply.WriteString(block.Text)
		}
	}
	if reply.Len() == 0 {
		return a2a.HandlerResult{}, errors.New("orchestrator: model returned no text content")
	}

	return a2a.TextResult(reply.String()), nil
}
