package agent

import (
	"context"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider mints handles backed by Anthropic Claude models.
type AnthropicProvider struct {
	client    anthropic.Client
	maxTokens int
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey string, maxTokens int) *AnthropicProvider {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxTokens: maxTokens,
	}
}

// NewHandle mints a streaming handle bound to one Claude model. Abort and
// Subscribe are supported; mid-run steering is not, so Steer and FollowUp
// stay absent.
func (p *AnthropicProvider) NewHandle(model, systemPrompt string) *Handle {
	hub := NewSubscriberHub()

	var abortMu sync.Mutex
	var abortFn context.CancelFunc

	return &Handle{
		Subscribe: hub.Subscribe,
		Abort: func() {
			abortMu.Lock()
			if abortFn != nil {
				abortFn()
			}
			abortMu.Unlock()
		},
		Prompt: func(ctx context.Context, text string) (string, error) {
			runCtx, cancel := context.WithCancel(ctx)
			abortMu.Lock()
			abortFn = cancel
			abortMu.Unlock()
			defer cancel()

			params := anthropic.MessageNewParams{
				Model:     anthropic.Model(model),
				MaxTokens: int64(p.maxTokens),
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
				},
			}
			if systemPrompt != "" {
				params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
			}

			stream := p.client.Messages.NewStreaming(runCtx, params)
			message := anthropic.Message{}
			for stream.Next() {
				event := stream.Current()
				if err := message.Accumulate(event); err != nil {
					return "", err
				}

				switch eventVariant := event.AsAny().(type) {
				case anthropic.ContentBlockStartEvent:
					if block, ok := eventVariant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
						hub.Emit(StreamEvent{
							Type:       EventToolStart,
							ToolName:   block.Name,
							ToolCallID: block.ID,
						})
					}
				case anthropic.ContentBlockDeltaEvent:
					if delta, ok := eventVariant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
						hub.Emit(StreamEvent{Type: EventTextDelta, Delta: delta.Text})
					}
				case anthropic.ContentBlockStopEvent:
					// Tool completion surfaces here; text blocks need no event.
				}
			}
			if err := stream.Err(); err != nil {
				return "", err
			}

			out := ""
			for _, block := range message.Content {
				if text, ok := block.AsAny().(anthropic.TextBlock); ok {
					out += text.Text
				}
			}
			return out, nil
		},
	}
}
