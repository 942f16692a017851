package agent

import (
	"context"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider mints handles backed by OpenAI chat models.
type OpenAIProvider struct {
	client    openai.Client
	maxTokens int
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey string, maxTokens int) *OpenAIProvider {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAIProvider{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		maxTokens: maxTokens,
	}
}

// NewHandle mints a streaming handle bound to one OpenAI model.
func (p *OpenAIProvider) NewHandle(model, systemPrompt string) *Handle {
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

			messages := []openai.ChatCompletionMessageParamUnion{}
			if systemPrompt != "" {
				messages = append(messages, openai.SystemMessage(systemPrompt))
			}
			messages = append(messages, openai.UserMessage(text))

			params := openai.ChatCompletionNewParams{
				Model:               openai.ChatModel(model),
				Messages:            messages,
				MaxCompletionTokens: openai.Int(int64(p.maxTokens)),
			}

			stream := p.client.Chat.Completions.NewStreaming(runCtx, params)
			acc := openai.ChatCompletionAccumulator{}
			for stream.Next() {
				chunk := stream.Current()
				acc.AddChunk(chunk)
				if len(chunk.Choices) > 0 {
					if delta := chunk.Choices[0].Delta.Content; delta != "" {
						hub.Emit(StreamEvent{Type: EventTextDelta, Delta: delta})
					}
				}
			}
			if err := stream.Err(); err != nil {
				return "", err
			}

			if len(acc.Choices) == 0 {
				return "", nil
			}
			return acc.Choices[0].Message.Content, nil
		},
	}
}
