package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

type openaiBackend struct {
	model string
	llm   *openai.LLM
}

func newOpenAI(model, apiKey string) (Backend, error) {
	client, err := openai.New(openai.WithModel(model), openai.WithToken(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return &openaiBackend{model: model, llm: client}, nil
}

func (b *openaiBackend) Name() string { return "openai/" + b.model }

func (b *openaiBackend) Invoke(ctx context.Context, system, user string) (string, error) {
	resp, err := b.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}, llms.WithTemperature(analysisTemperature))
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty response")
	}
	return resp.Choices[0].Content, nil
}
