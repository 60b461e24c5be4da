package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain adapts a langchaingo model to Provider. It backs the OpenAI and
// Gemini providers.
type LangChain struct {
	name  string
	model llms.Model
}

// NewLangChain wraps an already constructed langchaingo model under the
// given model id.
func NewLangChain(name string, model llms.Model) *LangChain {
	return &LangChain{name: name, model: model}
}

// NewOpenAI creates the GPT-4 Turbo provider. baseURL may be empty.
func NewOpenAI(apiKey, baseURL string) (*LangChain, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(upstreamModel(ModelGPT)),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return NewLangChain(ModelGPT, model), nil
}

// NewGemini creates the Gemini Pro provider.
func NewGemini(ctx context.Context, apiKey string) (*LangChain, error) {
	model, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(upstreamModel(ModelGemini)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return NewLangChain(ModelGemini, model), nil
}

func (l *LangChain) Name() string { return l.name }

func (l *LangChain) Complete(ctx context.Context, req Request) (string, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := l.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", l.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
