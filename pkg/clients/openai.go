package clients

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/openai"
)

func OpenAI(apiKey, model string) (*openai.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}

	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init openai model %s: %w", model, err)
	}
	return llm, nil
}
