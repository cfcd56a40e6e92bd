// Package clients constructs the chat-completion models used by each stage of
// a research run. Every model is a langchaingo llms.Model, so the research
// core never sees provider specifics.
package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/config"
)

const (
	ProviderGoogle    = "googleai"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// New returns a model for the given provider.
func New(ctx context.Context, cfg *config.Config, model string) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderGoogle, "":
		return GoogleAi(ctx, cfg.GoogleApiKey, model)
	case ProviderOpenAI:
		return OpenAI(cfg.OpenAIApiKey, model)
	case ProviderAnthropic:
		return AnthropicAI(cfg.AnthropicApiKey, model)
	default:
		return nil, fmt.Errorf("invalid model provider: %s", cfg.Provider)
	}
}

// StageModels builds one model per stage. Stages that resolve to the same
// model name share a client.
func StageModels(ctx context.Context, cfg *config.Config) (map[config.Stage]llms.Model, error) {
	stages := []config.Stage{
		config.StageSupervisor,
		config.StageResearcher,
		config.StageCompressor,
		config.StageWriter,
	}

	byName := make(map[string]llms.Model)
	out := make(map[config.Stage]llms.Model, len(stages))
	for _, stage := range stages {
		name := cfg.ModelFor(stage)
		if m, ok := byName[name]; ok {
			out[stage] = m
			continue
		}
		m, err := New(ctx, cfg, name)
		if err != nil {
			return nil, fmt.Errorf("%s model: %w", stage, err)
		}
		byName[name] = m
		out[stage] = m
	}
	return out, nil
}
