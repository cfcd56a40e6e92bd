package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Gateway wraps a chat model with the per-stage output ceiling, a per-call
// timeout and retries.
type Gateway struct {
	Model      llms.Model
	Name       string
	MaxTokens  int
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Logger     *slog.Logger
}

var errNoChoices = errors.New("llm returned no choices")

// Generate performs a single model call. The returned choice carries either
// final text or tool call requests.
func (g *Gateway) Generate(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentChoice, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	if g.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(g.MaxTokens))
	}

	resp, err := g.Model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errNoChoices
	}
	return resp.Choices[0], nil
}

// GenerateText returns the text answer, retrying failed or empty responses.
func (g *Gateway) GenerateText(ctx context.Context, messages []llms.MessageContent) (string, error) {
	return g.generateWithRetry(ctx, messages, nil, func(content string) error {
		if strings.TrimSpace(content) == "" {
			return errors.New("empty response")
		}
		return nil
	})
}

// GenerateJSON requests JSON output and retries until validator accepts it.
// The validator receives the response with any markdown fences removed.
func (g *Gateway) GenerateJSON(ctx context.Context, messages []llms.MessageContent, validator func(string) error) (string, error) {
	content, err := g.generateWithRetry(ctx, messages, []llms.CallOption{llms.WithJSONMode()}, func(content string) error {
		return validator(extractJSON(content))
	})
	if err != nil {
		return "", err
	}
	return extractJSON(content), nil
}

func (g *Gateway) generateWithRetry(ctx context.Context, messages []llms.MessageContent, opts []llms.CallOption, validator func(string) error) (string, error) {
	maxRetries := g.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			g.logger().Warn("Retrying LLM generation", "model", g.Name, "attempt", i+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.Backoff * time.Duration(i)): // Linear backoff
			}
		}

		choice, err := g.Generate(ctx, messages, opts...)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if err := validator(choice.Content); err != nil {
			lastErr = fmt.Errorf("validation failed: %w", err)
			continue
		}
		return choice.Content, nil
	}

	return "", fmt.Errorf("operation failed after %d attempts: %w", maxRetries, lastErr)
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// extractJSON strips markdown code fences and surrounding prose from a model
// response that should contain a single JSON object.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}

func systemMessage(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeSystem, text)
}

func humanMessage(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeHuman, text)
}
