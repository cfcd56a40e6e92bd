package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// LLMPlanner asks the supervisor model whether the information gap is closed
// and, if not, which sub-questions to delegate next.
type LLMPlanner struct {
	Gateway *Gateway
}

func (p *LLMPlanner) Plan(ctx context.Context, run *Run, limit int) (Plan, error) {
	input := fmt.Sprintf(`User request: %s

Research brief:
%s

Iteration: %d of %d

Notes gathered so far:
%s

Current draft:
%s`, run.Query.Text, run.Brief(), run.IterationCount()+1, run.MaxIterations(), renderNotes(run.Notes()), run.Draft())

	var plan Plan
	_, err := p.Gateway.GenerateJSON(ctx, []llms.MessageContent{
		systemMessage(fmt.Sprintf(plannerSystemPrompt, today(), limit)),
		humanMessage(input),
	}, func(content string) error {
		// Reset for retry
		plan = Plan{}
		if err := json.Unmarshal([]byte(content), &plan); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		return nil
	})
	if err != nil {
		return Plan{}, fmt.Errorf("planning failed: %w", err)
	}
	return plan, nil
}
