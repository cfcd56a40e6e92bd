package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// LLMBriefer writes the research brief and the coarse first draft.
type LLMBriefer struct {
	Gateway *Gateway
}

func (b *LLMBriefer) Brief(ctx context.Context, query string) (string, string, error) {
	type briefResponse struct {
		Brief string `json:"research_brief"`
		Draft string `json:"draft_report"`
	}
	var resp briefResponse

	_, err := b.Gateway.GenerateJSON(ctx, []llms.MessageContent{
		systemMessage(fmt.Sprintf(briefSystemPrompt, today())),
		humanMessage(query),
	}, func(content string) error {
		resp = briefResponse{}
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		if strings.TrimSpace(resp.Brief) == "" {
			return errors.New("empty research brief")
		}
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("research brief failed: %w", err)
	}
	return resp.Brief, resp.Draft, nil
}

// LLMRefiner folds fresh notes into the current draft.
type LLMRefiner struct {
	Gateway *Gateway
}

func (r *LLMRefiner) Refine(ctx context.Context, query string, notes []ResearchNote, draft string) (string, error) {
	input := fmt.Sprintf("User request: %s\n\nFindings:\n%s\n\nCurrent draft:\n%s", query, renderNotes(notes), draft)
	return r.Gateway.GenerateText(ctx, []llms.MessageContent{
		systemMessage(fmt.Sprintf(refinerSystemPrompt, today())),
		humanMessage(input),
	})
}

// LLMWriter produces the final report.
type LLMWriter struct {
	Gateway *Gateway
}

func (w *LLMWriter) Write(ctx context.Context, query, brief string, notes []ResearchNote, draft string) (string, error) {
	input := fmt.Sprintf(`User request: %s

Research brief:
%s

Findings:
%s

Draft report:
%s`, query, brief, renderNotes(notes), draft)

	return w.Gateway.GenerateText(ctx, []llms.MessageContent{
		systemMessage(fmt.Sprintf(writerSystemPrompt, today())),
		humanMessage(input),
	})
}
