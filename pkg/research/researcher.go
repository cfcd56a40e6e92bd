package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

const webSearchTool = "web_search"

var (
	errNoSearchSucceeded = errors.New("no search succeeded")
	errEmptyFindings     = errors.New("researcher returned empty findings")
)

var webSearchDefinition = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        webSearchTool,
		Description: "Search the web for a query. Returns ranked results with titles, URLs and snippets.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "A focused search query",
				},
			},
			"required": []string{"query"},
		},
	},
}

// LLMResearcher investigates one sub-question with a bounded tool-calling
// loop over the search backend.
type LLMResearcher struct {
	Gateway       *Gateway
	Searcher      tools.Searcher
	SearchResults int
	MaxSteps      int
	SearchTimeout time.Duration
	Logger        *slog.Logger
}

type searchArgs struct {
	Query string `json:"query"`
}

// Research fails when no search call succeeded, so a note never carries
// findings that were not grounded in at least one search.
func (r *LLMResearcher) Research(ctx context.Context, subQuestion string) (ResearchNote, error) {
	logger := r.logger().With("sub_question", subQuestion)
	note := ResearchNote{SubQuestion: subQuestion}

	messages := []llms.MessageContent{
		systemMessage(fmt.Sprintf(researcherSystemPrompt, today())),
		humanMessage(subQuestion),
	}

	succeeded := 0
	var findings string
	for step := 0; step < r.maxSteps(); step++ {
		choice, err := r.Gateway.Generate(ctx, messages, llms.WithTools([]llms.Tool{webSearchDefinition}))
		if err != nil {
			return note, err
		}
		if len(choice.ToolCalls) == 0 {
			findings = choice.Content
			break
		}

		messages = append(messages, assistantToolCalls(choice))
		for _, call := range choice.ToolCalls {
			content, query, ok := r.handleToolCall(ctx, call, logger)
			if query != "" {
				note.Queries = append(note.Queries, query)
			}
			if ok {
				succeeded++
			}
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: call.ID,
					Name:       toolName(call),
					Content:    content,
				}},
			})
		}
	}

	if succeeded == 0 {
		return note, fmt.Errorf("%w after %d queries", errNoSearchSucceeded, len(note.Queries))
	}

	if strings.TrimSpace(findings) == "" {
		// Step budget spent while still searching; ask for an answer without tools.
		messages = append(messages, humanMessage(researcherWrapUpPrompt))
		text, err := r.Gateway.GenerateText(ctx, messages)
		if err != nil {
			return note, fmt.Errorf("researcher wrap-up failed: %w", err)
		}
		findings = text
	}

	note.Findings = strings.TrimSpace(findings)
	if note.Findings == "" {
		return note, errEmptyFindings
	}
	logger.Debug("Research note ready", "queries", len(note.Queries), "searches_ok", succeeded)
	return note, nil
}

// handleToolCall executes one requested tool call and returns the tool
// response text, the query issued (if any) and whether the search succeeded.
func (r *LLMResearcher) handleToolCall(ctx context.Context, call llms.ToolCall, logger *slog.Logger) (string, string, bool) {
	name := toolName(call)
	if name != webSearchTool {
		logger.Warn("Model requested unknown tool", "tool", name)
		return fmt.Sprintf("Error: unknown tool %q. Only %s is available.", name, webSearchTool), "", false
	}

	var args searchArgs
	if err := json.Unmarshal([]byte(call.FunctionCall.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		metrics.SearchCalls.WithLabelValues("invalid").Inc()
		return "Error: web_search requires a non-empty \"query\" argument.", "", false
	}
	query := strings.TrimSpace(args.Query)

	searchCtx := ctx
	if r.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, r.SearchTimeout)
		defer cancel()
	}

	results, err := r.Searcher.Search(searchCtx, query, r.SearchResults)
	if err != nil {
		metrics.SearchCalls.WithLabelValues("failed").Inc()
		logger.Warn("Search failed", "query", query, "error", err)
		return fmt.Sprintf("Error: search failed: %v", err), query, false
	}
	metrics.SearchCalls.WithLabelValues("ok").Inc()
	logger.Info("Search successful", "query", query, "count", len(results))
	return tools.Format(query, results), query, true
}

func (r *LLMResearcher) maxSteps() int {
	if r.MaxSteps > 0 {
		return r.MaxSteps
	}
	return 4
}

func (r *LLMResearcher) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// assistantToolCalls echoes the model's tool call requests back into the
// history so each tool response has a matching call.
func assistantToolCalls(choice *llms.ContentChoice) llms.MessageContent {
	msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if choice.Content != "" {
		msg.Parts = append(msg.Parts, llms.TextContent{Text: choice.Content})
	}
	for _, call := range choice.ToolCalls {
		msg.Parts = append(msg.Parts, call)
	}
	return msg
}

func toolName(call llms.ToolCall) string {
	if call.FunctionCall == nil {
		return ""
	}
	return call.FunctionCall.Name
}
