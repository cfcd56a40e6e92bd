package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/tasks"
)

const (
	mcpServerName    = "deep-research-mcp"
	mcpServerVersion = "1.0.0"
)

type StartResearchArgs struct {
	Query string `json:"query" jsonschema:"the research question to investigate"`
}

type GetResearchArgs struct {
	TaskID string `json:"task_id" jsonschema:"the id returned by start_research"`
}

// NewMCPServer exposes the task lifecycle as MCP tools. Research always runs
// asynchronously; clients poll get_research.
func NewMCPServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: mcpServerName, Version: mcpServerVersion}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_research",
		Description: "Start an asynchronous deep research run on a question. Returns a task id to poll with get_research.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args StartResearchArgs) (*mcp.CallToolResult, any, error) {
		rec, err := svc.Submit(ctx, research.Query{Text: args.Query, Async: true})
		if err != nil {
			return toolError(err.Error()), nil, nil
		}
		return toolJSON(map[string]string{"task_id": rec.ID, "status": string(rec.Status)})
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_research",
		Description: "Get the status of a research task and, once completed, its final report.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args GetResearchArgs) (*mcp.CallToolResult, any, error) {
		rec, err := svc.Get(ctx, args.TaskID)
		if errors.Is(err, tasks.ErrNotFound) {
			return toolError(fmt.Sprintf("task %s not found", args.TaskID)), nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		return toolJSON(rec)
	})

	return server
}

// NewMCPHandler serves server over the streamable HTTP transport.
func NewMCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
