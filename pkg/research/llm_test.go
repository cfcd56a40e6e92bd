package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

type modelCall struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
}

// fakeModel answers each GenerateContent call with the next scripted reply.
type fakeModel struct {
	mu      sync.Mutex
	replies []func(call modelCall) (*llms.ContentResponse, error)
	calls   []modelCall
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	call := modelCall{messages: messages, opts: opts}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if len(m.replies) == 0 {
		return nil, errors.New("unexpected model call")
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply(call)
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func text(s string) func(modelCall) (*llms.ContentResponse, error) {
	return func(modelCall) (*llms.ContentResponse, error) {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}, nil
	}
}

func toolCall(id, name, args string) func(modelCall) (*llms.ContentResponse, error) {
	return func(modelCall) (*llms.ContentResponse, error) {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
			ToolCalls: []llms.ToolCall{{
				ID:           id,
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
			}},
		}}}, nil
	}
}

func testGateway(m llms.Model) *Gateway {
	return &Gateway{Model: m, Name: "fake", MaxTokens: 256, MaxRetries: 3}
}

type fakeSearcher struct {
	err     error
	queries []string
}

func (s *fakeSearcher) Search(ctx context.Context, query string, k int) ([]tools.SearchResult, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return []tools.SearchResult{{Title: "Result for " + query, URL: "https://example.com/" + query, Snippet: "snippet"}}, nil
}

func lastText(msg llms.MessageContent) string {
	var b strings.Builder
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case llms.TextContent:
			b.WriteString(part.Text)
		case llms.ToolCallResponse:
			b.WriteString(part.Content)
		}
	}
	return b.String()
}

func TestGatewayGenerateJSONStripsFencesAndRetries(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){
		text("not json"),
		text("```json\n{\"sub_questions\":[\"a\"]}\n```"),
	}}
	gw := testGateway(m)

	out, err := gw.GenerateJSON(context.Background(), []llms.MessageContent{humanMessage("plan")}, func(s string) error {
		if !strings.HasPrefix(s, "{") {
			return errors.New("not an object")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"sub_questions":["a"]}`, out)
	require.Len(t, m.calls, 2)
	assert.True(t, m.calls[0].opts.JSONMode)
	assert.Equal(t, 256, m.calls[0].opts.MaxTokens)
}

func TestGatewayGiveUpAfterRetries(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){text("")}}
	gw := testGateway(m)

	_, err := gw.GenerateText(context.Background(), []llms.MessageContent{humanMessage("x")})
	require.Error(t, err)
	assert.Len(t, m.calls, 3)
}

func TestGatewayNoChoices(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){
		func(modelCall) (*llms.ContentResponse, error) { return &llms.ContentResponse{}, nil },
	}}
	_, err := testGateway(m).Generate(context.Background(), nil)
	assert.ErrorIs(t, err, errNoChoices)
}

func TestPlannerParsesSubQuestions(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){
		text(`{"sub_questions":["history of x","cost of x"],"reasoning":"gaps remain"}`),
	}}
	planner := &LLMPlanner{Gateway: testGateway(m)}
	run := newRun(Query{Text: "tell me about x"}, 3)
	run.setBrief("brief about x")
	run.replaceDraft("draft about x")

	plan, err := planner.Plan(context.Background(), run, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"history of x", "cost of x"}, plan.SubQuestions)

	prompt := lastText(m.calls[0].messages[1])
	assert.Contains(t, prompt, "brief about x")
	assert.Contains(t, prompt, "Iteration: 1 of 3")
	assert.Contains(t, lastText(m.calls[0].messages[0]), "at most 2")
}

func TestResearcherSearchesThenAnswers(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){
		toolCall("call-1", webSearchTool, `{"query":"solar output 2024"}`),
		text("Solar output grew. Source: https://example.com/solar output 2024"),
	}}
	searcher := &fakeSearcher{}
	r := &LLMResearcher{Gateway: testGateway(m), Searcher: searcher, SearchResults: 3, MaxSteps: 4}

	note, err := r.Research(context.Background(), "How much did solar grow?")
	require.NoError(t, err)

	assert.Equal(t, "How much did solar grow?", note.SubQuestion)
	assert.Contains(t, note.Findings, "Solar output grew")
	assert.Equal(t, []string{"solar output 2024"}, note.Queries)
	assert.Equal(t, []string{"solar output 2024"}, searcher.queries)

	require.Len(t, m.calls, 2)
	assert.Len(t, m.calls[0].opts.Tools, 1)
	second := m.calls[1].messages
	assert.Equal(t, llms.ChatMessageTypeAI, second[2].Role)
	assert.Equal(t, llms.ChatMessageTypeTool, second[3].Role)
	assert.Contains(t, lastText(second[3]), "Result for solar output 2024")
}

func TestResearcherFailsWhenEverySearchFails(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){
		toolCall("call-1", webSearchTool, `{"query":"a"}`),
		text("I could not find anything."),
	}}
	r := &LLMResearcher{Gateway: testGateway(m), Searcher: &fakeSearcher{err: errors.New("503")}}

	note, err := r.Research(context.Background(), "q")
	assert.ErrorIs(t, err, errNoSearchSucceeded)
	assert.Equal(t, []string{"a"}, note.Queries)
}

func TestResearcherRejectsUnknownTool(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){
		toolCall("call-1", "read_file", `{}`),
		text("done"),
	}}
	searcher := &fakeSearcher{}
	r := &LLMResearcher{Gateway: testGateway(m), Searcher: searcher}

	_, err := r.Research(context.Background(), "q")
	assert.ErrorIs(t, err, errNoSearchSucceeded)
	assert.Empty(t, searcher.queries)
	assert.Contains(t, lastText(m.calls[1].messages[3]), "unknown tool")
}

func TestResearcherWrapsUpAfterStepBudget(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){
		toolCall("call-1", webSearchTool, `{"query":"a"}`),
		toolCall("call-2", webSearchTool, `{"query":"b"}`),
		text("final findings"),
	}}
	r := &LLMResearcher{Gateway: testGateway(m), Searcher: &fakeSearcher{}, MaxSteps: 2}

	note, err := r.Research(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "final findings", note.Findings)
	assert.Equal(t, []string{"a", "b"}, note.Queries)
	require.Len(t, m.calls, 3)
	assert.Empty(t, m.calls[2].opts.Tools)
}

func TestCompressorCondensesAndKeepsQueries(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){text("condensed facts")}}
	c := NewLLMCompressor(testGateway(m))

	out, err := c.Compress(context.Background(), "q", []ResearchNote{
		{SubQuestion: "a", Findings: strings.Repeat("fact a. ", 50), Queries: []string{"qa", "shared"}},
		{SubQuestion: "b", Findings: strings.Repeat("fact b. ", 50), Queries: []string{"shared", "qb"}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, "condensed facts", out[0].Findings)
	assert.Equal(t, []string{"qa", "shared", "qb"}, out[0].Queries)
	for _, n := range out {
		assert.Equal(t, []string{"a", "b"}, n.Sources)
	}

	_, err = c.Compress(context.Background(), "q", nil)
	assert.Error(t, err)
}

func TestCompressorKeepsSourcesAcrossRounds(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){text("again")}}
	c := NewLLMCompressor(testGateway(m))

	out, err := c.Compress(context.Background(), "q", []ResearchNote{
		{SubQuestion: "Condensed findings (part 1 of 1)", Findings: "old summary", Sources: []string{"a", "b"}},
		{SubQuestion: "c", Findings: "new facts"},
		{SubQuestion: "a", Findings: "a revisited"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"a", "b", "c"}, out[0].Sources)
}

func TestBrieferReturnsBriefAndDraft(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){
		text(`{"research_brief":"scope","draft_report":"# Draft"}`),
	}}
	brief, draft, err := (&LLMBriefer{Gateway: testGateway(m)}).Brief(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "scope", brief)
	assert.Equal(t, "# Draft", draft)
}

func TestWriterAndRefinerSendFindings(t *testing.T) {
	m := &fakeModel{replies: []func(modelCall) (*llms.ContentResponse, error){text("# Final")}}
	gw := testGateway(m)
	notes := []ResearchNote{{SubQuestion: "a", Findings: "found it", Queries: []string{"qa"}}}

	report, err := (&LLMWriter{Gateway: gw}).Write(context.Background(), "q", "brief", notes, "draft")
	require.NoError(t, err)
	assert.Equal(t, "# Final", report)
	assert.Contains(t, lastText(m.calls[0].messages[1]), "found it")

	draft, err := (&LLMRefiner{Gateway: gw}).Refine(context.Background(), "q", notes, "old draft")
	require.NoError(t, err)
	assert.Equal(t, "# Final", draft)
	assert.Contains(t, lastText(m.calls[1].messages[1]), "old draft")
}

func TestNewEngine(t *testing.T) {
	cfg := &config.Config{
		DefaultModel:   "fake",
		MaxIterations:  2,
		MaxConcurrency: 2,
		NotesBudget:    1000,
	}
	m := &fakeModel{}
	models := map[config.Stage]llms.Model{
		config.StageSupervisor: m,
		config.StageResearcher: m,
		config.StageCompressor: m,
	}

	_, err := NewEngine(cfg, models, &fakeSearcher{}, nil)
	assert.Error(t, err, "writer model missing")

	models[config.StageWriter] = m
	s, err := NewEngine(cfg, models, &fakeSearcher{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = NewEngine(cfg, models, nil, nil)
	assert.Error(t, err)
}
