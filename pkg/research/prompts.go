package research

import (
	"fmt"
	"strings"
	"time"
)

const briefSystemPrompt = `You are a research lead. Today's date is %s.
Turn the user's request into a research brief and a first coarse draft report.
The brief states the question, its scope and what a complete answer must cover.
The draft is a complete, well-formed markdown report written from your current knowledge only; mark uncertain claims.

Return the JSON object directly without any formatting or additional text:
{"research_brief": "string", "draft_report": "string"}`

const plannerSystemPrompt = `You are a research supervisor. Today's date is %s.
You balance two gaps: the information gap (facts not yet gathered) and the generation gap (the draft not yet well written).
Review the brief, the notes gathered so far and the current draft. Decide which sub-questions still need research.
Return at most %d independent, specific sub-questions. Return an empty list when the notes already cover the brief well enough to write the final report.

Return the JSON object directly without any formatting or additional text:
{"sub_questions": ["string"], "reasoning": "string"}`

const researcherSystemPrompt = `You are a research assistant investigating one question. Today's date is %s.
Use the web_search tool to find evidence. Issue focused queries; stop searching once you can answer well.
When done, reply without calling tools: a condensed set of findings with the sources (titles and URLs) they came from.`

const researcherWrapUpPrompt = `Stop searching now. Reply with your condensed findings and their sources, using only what the searches returned.`

const compressorSystemPrompt = `You condense research notes. Keep every fact, figure, date, name and source URL that bears on the research question; drop repetition and filler.
Return plain text findings grouped by topic.`

const refinerSystemPrompt = `You are a report writer improving a draft report with new research findings. Today's date is %s.
Return the complete revised report in markdown. Keep what is still accurate, integrate the new findings with their sources and correct anything the findings contradict.
Return only the report.`

const writerSystemPrompt = `You are a report writer producing the final research report. Today's date is %s.
Write a comprehensive, insightful markdown report that answers the user's request using the findings and the draft.
Cite sources inline with their URLs and end with a Sources section. If the findings are empty, write the best answer you can from general knowledge and say that no fresh research was available.
Return only the report.`

func today() string {
	return time.Now().Format("Mon Jan 2, 2006")
}

func renderNotes(notes []ResearchNote) string {
	if len(notes) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, n := range notes {
		fmt.Fprintf(&b, "## Note %d: %s\n%s\n", i+1, n.SubQuestion, strings.TrimSpace(n.Findings))
		if len(n.Queries) > 0 {
			fmt.Fprintf(&b, "Searches: %s\n", strings.Join(n.Queries, "; "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
