package research

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrStageRegression = errors.New("stage cannot move backward")
	ErrIterationBudget = errors.New("iteration budget exhausted")
	ErrReportWriter    = errors.New("report writer failed")
)

// Query is the immutable input of a research run.
type Query struct {
	Text  string `json:"query"`
	Async bool   `json:"async_mode,omitempty"`
	RunID string `json:"run_id,omitempty"`
}

// Stage is the phase of a run. Stages only move forward.
type Stage int

const (
	StageInfoGathering Stage = iota
	StageFinalWriting
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageInfoGathering:
		return "info_gathering"
	case StageFinalWriting:
		return "final_writing"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info_gathering":
		*s = StageInfoGathering
	case "final_writing":
		*s = StageFinalWriting
	case "done":
		*s = StageDone
	default:
		return fmt.Errorf("unknown stage %q", string(b))
	}
	return nil
}

// Decision is what the supervisor concluded at the end of an iteration.
type Decision string

const (
	DecisionContinue   Decision = "continue"
	DecisionTransition Decision = "transition" // information gap judged closed
	DecisionForced     Decision = "forced"     // iteration ceiling reached
	DecisionAbort      Decision = "abort"      // decision function failed; degrade to writing
)

type IterationRecord struct {
	Index         int           `json:"index"`
	SubQuestions  []string      `json:"sub_questions"`
	NotesReturned int           `json:"notes_returned"`
	Failures      int           `json:"failures"`
	DraftHash     string        `json:"draft_hash"`
	Decision      Decision      `json:"decision"`
	Duration      time.Duration `json:"duration"`
}

// ResearchNote is the condensed answer to one delegated sub-question. A note
// produced by compression lists the sub-questions it was condensed from in
// Sources, in the order they were first researched.
type ResearchNote struct {
	SubQuestion string   `json:"sub_question"`
	Findings    string   `json:"findings"`
	Queries     []string `json:"queries,omitempty"`
	Sources     []string `json:"sources,omitempty"`
}

// Outcome is the terminal result of one researcher agent: a note or a
// failure marker.
type Outcome struct {
	SubQuestion string
	Note        *ResearchNote
	Err         error
}

// Plan is the output of the information-gap decision function. No
// sub-questions means the gap is closed.
type Plan struct {
	SubQuestions []string `json:"sub_questions"`
	Reasoning    string   `json:"reasoning,omitempty"`
}

type Result struct {
	RunID       string            `json:"run_id"`
	Query       string            `json:"query"`
	Brief       string            `json:"research_brief"`
	Draft       string            `json:"draft_report"`
	Notes       []ResearchNote    `json:"notes"`
	FinalReport string            `json:"final_report"`
	Iterations  []IterationRecord `json:"iterations"`
	Stage       Stage             `json:"stage"`
	Degraded    bool              `json:"degraded"`
}

// Planner decides which sub-questions are still worth researching.
type Planner interface {
	Plan(ctx context.Context, run *Run, limit int) (Plan, error)
}

type Researcher interface {
	Research(ctx context.Context, subQuestion string) (ResearchNote, error)
}

type Compressor interface {
	Compress(ctx context.Context, query string, notes []ResearchNote) ([]ResearchNote, error)
}

// Refiner returns a complete replacement for the working draft.
type Refiner interface {
	Refine(ctx context.Context, query string, notes []ResearchNote, draft string) (string, error)
}

type Writer interface {
	Write(ctx context.Context, query, brief string, notes []ResearchNote, draft string) (string, error)
}

// Briefer turns the raw query into a research brief and a coarse first draft.
type Briefer interface {
	Brief(ctx context.Context, query string) (brief, draft string, err error)
}
