package research

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Run is the state of a single research run. It is owned by the supervisor
// executing it; collaborators only read it through the exported accessors.
type Run struct {
	ID    string
	Query Query

	maxIterations int

	mu         sync.RWMutex
	stage      Stage
	brief      string
	draft      string
	notes      []ResearchNote
	iterations []IterationRecord
	degraded   bool
}

func newRun(q Query, maxIterations int) *Run {
	return &Run{
		ID:            q.RunID,
		Query:         q,
		maxIterations: maxIterations,
		stage:         StageInfoGathering,
	}
}

func (r *Run) Stage() Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stage
}

// advance moves the run exactly one stage forward.
func (r *Run) advance(to Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if to != r.stage+1 {
		return fmt.Errorf("%w: %s -> %s", ErrStageRegression, r.stage, to)
	}
	r.stage = to
	return nil
}

func (r *Run) Brief() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.brief
}

func (r *Run) setBrief(brief string) {
	r.mu.Lock()
	r.brief = brief
	r.mu.Unlock()
}

// Draft returns the current working draft. Drafts are only ever replaced
// whole, so the returned text is always complete.
func (r *Run) Draft() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.draft
}

func (r *Run) replaceDraft(draft string) {
	r.mu.Lock()
	r.draft = draft
	r.mu.Unlock()
}

// Notes returns a copy of the accumulated notes in arrival order.
func (r *Run) Notes() []ResearchNote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResearchNote, len(r.notes))
	copy(out, r.notes)
	return out
}

func (r *Run) appendNotes(notes ...ResearchNote) {
	r.mu.Lock()
	r.notes = append(r.notes, notes...)
	r.mu.Unlock()
}

func (r *Run) replaceNotes(notes []ResearchNote) {
	r.mu.Lock()
	r.notes = notes
	r.mu.Unlock()
}

// notesSize is the accumulated findings size in bytes, the unit of the
// compression budget.
func (r *Run) notesSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, note := range r.notes {
		n += len(note.SubQuestion) + len(note.Findings)
	}
	return n
}

func (r *Run) Iterations() []IterationRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]IterationRecord, len(r.iterations))
	copy(out, r.iterations)
	return out
}

// IterationCount is the number of completed supervisor iterations.
func (r *Run) IterationCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.iterations)
}

func (r *Run) MaxIterations() int { return r.maxIterations }

func (r *Run) record(rec IterationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.iterations) >= r.maxIterations {
		return fmt.Errorf("%w: %d iterations recorded", ErrIterationBudget, len(r.iterations))
	}
	r.iterations = append(r.iterations, rec)
	return nil
}

func (r *Run) markDegraded() {
	r.mu.Lock()
	r.degraded = true
	r.mu.Unlock()
}

func (r *Run) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

func (r *Run) result(finalReport string) *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	notes := make([]ResearchNote, len(r.notes))
	copy(notes, r.notes)
	iterations := make([]IterationRecord, len(r.iterations))
	copy(iterations, r.iterations)
	return &Result{
		RunID:       r.ID,
		Query:       r.Query.Text,
		Brief:       r.brief,
		Draft:       r.draft,
		Notes:       notes,
		FinalReport: finalReport,
		Iterations:  iterations,
		Stage:       r.stage,
		Degraded:    r.degraded,
	}
}

func hashDraft(draft string) string {
	sum := sha256.Sum256([]byte(draft))
	return hex.EncodeToString(sum[:])
}
