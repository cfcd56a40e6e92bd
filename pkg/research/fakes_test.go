package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// scriptedPlanner returns plans in order, then empty plans.
type scriptedPlanner struct {
	mu    sync.Mutex
	plans []Plan
	err   error
	calls int
}

func (p *scriptedPlanner) Plan(ctx context.Context, run *Run, limit int) (Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return Plan{}, p.err
	}
	if len(p.plans) == 0 {
		return Plan{}, nil
	}
	next := p.plans[0]
	p.plans = p.plans[1:]
	return next, nil
}

// endlessPlanner always asks for n fresh sub-questions.
type endlessPlanner struct {
	n     int
	calls atomic.Int32
}

func (p *endlessPlanner) Plan(ctx context.Context, run *Run, limit int) (Plan, error) {
	call := p.calls.Add(1)
	qs := make([]string, p.n)
	for i := range qs {
		qs[i] = fmt.Sprintf("question %d.%d", call, i)
	}
	return Plan{SubQuestions: qs}, nil
}

type fakeResearcher struct {
	delay  time.Duration
	fail   func(q string) bool
	panics bool

	active atomic.Int32
	peak   atomic.Int32
	calls  atomic.Int32
}

func (r *fakeResearcher) Research(ctx context.Context, q string) (ResearchNote, error) {
	r.calls.Add(1)
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		cur := r.peak.Load()
		if n <= cur || r.peak.CompareAndSwap(cur, n) {
			break
		}
	}

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ResearchNote{}, ctx.Err()
		}
	}
	if r.panics {
		panic("boom")
	}
	if r.fail != nil && r.fail(q) {
		return ResearchNote{}, errors.New("search unavailable")
	}
	return ResearchNote{SubQuestion: q, Findings: "findings for " + q, Queries: []string{q}}, nil
}

type fakeCompressor struct {
	err   error
	calls atomic.Int32
}

func (c *fakeCompressor) Compress(ctx context.Context, query string, notes []ResearchNote) ([]ResearchNote, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []ResearchNote{{SubQuestion: "condensed", Findings: "short", Queries: mergeQueries(notes)}}, nil
}

type fakeRefiner struct {
	err   error
	empty bool
	calls atomic.Int32
}

func (r *fakeRefiner) Refine(ctx context.Context, query string, notes []ResearchNote, draft string) (string, error) {
	n := r.calls.Add(1)
	if r.err != nil {
		return "", r.err
	}
	if r.empty {
		return "  ", nil
	}
	return fmt.Sprintf("draft v%d with %d notes", n, len(notes)), nil
}

type fakeWriter struct {
	err       error
	report    string
	gotNotes  []ResearchNote
	gotDraft  string
	gotBrief  string
	callCount int
}

func (w *fakeWriter) Write(ctx context.Context, query, brief string, notes []ResearchNote, draft string) (string, error) {
	w.callCount++
	w.gotNotes, w.gotDraft, w.gotBrief = notes, draft, brief
	if w.err != nil {
		return "", w.err
	}
	if w.report != "" {
		return w.report, nil
	}
	return "# Report\n\n" + strings.TrimSpace(query), nil
}

type fakeBriefer struct {
	err error
}

func (b *fakeBriefer) Brief(ctx context.Context, query string) (string, string, error) {
	if b.err != nil {
		return "", "", b.err
	}
	return "brief: " + query, "initial draft", nil
}
