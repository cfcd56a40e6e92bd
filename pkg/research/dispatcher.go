package research

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

// Dispatcher fans sub-questions out to researcher agents. A dispatcher
// belongs to one run; its semaphore is that run's concurrency ceiling.
type Dispatcher struct {
	researcher Researcher
	sem        *semaphore.Weighted
	timeout    time.Duration
	logger     *slog.Logger

	active atomic.Int64
	peak   atomic.Int64
}

func NewDispatcher(researcher Researcher, maxConcurrency int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		researcher: researcher,
		sem:        semaphore.NewWeighted(int64(maxConcurrency)),
		timeout:    timeout,
		logger:     logger,
	}
}

// Dispatch runs one researcher per sub-question and blocks until every one
// has produced a note or a failure marker. Outcomes are index-aligned with
// subQuestions.
func (d *Dispatcher) Dispatch(ctx context.Context, subQuestions []string) []Outcome {
	outcomes := make([]Outcome, len(subQuestions))

	var wg sync.WaitGroup
	for i, q := range subQuestions {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			outcomes[i] = d.runOne(ctx, q)
		}(i, q)
	}
	wg.Wait()

	return outcomes
}

// Peak is the highest number of simultaneously active researchers seen.
func (d *Dispatcher) Peak() int {
	return int(d.peak.Load())
}

func (d *Dispatcher) runOne(ctx context.Context, subQuestion string) (out Outcome) {
	out.SubQuestion = subQuestion

	if err := d.sem.Acquire(ctx, 1); err != nil {
		out.Err = fmt.Errorf("waiting for researcher slot: %w", err)
		metrics.ResearcherOutcomes.WithLabelValues("failed").Inc()
		return out
	}
	defer d.sem.Release(1)

	d.trackPeak(d.active.Add(1))
	metrics.ResearchersActive.Inc()
	defer func() {
		d.active.Add(-1)
		metrics.ResearchersActive.Dec()
	}()

	agentCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		agentCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.Note = nil
			out.Err = fmt.Errorf("researcher panicked: %v", r)
		}
		metrics.ResearcherDuration.Observe(time.Since(start).Seconds())
		if out.Err != nil {
			metrics.ResearcherOutcomes.WithLabelValues("failed").Inc()
			d.logger.Warn("Researcher failed", "sub_question", subQuestion, "error", out.Err, "duration", time.Since(start))
			return
		}
		metrics.ResearcherOutcomes.WithLabelValues("note").Inc()
		d.logger.Info("Researcher finished", "sub_question", subQuestion, "findings_len", len(out.Note.Findings), "duration", time.Since(start))
	}()

	note, err := d.researcher.Research(agentCtx, subQuestion)
	if err != nil {
		out.Err = err
		return out
	}
	if note.SubQuestion == "" {
		note.SubQuestion = subQuestion
	}
	out.Note = &note
	return out
}

func (d *Dispatcher) trackPeak(n int64) {
	for {
		cur := d.peak.Load()
		if n <= cur || d.peak.CompareAndSwap(cur, n) {
			return
		}
	}
}
