package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_runs_finished_total",
			Help: "Total number of research runs finished",
		},
		[]string{"status"}, // completed, degraded, failed
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_stage_transitions_total",
			Help: "Stage transitions by target stage",
		},
		[]string{"stage"},
	)

	// Iteration metrics
	Iterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_iterations_total",
			Help: "Supervisor iterations by decision",
		},
		[]string{"decision"},
	)

	NoteCompressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_note_compressions_total",
			Help: "Note compressions by outcome",
		},
		[]string{"outcome"},
	)

	// Researcher metrics
	ResearchersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deep_research_researchers_active",
			Help: "Researcher agents currently running across all runs",
		},
	)

	ResearcherOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_researcher_outcomes_total",
			Help: "Researcher agent outcomes",
		},
		[]string{"outcome"}, // note, failed
	)

	ResearcherDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_researcher_duration_seconds",
			Help:    "Researcher agent duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	SearchCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_search_calls_total",
			Help: "Search tool calls by outcome",
		},
		[]string{"outcome"},
	)

	// Task metrics
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_tasks_submitted_total",
			Help: "Total number of async research tasks submitted",
		},
	)

	TaskTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_task_transitions_total",
			Help: "Task status transitions by target status",
		},
		[]string{"status"},
	)
)
