package research

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
)

// NewEngine wires the model-backed collaborators into a Supervisor. models
// must carry an entry for every stage; clients.StageModels builds one.
func NewEngine(cfg *config.Config, models map[config.Stage]llms.Model, searcher tools.Searcher, logger *slog.Logger) (*Supervisor, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gateway := func(stage config.Stage) (*Gateway, error) {
		m, ok := models[stage]
		if !ok || m == nil {
			return nil, fmt.Errorf("no model for stage %s", stage)
		}
		return &Gateway{
			Model:      m,
			Name:       cfg.ModelFor(stage),
			MaxTokens:  cfg.MaxTokensFor(stage),
			Timeout:    cfg.CallTimeout,
			MaxRetries: defaultMaxRetries,
			Backoff:    defaultBackoff,
			Logger:     logger.With("stage", string(stage)),
		}, nil
	}

	supervisorGW, err := gateway(config.StageSupervisor)
	if err != nil {
		return nil, err
	}
	researcherGW, err := gateway(config.StageResearcher)
	if err != nil {
		return nil, err
	}
	compressorGW, err := gateway(config.StageCompressor)
	if err != nil {
		return nil, err
	}
	writerGW, err := gateway(config.StageWriter)
	if err != nil {
		return nil, err
	}

	deps := Dependencies{
		Planner: &LLMPlanner{Gateway: supervisorGW},
		Researcher: &LLMResearcher{
			Gateway:       researcherGW,
			Searcher:      searcher,
			SearchResults: cfg.SearchResults,
			MaxSteps:      cfg.ResearcherMaxSteps,
			SearchTimeout: cfg.CallTimeout,
			Logger:        logger,
		},
		Compressor: NewLLMCompressor(compressorGW),
		Refiner:    &LLMRefiner{Gateway: writerGW},
		Writer:     &LLMWriter{Gateway: writerGW},
		Briefer:    &LLMBriefer{Gateway: supervisorGW},
	}

	return NewSupervisor(Config{
		MaxIterations:     cfg.MaxIterations,
		MaxConcurrency:    cfg.MaxConcurrency,
		NotesBudget:       cfg.NotesBudget,
		ResearcherTimeout: cfg.ResearcherTimeout,
	}, deps, logger)
}
