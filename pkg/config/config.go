package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Stage names a model-backed step of a research run. Each stage can use its
// own model and output ceiling.
type Stage string

const (
	StageSupervisor Stage = "supervisor"
	StageResearcher Stage = "researcher"
	StageCompressor Stage = "compressor"
	StageWriter     Stage = "writer"
)

// Task store backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Provider        string
	GoogleApiKey    string
	OpenAIApiKey    string
	AnthropicApiKey string

	DefaultModel string
	// Per-stage model overrides. Empty entries fall back to DefaultModel.
	Models map[Stage]string
	// Per-stage output token ceilings. Zero means the provider default.
	MaxTokens map[Stage]int

	MaxIterations      int
	MaxConcurrency     int
	ResearcherMaxSteps int
	NotesBudget        int
	CallTimeout        time.Duration
	ResearcherTimeout  time.Duration

	SearchProvider string
	SerperApiKey   string
	SearchResults  int

	TaskBackend string
	TaskDir     string
	DatabaseURL string
	RedisURL    string

	LogDir    string
	LogLevel  string
	LogFormat string
	Port      string
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Provider:        getEnv("MODEL_PROVIDER", "googleai"),
		GoogleApiKey:    getEnv("GOOGLE_API_KEY", ""),
		OpenAIApiKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicApiKey: getEnv("ANTHROPIC_API_KEY", ""),
		DefaultModel:    getEnv("DEFAULT_MODEL", "gemini-3-flash-preview"),
		Models: map[Stage]string{
			StageSupervisor: getEnv("SUPERVISOR_MODEL", ""),
			StageResearcher: getEnv("RESEARCHER_MODEL", ""),
			StageCompressor: getEnv("COMPRESSOR_MODEL", ""),
			StageWriter:     getEnv("WRITER_MODEL", ""),
		},
		MaxTokens: map[Stage]int{
			StageSupervisor: getEnvAsInt("SUPERVISOR_MAX_TOKENS", 4096),
			StageResearcher: getEnvAsInt("RESEARCHER_MAX_TOKENS", 8192),
			StageCompressor: getEnvAsInt("COMPRESSOR_MAX_TOKENS", 8192),
			StageWriter:     getEnvAsInt("WRITER_MAX_TOKENS", 40000),
		},
		MaxIterations:      getEnvAsInt("MAX_ITERATIONS", 3),
		MaxConcurrency:     getEnvAsInt("MAX_CONCURRENCY", 3),
		ResearcherMaxSteps: getEnvAsInt("RESEARCHER_MAX_STEPS", 4),
		NotesBudget:        getEnvAsInt("NOTES_BUDGET", 40000),
		CallTimeout:        getEnvAsDuration("CALL_TIMEOUT", 2*time.Minute),
		ResearcherTimeout:  getEnvAsDuration("RESEARCHER_TIMEOUT", 5*time.Minute),
		SearchProvider:     getEnv("SEARCH_PROVIDER", "arxiv"),
		SerperApiKey:       getEnv("SERPER_API_KEY", ""),
		SearchResults:      getEnvAsInt("SEARCH_RESULTS", 5),
		TaskBackend:        getEnv("TASK_BACKEND", BackendFile),
		TaskDir:            getEnv("TASK_DIR", "/tmp/deep-research/tasks"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		LogDir:             getEnv("LOG_DIR", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		Port:               getEnv("PORT", "8081"),
	}
}

// ModelFor returns the model configured for a stage, falling back to the
// default model when the stage has no override.
func (c *Config) ModelFor(stage Stage) string {
	if m := strings.TrimSpace(c.Models[stage]); m != "" {
		return m
	}
	return c.DefaultModel
}

// MaxTokensFor returns the output ceiling for a stage.
func (c *Config) MaxTokensFor(stage Stage) int {
	return c.MaxTokens[stage]
}

func (c *Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("MAX_ITERATIONS must be > 0, got %d", c.MaxIterations)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("MAX_CONCURRENCY must be > 0, got %d", c.MaxConcurrency)
	}
	if c.ResearcherMaxSteps <= 0 {
		return fmt.Errorf("RESEARCHER_MAX_STEPS must be > 0, got %d", c.ResearcherMaxSteps)
	}
	if c.NotesBudget <= 0 {
		return fmt.Errorf("NOTES_BUDGET must be > 0, got %d", c.NotesBudget)
	}
	if strings.TrimSpace(c.DefaultModel) == "" {
		return fmt.Errorf("DEFAULT_MODEL is required")
	}
	switch c.TaskBackend {
	case BackendFile:
		if strings.TrimSpace(c.TaskDir) == "" {
			return fmt.Errorf("TASK_DIR is required for the file backend")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown TASK_BACKEND %q", c.TaskBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
