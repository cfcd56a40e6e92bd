package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_ITERATIONS", "")
	t.Setenv("DEFAULT_MODEL", "")
	t.Setenv("WRITER_MODEL", "")

	cfg := Load()
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, 3, cfg.MaxConcurrency)
	assert.Equal(t, BackendFile, cfg.TaskBackend)
	assert.Equal(t, 2*time.Minute, cfg.CallTimeout)
	require.NoError(t, cfg.Validate())
}

func TestModelForFallsBackToDefault(t *testing.T) {
	t.Setenv("DEFAULT_MODEL", "base-model")
	t.Setenv("WRITER_MODEL", "writer-model")
	t.Setenv("RESEARCHER_MODEL", "")

	cfg := Load()
	assert.Equal(t, "writer-model", cfg.ModelFor(StageWriter))
	assert.Equal(t, "base-model", cfg.ModelFor(StageResearcher))
	assert.Equal(t, "base-model", cfg.ModelFor(StageSupervisor))
}

func TestEnvParsing(t *testing.T) {
	t.Setenv("MAX_CONCURRENCY", "7")
	t.Setenv("CALL_TIMEOUT", "45s")
	t.Setenv("NOTES_BUDGET", "not-a-number")

	cfg := Load()
	assert.Equal(t, 7, cfg.MaxConcurrency)
	assert.Equal(t, 45*time.Second, cfg.CallTimeout)
	assert.Equal(t, 40000, cfg.NotesBudget)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, true},
		{"negative concurrency", func(c *Config) { c.MaxConcurrency = -1 }, true},
		{"unknown backend", func(c *Config) { c.TaskBackend = "etcd" }, true},
		{"postgres without url", func(c *Config) { c.TaskBackend = BackendPostgres; c.DatabaseURL = "" }, true},
		{"postgres with url", func(c *Config) { c.TaskBackend = BackendPostgres; c.DatabaseURL = "postgres://x" }, false},
		{"empty default model", func(c *Config) { c.DefaultModel = " " }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			cfg.DefaultModel = "m"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
