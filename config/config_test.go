package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/engine"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "researchmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, engine.DefaultConfig, cfg.Engine.Scheduler())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Engine.MaxRounds)
	assert.Equal(t, 30*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, "Analyst", cfg.Engine.FallbackSpeaker)
	assert.Equal(t, SearchTavily, cfg.Search.Provider)
	assert.Equal(t, ArtifactsMemory, cfg.Artifacts.Backend)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
engine:
  max_rounds: 8
  call_timeout: 45s
  stall_threshold: 3
model:
  provider: anthropic
  name: claude-3-5-sonnet-latest
  roles:
    Orchestrator:
      name: claude-3-5-haiku-latest
      temperature: 0.1
roles:
  DataAnalyst:
    tools: [render_plot]
  Analyst:
    instruction: "You are {{.Name}}. Be brief."
search:
  provider: google
  google_engine_id: cx-123
artifacts:
  backend: file
  dir: /tmp/plots
runner:
  max_concurrent_runs: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.MaxRounds)
	assert.Equal(t, 45*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, 3, cfg.Engine.StallThreshold)
	assert.Equal(t, 6, cfg.Engine.MaxToolTurnsPerRound)

	assert.Equal(t, ProviderAnthropic, cfg.Model.Provider)
	orch := cfg.Model.For(core.Orchestrator)
	assert.Equal(t, "claude-3-5-haiku-latest", orch.Name)
	assert.InDelta(t, 0.1, orch.Temperature, 1e-9)
	assert.Equal(t, ProviderAnthropic, orch.Provider)
	assert.Equal(t, "claude-3-5-sonnet-latest", cfg.Model.For(core.Search).Name)

	require.Len(t, cfg.Roles, 2)
	var analyst RoleConfig
	for key, r := range cfg.Roles {
		if id, _ := core.ParseAgentID(key); id == core.Analyst {
			analyst = r
		}
	}
	assert.Equal(t, "You are {{.Name}}. Be brief.", analyst.Instruction)

	assert.Equal(t, SearchGoogle, cfg.Search.Provider)
	assert.Equal(t, "cx-123", cfg.Search.GoogleEngineID)
	assert.Equal(t, "/tmp/plots", cfg.Artifacts.Dir)
	assert.Equal(t, 2, cfg.Runner.MaxConcurrentRuns)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RESEARCHMESH_ENGINE_MAX_ROUNDS", "5")
	t.Setenv("RESEARCHMESH_LOG_LEVEL", "debug")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TAVILY_API_KEY", "tvly-test")

	cfg, err := Load(writeConfig(t, "engine:\n  max_rounds: 9\n"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Engine.MaxRounds)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sk-test", cfg.Model.OpenAIAPIKey)
	assert.Equal(t, "tvly-test", cfg.Search.TavilyAPIKey)
}

func TestLoad_PrefixedKeyWinsOverAlias(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-alias")
	t.Setenv("RESEARCHMESH_MODEL_OPENAI_API_KEY", "sk-prefixed")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-prefixed", cfg.Model.OpenAIAPIKey)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "engine:\n  max_rounds: 0\n"))
	assert.ErrorContains(t, err, "max rounds must be positive")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"fallback orchestrator", func(c *Config) { c.Engine.FallbackSpeaker = "Orchestrator" }, "not a worker"},
		{"unknown fallback", func(c *Config) { c.Engine.FallbackSpeaker = "Critic" }, "not a worker"},
		{"unknown provider", func(c *Config) { c.Model.Provider = "cohere" }, "model.provider"},
		{"unknown role", func(c *Config) { c.Roles = map[string]RoleConfig{"critic": {}} }, `unknown role "critic"`},
		{"unknown tool", func(c *Config) {
			c.Roles = map[string]RoleConfig{"search": {Tools: []string{"fetch_page"}}}
		}, `unknown tool "fetch_page"`},
		{"orchestrator tools", func(c *Config) {
			c.Roles = map[string]RoleConfig{"orchestrator": {Tools: []string{"web_search"}}}
		}, "cannot call tools"},
		{"model role override", func(c *Config) { c.Model.Roles = map[string]ModelOverride{"nobody": {}} }, "model.roles"},
		{"search provider", func(c *Config) { c.Search.Provider = "bing" }, "search.provider"},
		{"file without dir", func(c *Config) { c.Artifacts.Backend = ArtifactsFile }, "artifacts.dir"},
		{"s3 without bucket", func(c *Config) { c.Artifacts.Backend = ArtifactsS3 }, "artifacts.bucket"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"runner", func(c *Config) { c.Runner.MaxConcurrentRuns = 0 }, "runner.max_concurrent_runs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Search.MaxResults = 0
	cfg.Runner.MaxConcurrentRuns = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.max_results")
	assert.Contains(t, err.Error(), "runner.max_concurrent_runs")
}
