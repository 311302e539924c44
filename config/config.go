package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/engine"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/tool"
)

// EnvPrefix is prepended to every environment override, e.g.
// RESEARCHMESH_ENGINE_MAX_ROUNDS.
const EnvPrefix = "RESEARCHMESH"

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Search providers.
const (
	SearchTavily = "tavily"
	SearchGoogle = "google"
	SearchNone   = "none"
)

// Artifact backends.
const (
	ArtifactsMemory = "memory"
	ArtifactsFile   = "file"
	ArtifactsS3     = "s3"
)

// Config is the complete application configuration.
type Config struct {
	Engine    EngineConfig          `mapstructure:"engine" yaml:"engine"`
	Model     ModelConfig           `mapstructure:"model" yaml:"model"`
	Roles     map[string]RoleConfig `mapstructure:"roles" yaml:"roles,omitempty"`
	Search    SearchConfig          `mapstructure:"search" yaml:"search"`
	Tools     ToolsConfig           `mapstructure:"tools" yaml:"tools"`
	Artifacts ArtifactsConfig       `mapstructure:"artifacts" yaml:"artifacts"`
	Log       LogConfig             `mapstructure:"log" yaml:"log"`
	Runner    RunnerConfig          `mapstructure:"runner" yaml:"runner"`
}

// EngineConfig mirrors engine.Config.
type EngineConfig struct {
	MaxRounds            int           `mapstructure:"max_rounds" yaml:"max_rounds"`
	CallTimeout          time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	OrchestratorRetries  int           `mapstructure:"orchestrator_retries" yaml:"orchestrator_retries"`
	StallThreshold       int           `mapstructure:"stall_threshold" yaml:"stall_threshold"`
	MaxToolTurnsPerRound int           `mapstructure:"max_tool_turns_per_round" yaml:"max_tool_turns_per_round"`
	MaxModelCalls        int           `mapstructure:"max_model_calls" yaml:"max_model_calls"`
	FallbackSpeaker      string        `mapstructure:"fallback_speaker" yaml:"fallback_speaker"`
}

// Scheduler converts the section into an engine.Config.
func (c EngineConfig) Scheduler() engine.Config {
	fallback, _ := core.ParseAgentID(c.FallbackSpeaker)
	return engine.Config{
		MaxRounds:            c.MaxRounds,
		CallTimeout:          c.CallTimeout,
		OrchestratorRetries:  c.OrchestratorRetries,
		StallThreshold:       c.StallThreshold,
		MaxToolTurnsPerRound: c.MaxToolTurnsPerRound,
		MaxModelCalls:        c.MaxModelCalls,
		FallbackSpeaker:      fallback,
	}
}

// ModelConfig selects and tunes the language model. Roles overrides
// individual fields per agent; zero-valued override fields inherit.
type ModelConfig struct {
	Provider          string                   `mapstructure:"provider" yaml:"provider"`
	Name              string                   `mapstructure:"name" yaml:"name"`
	Temperature       float64                  `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int                      `mapstructure:"max_tokens" yaml:"max_tokens"`
	BaseURL           string                   `mapstructure:"base_url" yaml:"base_url,omitempty"`
	OpenAIAPIKey      string                   `mapstructure:"openai_api_key" yaml:"-"`
	AnthropicAPIKey   string                   `mapstructure:"anthropic_api_key" yaml:"-"`
	RequestsPerSecond float64                  `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int                      `mapstructure:"burst" yaml:"burst"`
	Stream            bool                     `mapstructure:"stream" yaml:"stream"`
	Roles             map[string]ModelOverride `mapstructure:"roles" yaml:"roles,omitempty"`
}

// ModelOverride replaces parts of ModelConfig for one agent.
type ModelOverride struct {
	Provider    string  `mapstructure:"provider" yaml:"provider,omitempty"`
	Name        string  `mapstructure:"name" yaml:"name,omitempty"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
}

// For returns the model settings that apply to id.
func (m ModelConfig) For(id core.AgentID) ModelConfig {
	out := m
	out.Roles = nil
	for key, o := range m.Roles {
		if parsed, ok := core.ParseAgentID(key); !ok || parsed != id {
			continue
		}
		if o.Provider != "" {
			out.Provider = o.Provider
		}
		if o.Name != "" {
			out.Name = o.Name
		}
		if o.Temperature != 0 {
			out.Temperature = o.Temperature
		}
		if o.MaxTokens != 0 {
			out.MaxTokens = o.MaxTokens
		}
	}
	return out
}

// RoleConfig overrides an agent's instruction or tool allow-list. A nil
// Tools slice keeps the default allow-list.
type RoleConfig struct {
	Instruction string   `mapstructure:"instruction" yaml:"instruction,omitempty"`
	Tools       []string `mapstructure:"tools" yaml:"tools,omitempty"`
}

// SearchConfig configures the web_search backend.
type SearchConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"`
	TavilyAPIKey   string        `mapstructure:"tavily_api_key" yaml:"-"`
	GoogleAPIKey   string        `mapstructure:"google_api_key" yaml:"-"`
	GoogleEngineID string        `mapstructure:"google_engine_id" yaml:"google_engine_id,omitempty"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	MaxResults     int           `mapstructure:"max_results" yaml:"max_results"`
	CacheSize      int           `mapstructure:"cache_size" yaml:"cache_size"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries        int           `mapstructure:"retries" yaml:"retries"`
}

// ToolsConfig configures the tool invoker.
type ToolsConfig struct {
	Retries int           `mapstructure:"retries" yaml:"retries"`
	Backoff time.Duration `mapstructure:"backoff" yaml:"backoff"`
}

// ArtifactsConfig selects where rendered plots are stored.
type ArtifactsConfig struct {
	Backend      string `mapstructure:"backend" yaml:"backend"`
	Dir          string `mapstructure:"dir" yaml:"dir,omitempty"`
	Bucket       string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix       string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region       string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style,omitempty"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// RunnerConfig configures parallel execution.
type RunnerConfig struct {
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	// HistorySize is how many finished reports are kept for lookup by run ID.
	HistorySize int `mapstructure:"history_size" yaml:"history_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	ec := engine.DefaultConfig
	return Config{
		Engine: EngineConfig{
			MaxRounds:            ec.MaxRounds,
			CallTimeout:          ec.CallTimeout,
			OrchestratorRetries:  ec.OrchestratorRetries,
			StallThreshold:       ec.StallThreshold,
			MaxToolTurnsPerRound: ec.MaxToolTurnsPerRound,
			MaxModelCalls:        ec.MaxModelCalls,
			FallbackSpeaker:      ec.FallbackSpeaker.String(),
		},
		Model: ModelConfig{
			Provider:    ProviderOpenAI,
			Name:        "gpt-4o-mini",
			Temperature: 0.5,
			MaxTokens:   2048,
		},
		Search: SearchConfig{
			Provider:   SearchTavily,
			MaxResults: 5,
			CacheSize:  128,
			Timeout:    15 * time.Second,
			Retries:    2,
		},
		Tools: ToolsConfig{
			Retries: 1,
			Backoff: 500 * time.Millisecond,
		},
		Artifacts: ArtifactsConfig{
			Backend: ArtifactsMemory,
			Prefix:  "researchmesh",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Runner: RunnerConfig{
			MaxConcurrentRuns: 4,
			HistorySize:       100,
		},
	}
}

// envAliases binds well-known provider variables in addition to the
// prefixed names.
var envAliases = map[string]string{
	"model.openai_api_key":    "OPENAI_API_KEY",
	"model.anthropic_api_key": "ANTHROPIC_API_KEY",
	"search.tavily_api_key":   "TAVILY_API_KEY",
	"search.google_api_key":   "GOOGLE_API_KEY",
	"search.google_engine_id": "GOOGLE_CSE_ID",
}

// Load reads the YAML file at path (optional) and applies environment
// overrides on top of Default. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, alias := range envAliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every scalar key so that environment overrides are
// visible to Unmarshal even when the file omits the key.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("engine.max_rounds", d.Engine.MaxRounds)
	v.SetDefault("engine.call_timeout", d.Engine.CallTimeout)
	v.SetDefault("engine.orchestrator_retries", d.Engine.OrchestratorRetries)
	v.SetDefault("engine.stall_threshold", d.Engine.StallThreshold)
	v.SetDefault("engine.max_tool_turns_per_round", d.Engine.MaxToolTurnsPerRound)
	v.SetDefault("engine.max_model_calls", d.Engine.MaxModelCalls)
	v.SetDefault("engine.fallback_speaker", d.Engine.FallbackSpeaker)

	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.name", d.Model.Name)
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.max_tokens", d.Model.MaxTokens)
	v.SetDefault("model.base_url", d.Model.BaseURL)
	v.SetDefault("model.requests_per_second", d.Model.RequestsPerSecond)
	v.SetDefault("model.burst", d.Model.Burst)
	v.SetDefault("model.stream", d.Model.Stream)

	v.SetDefault("search.provider", d.Search.Provider)
	v.SetDefault("search.base_url", d.Search.BaseURL)
	v.SetDefault("search.max_results", d.Search.MaxResults)
	v.SetDefault("search.cache_size", d.Search.CacheSize)
	v.SetDefault("search.timeout", d.Search.Timeout)
	v.SetDefault("search.retries", d.Search.Retries)

	v.SetDefault("tools.retries", d.Tools.Retries)
	v.SetDefault("tools.backoff", d.Tools.Backoff)

	v.SetDefault("artifacts.backend", d.Artifacts.Backend)
	v.SetDefault("artifacts.dir", d.Artifacts.Dir)
	v.SetDefault("artifacts.bucket", d.Artifacts.Bucket)
	v.SetDefault("artifacts.prefix", d.Artifacts.Prefix)
	v.SetDefault("artifacts.region", d.Artifacts.Region)
	v.SetDefault("artifacts.endpoint", d.Artifacts.Endpoint)
	v.SetDefault("artifacts.use_path_style", d.Artifacts.UsePathStyle)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("runner.max_concurrent_runs", d.Runner.MaxConcurrentRuns)
	v.SetDefault("runner.history_size", d.Runner.HistorySize)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if err := c.Engine.Scheduler().Validate(); err != nil {
		add("engine: %w", err)
	}

	if err := validProvider(c.Model.Provider); err != nil {
		add("model.provider: %w", err)
	}
	if c.Model.RequestsPerSecond < 0 {
		add("model.requests_per_second must not be negative")
	}
	if c.Model.MaxTokens <= 0 {
		add("model.max_tokens must be positive")
	}
	for key, o := range c.Model.Roles {
		if _, ok := core.ParseAgentID(key); !ok {
			add("model.roles: unknown role %q", key)
		}
		if o.Provider != "" {
			if err := validProvider(o.Provider); err != nil {
				add("model.roles.%s.provider: %w", key, err)
			}
		}
	}

	known := map[string]bool{tool.WebSearchName: true, tool.RenderPlotName: true}
	for key, r := range c.Roles {
		id, ok := core.ParseAgentID(key)
		if !ok {
			add("roles: unknown role %q", key)
			continue
		}
		if id == core.Orchestrator && len(r.Tools) > 0 {
			add("roles.%s.tools: the orchestrator cannot call tools", key)
		}
		for _, name := range r.Tools {
			if !known[name] {
				add("roles.%s.tools: unknown tool %q", key, name)
			}
		}
	}

	switch c.Search.Provider {
	case SearchTavily, SearchGoogle, SearchNone:
	default:
		add("search.provider: unknown provider %q", c.Search.Provider)
	}
	if c.Search.MaxResults <= 0 {
		add("search.max_results must be positive")
	}
	if c.Search.CacheSize < 0 {
		add("search.cache_size must not be negative")
	}
	if c.Search.Timeout <= 0 {
		add("search.timeout must be positive")
	}

	if c.Tools.Retries < 0 {
		add("tools.retries must not be negative")
	}

	switch c.Artifacts.Backend {
	case ArtifactsMemory:
	case ArtifactsFile:
		if c.Artifacts.Dir == "" {
			add("artifacts.dir is required for the file backend")
		}
	case ArtifactsS3:
		if c.Artifacts.Bucket == "" {
			add("artifacts.bucket is required for the s3 backend")
		}
	default:
		add("artifacts.backend: unknown backend %q", c.Artifacts.Backend)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format: unknown format %q", c.Log.Format)
	}

	if c.Runner.MaxConcurrentRuns <= 0 {
		add("runner.max_concurrent_runs must be positive")
	}
	if c.Runner.HistorySize <= 0 {
		add("runner.history_size must be positive")
	}

	return errors.Join(errs...)
}

func validProvider(p string) error {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderMock:
		return nil
	}
	return fmt.Errorf("unknown provider %q", p)
}
