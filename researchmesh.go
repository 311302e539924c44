// Package researchmesh wires a research team into a runnable unit: an
// Orchestrator that picks the next speaker, three worker agents (Search,
// Analyst, DataAnalyst), the web_search and render_plot tools and an
// artifact store for rendered charts. Most applications:
//  1. Load a config.Config (or start from config.Default())
//  2. Create a Mesh via New(), optionally injecting models or collaborators
//  3. Call Run for a single task or RunAll for a batch
//
// Every run ends with a core.FinalReport whatever the termination reason.
package researchmesh

import (
	"context"
	"fmt"
	"slices"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/researchmesh/agent"
	"github.com/hupe1980/researchmesh/artifact"
	s3store "github.com/hupe1980/researchmesh/artifact/s3"
	"github.com/hupe1980/researchmesh/config"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/engine"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/model/anthropic"
	"github.com/hupe1980/researchmesh/model/openai"
	"github.com/hupe1980/researchmesh/plot"
	"github.com/hupe1980/researchmesh/runner"
	"github.com/hupe1980/researchmesh/search"
	"github.com/hupe1980/researchmesh/session"
	"github.com/hupe1980/researchmesh/tool"
)

// Options configures a Mesh. Collaborators left nil are built from Config.
type Options struct {
	Config config.Config

	// Models replaces the configured model for individual agents.
	Models map[core.AgentID]model.Model

	// Searcher backs the web_search tool.
	Searcher search.Searcher

	// Renderer backs the render_plot tool (default: excelize workbooks).
	Renderer plot.Renderer

	// ArtifactStore keeps rendered charts.
	ArtifactStore core.ArtifactStore

	// Reports keeps finished reports for Mesh.Report.
	Reports core.ReportStore

	// Logger defaults to NoOp.
	Logger logging.Logger

	Callbacks *engine.CallbackManager
	Metrics   *engine.Metrics
	Tracer    trace.Tracer
}

// Mesh is the assembled research team.
type Mesh struct {
	roles     map[core.AgentID]agent.Role
	invoker   *tool.Invoker
	store     core.ArtifactStore
	scheduler *engine.Scheduler
	runner    *runner.Runner
}

var _ core.Runner = (*Mesh)(nil)

// New assembles a Mesh.
func New(optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	roles, err := buildRoles(cfg.Roles)
	if err != nil {
		return nil, err
	}
	team := make([]agent.Role, 0, len(core.KnownAgents))
	for _, id := range core.KnownAgents {
		team = append(team, roles[id])
	}

	store := opts.ArtifactStore
	if store == nil {
		if store, err = newArtifactStore(cfg.Artifacts); err != nil {
			return nil, err
		}
	}

	searcher := opts.Searcher
	if searcher == nil {
		if searcher, err = newSearcher(cfg.Search); err != nil {
			return nil, err
		}
	}

	renderer := opts.Renderer
	if renderer == nil {
		renderer = plot.NewExcelRenderer()
	}

	invoker := tool.NewInvoker(func(o *tool.InvokerOptions) {
		o.Timeout = cfg.Engine.CallTimeout
		o.Retries = cfg.Tools.Retries
		o.Backoff = cfg.Tools.Backoff
		o.Logger = opts.Logger
	})
	if searcher != nil {
		if err := invoker.Register(tool.NewWebSearch(searcher, func(o *tool.WebSearchOptions) {
			o.DefaultMaxResults = cfg.Search.MaxResults
		})); err != nil {
			return nil, err
		}
	}
	if err := invoker.Register(tool.NewRenderPlot(renderer, store)); err != nil {
		return nil, err
	}

	runtimeOpts := func(o *agent.RuntimeOptions) {
		o.Team = team
		o.Stream = cfg.Model.Stream
		o.Logger = opts.Logger
	}

	llmFor := func(id core.AgentID) (model.Model, error) {
		if m, ok := opts.Models[id]; ok && m != nil {
			return m, nil
		}
		return newModel(cfg.Model.For(id))
	}

	llm, err := llmFor(core.Orchestrator)
	if err != nil {
		return nil, err
	}
	orchestrator, err := agent.NewOrchestrator(roles[core.Orchestrator], llm, runtimeOpts)
	if err != nil {
		return nil, err
	}

	var actors []engine.Actor
	for _, id := range core.KnownAgents {
		if !id.IsWorker() {
			continue
		}
		llm, err := llmFor(id)
		if err != nil {
			return nil, err
		}
		rt, err := agent.NewRuntime(roles[id], llm, invoker, runtimeOpts)
		if err != nil {
			return nil, err
		}
		actors = append(actors, rt)
	}

	reports := opts.Reports
	if reports == nil {
		if reports, err = session.NewInMemoryStore(cfg.Runner.HistorySize); err != nil {
			return nil, err
		}
	}

	scheduler, err := engine.New(orchestrator, actors, invoker, func(o *engine.Options) {
		o.Config = cfg.Engine.Scheduler()
		o.Logger = opts.Logger
		o.Callbacks = opts.Callbacks
		o.Metrics = opts.Metrics
		if opts.Tracer != nil {
			o.Tracer = opts.Tracer
		}
	})
	if err != nil {
		return nil, err
	}

	return &Mesh{
		roles:     roles,
		invoker:   invoker,
		store:     store,
		scheduler: scheduler,
		runner: runner.New(scheduler, func(o *runner.Options) {
			o.MaxConcurrentRuns = cfg.Runner.MaxConcurrentRuns
			o.Logger = opts.Logger
			o.Reports = reports
		}),
	}, nil
}

// Run executes task to completion and returns the report.
func (m *Mesh) Run(ctx context.Context, task string, optFns ...func(o *core.RunOptions)) (core.FinalReport, error) {
	return m.runner.Run(ctx, task, optFns...)
}

// RunAll executes independent tasks in parallel.
func (m *Mesh) RunAll(ctx context.Context, tasks []string) []runner.Result {
	return m.runner.RunAll(ctx, tasks)
}

// Cancel stops an in-flight run at its next round boundary.
func (m *Mesh) Cancel(runID string) error { return m.runner.Cancel(runID) }

// Report returns the report of a finished run.
func (m *Mesh) Report(runID string) (core.FinalReport, error) { return m.runner.Report(runID) }

// Roles returns the team in canonical order.
func (m *Mesh) Roles() []agent.Role {
	out := make([]agent.Role, 0, len(m.roles))
	for _, id := range core.KnownAgents {
		out = append(out, m.roles[id])
	}
	return out
}

// Tools returns the names of the registered tools.
func (m *Mesh) Tools() []string { return m.invoker.Names() }

// Artifacts returns the store rendered charts are saved in.
func (m *Mesh) Artifacts() core.ArtifactStore { return m.store }

// Scheduler exposes the underlying scheduler.
func (m *Mesh) Scheduler() *engine.Scheduler { return m.scheduler }

func buildRoles(overrides map[string]config.RoleConfig) (map[core.AgentID]agent.Role, error) {
	roles := agent.DefaultRoles()
	for key, o := range overrides {
		id, ok := core.ParseAgentID(key)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", key)
		}
		r := roles[id]
		if o.Instruction != "" {
			r.Instruction = agent.NewInstructionFromText(o.Instruction)
		}
		if o.Tools != nil {
			r.AllowedTools = slices.Clone(o.Tools)
		}
		roles[id] = r
	}
	return roles, nil
}

func newArtifactStore(c config.ArtifactsConfig) (core.ArtifactStore, error) {
	switch c.Backend {
	case config.ArtifactsFile:
		return artifact.NewFileStore(c.Dir)
	case config.ArtifactsS3:
		client := s3store.NewClient(s3store.ClientOptions{
			Region:       c.Region,
			Endpoint:     c.Endpoint,
			UsePathStyle: c.UsePathStyle,
		})
		return s3store.NewStore(client, func(o *s3store.Options) {
			o.Bucket = c.Bucket
			o.Prefix = c.Prefix
		})
	default:
		return artifact.NewInMemoryStore(), nil
	}
}

func newSearcher(c config.SearchConfig) (search.Searcher, error) {
	var s search.Searcher
	switch c.Provider {
	case config.SearchTavily:
		s = search.NewTavily(func(o *search.TavilyOptions) {
			o.APIKey = c.TavilyAPIKey
			if c.BaseURL != "" {
				o.BaseURL = c.BaseURL
			}
			o.Timeout = c.Timeout
			o.Retries = c.Retries
		})
	case config.SearchGoogle:
		s = search.NewGoogle(func(o *search.GoogleOptions) {
			o.APIKey = c.GoogleAPIKey
			o.EngineID = c.GoogleEngineID
			if c.BaseURL != "" {
				o.BaseURL = c.BaseURL
			}
			o.Timeout = c.Timeout
			o.Retries = c.Retries
		})
	default:
		return nil, nil
	}
	if c.CacheSize > 0 {
		return search.NewCached(s, c.CacheSize)
	}
	return s, nil
}

func newModel(c config.ModelConfig) (model.Model, error) {
	var m model.Model
	switch c.Provider {
	case config.ProviderOpenAI:
		m = openai.NewModel(func(o *openai.Options) {
			if c.Name != "" {
				o.Model = c.Name
			}
			o.Temperature = c.Temperature
			o.MaxCompletionTokens = int64(c.MaxTokens)
			o.APIKey = c.OpenAIAPIKey
			o.BaseURL = c.BaseURL
		})
	case config.ProviderAnthropic:
		m = anthropic.NewModel(func(o *anthropic.Options) {
			if c.Name != "" {
				o.Model = anthropicsdk.Model(c.Name)
			}
			o.Temperature = c.Temperature
			o.MaxTokens = int64(c.MaxTokens)
			o.APIKey = c.AnthropicAPIKey
		})
	case config.ProviderMock:
		m = model.NewMockModel(c.Name, config.ProviderMock)
	default:
		return nil, fmt.Errorf("unknown model provider %q", c.Provider)
	}
	return model.NewRateLimited(m, c.RequestsPerSecond, c.Burst), nil
}
