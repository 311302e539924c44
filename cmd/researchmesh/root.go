package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/researchmesh"
	"github.com/hupe1980/researchmesh/config"
	"github.com/hupe1980/researchmesh/engine"
	"github.com/hupe1980/researchmesh/logging"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// CLI holds the flags shared by all commands.
type CLI struct {
	configPath  string
	format      string
	maxRounds   int
	verbose     bool
	metricsAddr string
	transcript  bool
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	cli := &CLI{}

	root := &cobra.Command{
		Use:           "researchmesh",
		Short:         "Run research tasks with an orchestrated team of LLM agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&cli.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVarP(&cli.format, "format", "f", "yaml", "output format: yaml or json")
	flags.IntVar(&cli.maxRounds, "max-rounds", 0, "override engine.max_rounds")
	flags.BoolVarP(&cli.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&cli.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.BoolVar(&cli.transcript, "transcript", false, "include the full transcript in the report")

	root.AddCommand(
		newRunCommand(cli),
		newBatchCommand(cli),
		newRolesCommand(cli),
	)

	return root
}

func (cli *CLI) loadConfig() (*config.Config, error) {
	if cli.format != "yaml" && cli.format != "json" {
		return nil, fmt.Errorf("unknown format %q", cli.format)
	}

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return nil, err
	}

	if cli.maxRounds > 0 {
		cfg.Engine.MaxRounds = cli.maxRounds
	}
	if cli.verbose {
		cfg.Log.Level = "debug"
	}

	return cfg, nil
}

// newMesh builds the team and, when requested, starts the metrics
// endpoint. The returned stop function shuts the endpoint down.
func (cli *CLI) newMesh(cfg *config.Config, logOut io.Writer) (*researchmesh.Mesh, func(), error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewSlogLogger(level, cfg.Log.Format, logOut)

	var (
		metrics *engine.Metrics
		stop    = func() {}
	)
	if cli.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = engine.MustNewMetrics(reg)

		if stop, err = serveMetrics(cli.metricsAddr, reg, logger); err != nil {
			return nil, nil, err
		}
	}

	mesh, err := researchmesh.New(func(o *researchmesh.Options) {
		o.Config = *cfg
		o.Logger = logger
		o.Metrics = metrics
	})
	if err != nil {
		stop()
		return nil, nil, err
	}

	return mesh, stop, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics.serve.failed", "error", err)
		}
	}()
	logger.Info("metrics.serve.start", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
