package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/aleksaelezovic/worlds/internal/config"
	"github.com/aleksaelezovic/worlds/internal/opentelemetry"
	"github.com/aleksaelezovic/worlds/pkg/world"
)

type ServeCmd struct {
	Addr      string `arg:"--addr,env:WORLDS_ADDR" help:"listen address" default:"localhost:8080"`
	NoRebuild bool   `arg:"--no-rebuild" help:"skip rebuilding the search indexes at startup"`
}

type QueryCmd struct {
	World  string `arg:"positional,required" help:"world to query"`
	Query  string `arg:"positional,required" help:"SPARQL query or update"`
	Accept string `arg:"--accept" help:"result media type" default:"application/sparql-results+json"`
}

type SearchCmd struct {
	World string `arg:"positional,required"`
	Text  string `arg:"positional,required" help:"text to look for"`
	Limit int    `arg:"--limit" default:"10"`
}

type ImportCmd struct {
	World string `arg:"positional,required"`
	// - reads standard input
	File        string `arg:"positional,required" help:"file to import, - for stdin"`
	Format      string `arg:"--input-format" help:"format of the file; guessed from the extension when empty"`
	Compression string `arg:"--input-compression" help:"compression of the file"`
}

type ExportCmd struct {
	World       string `arg:"positional,required"`
	Output      string `arg:"-o,--output" help:"file to write, stdout when empty"`
	Format      string `arg:"--output-format" default:"n-quads"`
	Compression string `arg:"--output-compression" default:"none"`
}

type RebuildCmd struct{}

type WorldsArgs struct {
	// Subcommands that can be run
	Serve   *ServeCmd   `arg:"subcommand:serve" help:"serve the HTTP API"`
	Query   *QueryCmd   `arg:"subcommand:query" help:"run a SPARQL query or update against a world"`
	Search  *SearchCmd  `arg:"subcommand:search" help:"full-text search a world"`
	Import  *ImportCmd  `arg:"subcommand:import" help:"replace a world with the contents of an RDF file"`
	Export  *ExportCmd  `arg:"subcommand:export" help:"write a world as RDF"`
	Rebuild *RebuildCmd `arg:"subcommand:rebuild" help:"rebuild the search index of every world"`

	config.StorageConfig
	config.MinioConfig
	config.RateLimitConfig
	config.UsageConfig
	config.ServiceConfig
	config.TelemetryConfig

	// Identity used by the local subcommands
	Tenant string `arg:"--tenant,env:WORLDS_TENANT" help:"tenant the local subcommands act as" default:"default"`
	Plan   string `arg:"--plan,env:WORLDS_PLAN" help:"plan the local subcommands are limited by" default:"enterprise"`
}

// ToStructuredConfig converts the args to a structured config
func (a WorldsArgs) ToStructuredConfig() config.Config {
	return config.Config{
		Storage:   a.StorageConfig,
		Minio:     a.MinioConfig,
		RateLimit: a.RateLimitConfig,
		Usage:     a.UsageConfig,
		Service:   a.ServiceConfig,
		Telemetry: a.TelemetryConfig,
	}
}

type WorldsRunner struct {
	args   WorldsArgs
	parser *arg.Parser
	stdin  io.Reader
	stdout io.Writer
}

// NewWorldsRunner parses cliArgs, which exclude the program name. The
// runner is returned along with a parse error so its usage can be printed.
func NewWorldsRunner(cliArgs []string) (*WorldsRunner, error) {
	r := &WorldsRunner{stdin: os.Stdin, stdout: os.Stdout}
	parser, err := arg.NewParser(arg.Config{Program: "worlds"}, &r.args)
	if err != nil {
		return nil, err
	}
	r.parser = parser
	if err := parser.Parse(cliArgs); err != nil {
		return r, err
	}
	if parser.Subcommand() == nil {
		return r, errors.New("no subcommand provided")
	}
	return r, nil
}

func (r *WorldsRunner) Run(ctx context.Context) error {
	cfg := r.args.ToStructuredConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SetupLogging(cfg.Telemetry); err != nil {
		return err
	}

	if cfg.Telemetry.OtelEndpoint != "" {
		log.Infof("Starting opentelemetry traces and exporting to: %s", cfg.Telemetry.OtelEndpoint)
		if err := opentelemetry.InitTracer(ctx, cfg.Telemetry.OtelEndpoint); err != nil {
			return err
		}
		defer opentelemetry.Shutdown(context.WithoutCancel(ctx))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	b, err := openBackends(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.WithError(err).Error("failed to close backends")
		}
	}()

	svc, err := world.NewService(b.deps)
	if err != nil {
		return err
	}

	switch {
	case r.args.Serve != nil:
		return r.serve(ctx, svc, reg)
	case r.args.Query != nil:
		return r.query(ctx, svc)
	case r.args.Search != nil:
		return r.search(ctx, svc)
	case r.args.Import != nil:
		return r.importFile(ctx, svc)
	case r.args.Export != nil:
		return r.export(ctx, svc)
	case r.args.Rebuild != nil:
		return r.rebuild(ctx, svc)
	default:
		return fmt.Errorf("unknown worlds subcommand")
	}
}

func main() {
	runner, err := NewWorldsRunner(os.Args[1:])
	switch {
	case errors.Is(err, arg.ErrHelp):
		runner.parser.WriteHelp(os.Stdout)
		return
	case err != nil && runner != nil:
		log.Error(err)
		runner.parser.WriteUsage(os.Stderr)
		os.Exit(2)
	case err != nil:
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := runner.Run(ctx); err != nil {
		stop()
		log.Fatal(err)
	}
}
