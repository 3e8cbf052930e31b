// Command accelerator reads S3 objects through the block layer: it streams
// objects to stdout, reports their metadata, measures read throughput and
// prefetches Parquet columns.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/objectfs/accelerator/internal/buffer"
	"github.com/objectfs/accelerator/internal/config"
	"github.com/objectfs/accelerator/internal/metrics"
	"github.com/objectfs/accelerator/internal/storage/s3"
	"github.com/objectfs/accelerator/internal/stream"
	"github.com/objectfs/accelerator/pkg/types"
	"github.com/objectfs/accelerator/pkg/utils"
)

// CLI is the command line surface. Global flags override ACCELERATOR_*
// environment variables, which override the config file.
type CLI struct {
	Config      string `help:"YAML configuration file." type:"existingfile" env:"ACCELERATOR_CONFIG"`
	LogLevel    string `help:"Log level (debug, info, warn, error)." name:"log-level"`
	LogFormat   string `help:"Log format (text, json)." name:"log-format"`
	MetricsPort int    `help:"Serve Prometheus metrics on this port; 0 disables." name:"metrics-port"`

	Cat     CatCmd     `cmd:"" help:"Write an object, or a range of it, to stdout."`
	Stat    StatCmd    `cmd:"" help:"Print object metadata and the tail ranges prefetched on open."`
	Bench   BenchCmd   `cmd:"" help:"Measure read throughput of an object."`
	Columns ColumnsCmd `cmd:"" help:"Plan and prefetch Parquet column chunks."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("accelerator"),
		kong.Description("Block-based S3 read accelerator."),
		kong.UsageOnError(),
	)

	if err := run(kctx, &cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(kctx *kong.Context, cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	logger, err := utils.NewLogger(os.Stderr, cfg.Global.LogLevel, cfg.Global.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	client, err := s3.Load(ctx, cfg.S3, s3.WithLogger(logger))
	if err != nil {
		return err
	}

	app, err := newApp(ctx, cfg, client, os.Stdout, logger)
	if err != nil {
		_ = client.Close()
		return err
	}
	defer app.Close()

	return kctx.Run(app)
}

// loadConfig starts from defaults, applies the file, then the environment,
// then the global flags, and validates the result.
func (cli *CLI) loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if cli.Config != "" {
		if err := cfg.LoadFromFile(cli.Config); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if cli.LogLevel != "" {
		cfg.Global.LogLevel = strings.ToUpper(cli.LogLevel)
	}
	if cli.LogFormat != "" {
		cfg.Global.LogFormat = strings.ToLower(cli.LogFormat)
	}
	if cli.MetricsPort > 0 {
		cfg.Global.MetricsPort = cli.MetricsPort
		cfg.Metrics.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App is the state shared by every command.
type App struct {
	ctx     context.Context
	cfg     *config.Configuration
	client  types.ObjectClient
	factory *stream.Factory
	metrics *metrics.Collector
	buffers *buffer.BytePool
	out     io.Writer
	logger  *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Configuration, client types.ObjectClient, out io.Writer, logger *slog.Logger) (*App, error) {
	collector, err := metrics.NewCollector(cfg.Metrics, logger)
	if err != nil {
		return nil, err
	}
	if err := collector.Start(ctx, cfg.Global.MetricsPort); err != nil {
		return nil, err
	}

	factory, err := stream.NewFactory(client, cfg,
		stream.WithTelemetry(collector),
		stream.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &App{
		ctx:     ctx,
		cfg:     cfg,
		client:  client,
		factory: factory,
		metrics: collector,
		buffers: buffer.NewBytePool(),
		out:     out,
		logger:  logger,
	}, nil
}

// Close shuts the factory, the metrics server and the object client down.
func (a *App) Close() error {
	err := a.factory.Close()
	if err != nil {
		a.logger.Warn("failed to close stream factory", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if stopErr := a.metrics.Stop(ctx); stopErr != nil {
		a.logger.Warn("failed to stop metrics server", "error", stopErr)
	}

	if closeErr := a.client.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// runtimeStats is the state of the shared machinery after a command.
type runtimeStats struct {
	Factory  stream.Stats     `json:"factory"`
	Buffers  buffer.PoolStats `json:"buffers"`
	Requests *s3.RequestStats `json:"requests,omitempty"`
}

func (a *App) runtime() runtimeStats {
	rs := runtimeStats{Factory: a.factory.Stats(), Buffers: a.buffers.Stats()}
	if c, ok := a.client.(*s3.Client); ok {
		st := c.Stats()
		rs.Requests = &st
	}
	return rs
}

func (a *App) open(raw string) (*stream.Stream, error) {
	uri, err := types.ParseS3URI(raw)
	if err != nil {
		return nil, err
	}
	return a.factory.CreateStream(a.ctx, uri)
}
