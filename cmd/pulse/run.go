package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/pulse/config"
	"github.com/orchestra-mcp/pulse/src/aggregator"
	"github.com/orchestra-mcp/pulse/src/api"
	"github.com/orchestra-mcp/pulse/src/clock"
	perrors "github.com/orchestra-mcp/pulse/src/errors"
	"github.com/orchestra-mcp/pulse/src/logging"
	"github.com/orchestra-mcp/pulse/src/metrics"
	"github.com/orchestra-mcp/pulse/src/service"
	"github.com/orchestra-mcp/pulse/src/status"
	"github.com/orchestra-mcp/pulse/src/store"
	"github.com/orchestra-mcp/pulse/src/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Command-specific flags
var (
	runConfigFlag  string
	runEntityFlags []string
	runNoAutoWatch bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the stream and serve telemetry",
	Long: `Open the shared stream connection, aggregate telemetry per entity and
serve snapshots, series and fleet averages over HTTP.

Sending SIGCONT after the process was stopped reconnects immediately
instead of waiting for the reconnect backoff.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPulse(cmd.Context(), runConfigFlag, runEntityFlags, runNoAutoWatch)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "Path to config file")
	runCmd.Flags().StringSliceVarP(&runEntityFlags, "entity", "e", nil, "Entity to watch (repeatable)")
	runCmd.Flags().BoolVar(&runNoAutoWatch, "no-auto-watch", false, "Only aggregate explicitly watched entities")
}

func runPulse(ctx context.Context, configPath string, entities []string, noAutoWatch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Aggregator.Entities = append(cfg.Aggregator.Entities, entities...)
	if noAutoWatch {
		cfg.Aggregator.AutoWatch = false
	}

	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(reg)

	st := status.New(cfg.Stream.StatusLogSize, clock.Real{}, logger)
	provider := stream.NewProvider(func() *stream.Manager {
		return stream.New(cfg.StreamOptions(), stream.NewWebsocketDialer(cfg.Stream.DialTimeout), st, logger,
			stream.WithMetrics(collector))
	})
	defer provider.Shutdown()
	manager := provider.GetOrCreate()

	svc := service.New(service.Options{
		Aggregator: aggregator.Options{
			Capacity:     cfg.Aggregator.SeriesCapacity,
			PersistEvery: cfg.Aggregator.SeriesPersistEvery,
			Fields:       cfg.Aggregator.Fields,
		},
		Debounce:  cfg.Fleet.Debounce,
		AutoWatch: cfg.Aggregator.AutoWatch,
		Entities:  cfg.Aggregator.Entities,
		Metrics:   collector,
	}, manager, kv, logger)
	svc.Start()
	defer svc.Close()

	logger.Info().
		Str("endpoint", cfg.StreamEndpoint()).
		Str("store", cfg.Store.Driver).
		Strs("entities", cfg.Aggregator.Entities).
		Bool("auto_watch", cfg.Aggregator.AutoWatch).
		Msg("pulse started")

	if len(visibilitySignals) > 0 {
		visible := make(chan os.Signal, 1)
		signal.Notify(visible, visibilitySignals...)
		defer signal.Stop(visible)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-visible:
					logger.Debug().Msg("resumed; reconnecting if needed")
					manager.OnVisible()
				}
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.HTTP.Listen != "" {
		app := fiber.New(fiber.Config{AppName: "pulse"})
		api.New(svc, version).RegisterRoutes(app)
		serve(g, gctx, app, cfg.HTTP.Listen, "http", logger)
	}
	if cfg.Metrics.Listen != "" {
		app := fiber.New(fiber.Config{AppName: "pulse-metrics"})
		api.RegisterMetrics(app, reg)
		serve(g, gctx, app, cfg.Metrics.Listen, "metrics", logger)
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("shutting down")
	return err
}

// serve runs app on addr until ctx is done.
func serve(g *errgroup.Group, ctx context.Context, app *fiber.App, addr, name string, logger zerolog.Logger) {
	g.Go(func() error {
		logger.Info().Str("listener", name).Str("addr", addr).Msg("listening")
		if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			return perrors.Wrap(err, perrors.ErrTransport, "cannot listen on "+addr)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
}
