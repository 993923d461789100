package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/roadgraph/internal/api"
	"github.com/signalsfoundry/roadgraph/internal/config"
	"github.com/signalsfoundry/roadgraph/internal/dataset"
	"github.com/signalsfoundry/roadgraph/internal/engine"
	"github.com/signalsfoundry/roadgraph/internal/logging"
	"github.com/signalsfoundry/roadgraph/internal/observability"
	"github.com/signalsfoundry/roadgraph/internal/route"
	"github.com/signalsfoundry/roadgraph/model"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "roadgraph",
		Usage:  "serve a road network graph and route through an external engine",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"ROADGRAPH_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "directory holding nodes.bin, graph.offset, graph.targets and places.bin",
			},
			&cli.StringFlag{
				Name:  "storage-strategy",
				Usage: "memory, mmap or pread",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "HTTP listen address",
					},
					&cli.StringFlag{
						Name:  "engine-binary",
						Usage: "routing engine executable",
					},
					&cli.StringFlag{
						Name:  "engine-start",
						Usage: "lazy or eager",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := resolveConfig(c)
					if err != nil {
						return err
					}
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()
					return serve(ctx, cfg, logging.New(cfg.Logging), nil)
				},
			},
			{
				Name:  "inspect",
				Usage: "load the dataset and print its summary as JSON",
				Action: func(c *cli.Context) error {
					cfg, err := resolveConfig(c)
					if err != nil {
						return err
					}
					return inspect(c.Context, cfg, logging.New(cfg.Logging), c.App.Writer)
				},
			},
		},
	}
}

// resolveConfig layers the config file, the environment and command line
// flags, then validates the result.
func resolveConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, err
	}
	override := func(dst *string, flag string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	override(&cfg.Data.Dir, "data-dir")
	override(&cfg.Data.Strategy, "storage-strategy")
	override(&cfg.Server.Listen, "listen")
	override(&cfg.Engine.Binary, "engine-binary")
	if c.IsSet("engine-start") {
		cfg.Engine.Start = engine.StartPolicy(c.String("engine-start"))
	}
	return cfg, cfg.Validate()
}

// serve runs the API until ctx ends. ready, when set, receives the bound
// API address once the listener is open.
func serve(ctx context.Context, cfg config.Config, log logging.Logger, ready func(addr string)) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return errors.Wrap(err, "init tracing")
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics, datasetMetrics, engineMetrics, err := newCollectors(cfg, reg)
	if err != nil {
		return err
	}

	loader := dataset.NewLoader(cfg.Data, log, datasetMetrics)
	defer func() {
		if err := loader.Close(); err != nil {
			log.Warn(context.Background(), "closing dataset", logging.Err(err))
		}
	}()
	loader.Start(ctx)

	eng := engine.New(cfg.Engine.Config, engine.ExecSpawner{
		Binary:  cfg.Engine.Binary,
		Args:    cfg.Engine.Args,
		DataDir: cfg.EngineDataDir(),
	}, engine.WithLogger(log), engine.WithRecorder(engineMetrics))
	if err := eng.Start(ctx); err != nil {
		log.Warn(ctx, "routing engine did not start", logging.Err(err))
	}

	routes, err := route.NewService(eng, loader,
		route.WithCacheSize(cfg.Route.CacheSize),
		route.WithCacheRecorder(datasetMetrics),
		route.WithLogger(log),
	)
	if err != nil {
		return err
	}

	opts := api.Options{
		Data:        loader,
		Routes:      routes,
		Engine:      eng,
		Logger:      log,
		Metrics:     httpMetrics,
		CORSOrigins: cfg.Server.CORSOrigins,
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		opts.MetricsPath = cfg.Metrics.Path
	}
	srv := &http.Server{
		Handler:           api.New(opts).Handler(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	lis, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.Server.Listen)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		metricsSrv = serveMetrics(cfg.Metrics, httpMetrics, log)
	}

	log.Info(ctx, "serving HTTP API", logging.String("addr", lis.Addr().String()))
	if ready != nil {
		ready(lis.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "http shutdown", logging.Err(err))
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		if err := eng.Close(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "engine shutdown", logging.Err(err))
		}
		return nil
	})
	return g.Wait()
}

func newCollectors(cfg config.Config, reg prometheus.Registerer) (*observability.HTTPCollector, *observability.DatasetCollector, *observability.EngineCollector, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil, nil, nil
	}
	httpMetrics, err := observability.NewHTTPCollector(reg)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "http metrics")
	}
	datasetMetrics, err := observability.NewDatasetCollector(reg)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "dataset metrics")
	}
	engineMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "engine metrics")
	}
	return httpMetrics, datasetMetrics, engineMetrics, nil
}

func serveMetrics(cfg config.Metrics, collector *observability.HTTPCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, collector.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", cfg.Listen))
	return srv
}

type summary struct {
	Status   dataset.Status `json:"status"`
	Strategy string         `json:"strategy"`
	Nodes    model.Stats    `json:"nodes"`
	Edges    uint32         `json:"edges"`
	Places   int            `json:"places"`
	Resolved int            `json:"placesResolved"`
	Took     string         `json:"took"`
}

// inspect loads the dataset synchronously and prints its summary.
func inspect(ctx context.Context, cfg config.Config, log logging.Logger, out io.Writer) error {
	loader := dataset.NewLoader(cfg.Data, log, nil)
	defer loader.Close()

	ds, err := loader.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load dataset")
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary{
		Status:   loader.Status(),
		Strategy: string(ds.Nodes.Strategy()),
		Nodes:    ds.Nodes.Stats(),
		Edges:    ds.Edges.EdgeCount(),
		Places:   ds.Places.Len(),
		Resolved: ds.Places.Resolved(),
		Took:     ds.Took.String(),
	})
}
