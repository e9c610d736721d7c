// Package main implements the entry point for the squirreld daemon.
// Squirreld hosts the MCP core: the protocol state machine with its
// message validator and handler registry, the session state manager,
// and checksummed state persistence, exposing Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/DataScienceBioLab/squirrel/config"
	"github.com/DataScienceBioLab/squirrel/message"
	"github.com/DataScienceBioLab/squirrel/metric"
	"github.com/DataScienceBioLab/squirrel/protocol"
	"github.com/DataScienceBioLab/squirrel/session"
	"github.com/DataScienceBioLab/squirrel/storage"
	"github.com/DataScienceBioLab/squirrel/storage/filestore"
	"github.com/DataScienceBioLab/squirrel/storage/natsstore"
)

const (
	Version = "0.1.0"
	appName = "squirreld"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config file (empty = defaults)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Info("starting squirreld", "version", Version, "config_path", *configPath)

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := setupStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}
	defer closeStore()

	persistence := session.NewStatePersistence(store,
		session.WithPersistenceLogger(logger),
		session.WithPersistenceMetrics(metrics))
	recovery := session.NewStateRecovery(persistence,
		session.WithRecoveryLogger(logger),
		session.WithRecoveryMetrics(metrics))
	manager := session.NewStateManager(
		session.WithManagerLogger(logger),
		session.WithManagerMetrics(metrics))

	proto, err := setupProtocol(cfg, logger, metrics, manager, persistence, recovery)
	if err != nil {
		return fmt.Errorf("setup protocol: %w", err)
	}
	if err := proto.Start(ctx); err != nil {
		return fmt.Errorf("start protocol: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           metricsMux(cfg.Metrics.Path, registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics endpoint listening",
				"address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", *shutdownTimeout)
		return proto.Stop(*shutdownTimeout)
	})

	err = g.Wait()
	logger.Info("squirreld stopped")
	return err
}

// setupStore constructs the persistence backend selected in config.
func setupStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		store, err := filestore.New(cfg.Storage.File.Root)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file storage", "root", cfg.Storage.File.Root)
		return store, func() {}, nil

	case config.BackendNATS:
		nc, err := nats.Connect(cfg.Storage.NATS.URL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS at %s: %w", cfg.Storage.NATS.URL, err)
		}
		storeCfg := natsstore.DefaultConfig()
		storeCfg.Bucket = cfg.Storage.NATS.Bucket
		storeCfg.Timeout = cfg.Storage.NATS.Timeout.Std()
		storeCfg.Replicas = cfg.Storage.NATS.Replicas
		store, err := natsstore.New(ctx, nc, storeCfg)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		logger.Info("using NATS storage",
			"url", cfg.Storage.NATS.URL, "bucket", cfg.Storage.NATS.Bucket)
		return store, nc.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// setupProtocol initializes the protocol instance and registers the
// built-in session handlers.
func setupProtocol(
	cfg *config.Config,
	logger *slog.Logger,
	metrics *metric.Metrics,
	manager *session.StateManager,
	persistence *session.StatePersistence,
	recovery *session.StateRecovery,
) (*protocol.Protocol, error) {
	version, err := protocol.ParseVersion(cfg.Protocol.Version)
	if err != nil {
		return nil, err
	}

	protoCfg := protocol.Config{
		Version:        version,
		MaxMessageSize: cfg.Protocol.MaxMessageSize,
		Timeout:        cfg.Protocol.Timeout.Std(),
		RetryCount:     cfg.Protocol.RetryCount,
	}

	proto := protocol.New(
		protocol.WithLogger(logger),
		protocol.WithMetrics(metrics))
	if err := proto.InitializeWithConfig(protoCfg); err != nil {
		return nil, err
	}

	handlers := newSessionHandlers(manager, persistence, recovery, logger)
	if err := proto.RegisterHandler(message.Command, handlers.handleCommand); err != nil {
		return nil, err
	}
	if err := proto.RegisterHandler(message.Request, handlers.handleRequest); err != nil {
		return nil, err
	}

	return proto, nil
}

func metricsMux(path string, registry *metric.MetricsRegistry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(
		registry.PrometheusRegistry(),
		promhttp.HandlerOpts{}))
	return mux
}
