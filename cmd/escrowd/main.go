package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"janus/config"
	gwconfig "janus/gateway/config"
	"janus/observability/logging"
	telemetry "janus/observability/otel"
)

const purgeInterval = 5 * time.Minute

func main() {
	var (
		cfgPath     string
		gatewayPath string
		envFile     string
	)
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to the engine configuration")
	flag.StringVar(&gatewayPath, "gateway-config", "", "path to the gateway configuration (overrides GatewayConfig)")
	flag.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before configuration")
	flag.Parse()

	if err := loadEnvFile(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv("JANUS_ENV"))
	if env == "" {
		env = cfg.Logging.Env
	}
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "escrowd",
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	if gatewayPath == "" {
		gatewayPath = cfg.GatewayConfig
	}
	gw, err := gwconfig.Load(gatewayPath)
	if err != nil {
		logger.Error("load gateway config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(gw.Observability.ServiceName, env, gw.Observability.Metrics, gw.Observability.Tracing))
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	if err := run(ctx, cfg, gw, logger); err != nil {
		logger.Error("escrowd stopped", "error", err)
		os.Exit(1)
	}
}

// loadEnvFile applies a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// run serves the gateway until ctx is cancelled, then drains in-flight
// requests within the configured shutdown timeout.
func run(ctx context.Context, cfg *config.Config, gw gwconfig.Config, logger *slog.Logger) error {
	svc, err := newService(ctx, cfg, gw, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close service", "error", err)
		}
	}()

	handler := svc.handler
	if gw.Observability.Tracing {
		handler = otelhttp.NewHandler(handler, "escrowd")
	}
	// WriteTimeout stays unset: event streams are long-lived and carry their
	// own per-frame deadline.
	server := &http.Server{
		Addr:        gw.ListenAddress,
		Handler:     handler,
		ReadTimeout: gw.ReadTimeout,
		IdleTimeout: gw.IdleTimeout,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	listener, err := net.Listen("tcp", gw.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("listening", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gw.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
			return server.Close()
		}
		return nil
	})
	group.Go(func() error {
		return svc.purgeIdempotency(gctx, purgeInterval)
	})
	return group.Wait()
}
