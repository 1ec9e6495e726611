package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"solfind/cmd/internal/bootstrap"
	"solfind/cmd/internal/secret"
	"solfind/config"
	"solfind/core/events"
	"solfind/gateway/auth"
	gwconfig "solfind/gateway/config"
	"solfind/gateway/middleware"
	"solfind/gateway/routes"
	"solfind/observability/logging"
	telemetry "solfind/observability/otel"
	"solfind/services/recon"
)

const serviceName = "solfind-gateway"

func main() {
	var cfgPath string
	var envFile string
	var allowInsecureFlag bool
	flag.StringVar(&cfgPath, "config", "./solfind.toml", "path to solfind configuration")
	flag.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the config")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: permit plaintext listeners outside loopback")
	flag.Parse()

	if err := loadEnvFile(envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.Configure(cfg.LoggingOptions(serviceName))
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, filepath.Dir(cfgPath), allowInsecureFlag, logger); err != nil {
		logger.Error("gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, configDir string, allowInsecure bool, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.TelemetryConfig(serviceName))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	policy, err := gwconfig.Load(resolvePath(configDir, cfg.Gateway.PolicyFile),
		gwconfig.DefaultPolicy(cfg.Gateway.RateLimitPerMin, cfg.Gateway.RateLimitBurst))
	if err != nil {
		return fmt.Errorf("load gateway policy: %w", err)
	}
	tlsConfig, err := buildTLSConfig(configDir, policy.Security)
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}
	if tlsConfig == nil && !allowInsecure && !strings.EqualFold(cfg.Logging.Env, "dev") && !isLoopbackAddress(cfg.Gateway.ListenAddress) {
		return errors.New("plaintext gateway mode is restricted to loopback listeners or the dev environment; configure TLS or pass --allow-insecure")
	}

	stream := events.NewBroadcaster(64)
	stack, err := bootstrap.Open(ctx, cfg, logger, bootstrap.Options{Emitter: stream})
	if err != nil {
		return err
	}
	defer stack.Close()

	store, closeStore, err := challengeStore(cfg.Gateway.ChallengeStoreDir)
	if err != nil {
		return err
	}
	defer closeStore()

	sessionSecret, err := secret.NewSource("gateway session secret", "SOLFIND_JWT_SECRET", cfg.Gateway.JWTSecret).Get()
	if err != nil {
		return err
	}
	authenticator, err := auth.NewAuthenticator(auth.Config{
		Secret:     []byte(sessionSecret),
		SessionTTL: cfg.SessionTTL(),
		Store:      store,
	})
	if err != nil {
		return err
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: policy.Observability.ServiceName,
		LogRequests: policy.Observability.LogRequests,
	}, logger)
	router, err := routes.New(routes.Config{
		Listings:      stack.Listings,
		Chain:         stack.Orchestrator,
		Auth:          authenticator,
		Stream:        stream,
		RateLimiter:   middleware.NewRateLimiter(policy.Limits(), logger),
		Observability: obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins: cfg.Gateway.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "If-None-Match"},
		},
		Logger:  logger,
		Verbose: cfg.Verbose(),
		Ready: func(ctx context.Context) error {
			if _, err := stack.Ledger.BlockHeight(ctx); err != nil {
				return fmt.Errorf("ledger: %w", err)
			}
			sqlDB, err := stack.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	if cfg.Recon.Enabled {
		reconciler, err := stack.Reconciler(false)
		if err != nil {
			return fmt.Errorf("configure recon: %w", err)
		}
		scheduler := recon.NewScheduler(recon.SchedulerConfig{
			Reconciler: reconciler,
			Interval:   cfg.ReconInterval(),
			RunOnStart: true,
			Logger:     logger,
		})
		go scheduler.Start(ctx)
	}

	server := &http.Server{
		Addr:         cfg.Gateway.ListenAddress,
		Handler:      router,
		ReadTimeout:  policy.ReadTimeout,
		WriteTimeout: policy.WriteTimeout,
		IdleTimeout:  policy.IdleTimeout,
		TLSConfig:    tlsConfig,
	}

	listener, err := net.Listen("tcp", cfg.Gateway.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
			listener = tls.NewListener(listener, tlsConfig)
		}
		logger.Info("gateway listening", slog.String("address", scheme+"://"+listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	return nil
}
