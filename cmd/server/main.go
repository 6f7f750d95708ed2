package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pilab-dev/mcp-oauth/config"
	"github.com/pilab-dev/mcp-oauth/internal/auth"
	"github.com/pilab-dev/mcp-oauth/internal/metrics"
	"github.com/pilab-dev/mcp-oauth/internal/ratelimit"
	"github.com/pilab-dev/mcp-oauth/internal/server"
	"github.com/pilab-dev/mcp-oauth/internal/telemetry"
	"github.com/pilab-dev/mcp-oauth/log"
	"github.com/pilab-dev/mcp-oauth/services"
	"github.com/pilab-dev/mcp-oauth/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		zlog.Fatal().Err(err).Msg("mcp-oauth server stopped")
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := log.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	appLogger := log.NewZerologAdapter(level, cfg.LogPretty)

	ctx := context.Background()
	appLogger.Info(ctx, "Starting mcp-oauth server", log.Fields{
		"http_port":    cfg.HTTPPort,
		"http_router":  cfg.HTTPRouter,
		"issuer":       cfg.IssuerURL,
		"store_driver": cfg.StoreDriver,
		"log_level":    level.String(),
		"otel_service": cfg.OtelServiceName,
	})

	var spanOut io.Writer = io.Discard
	if cfg.TraceStdout {
		spanOut = os.Stderr
	}

	tracerProvider, err := tracing.InitTracerProvider(cfg.OtelServiceName, spanOut)
	if err != nil {
		return fmt.Errorf("failed to initialize TracerProvider: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(reg)

	meterProvider, err := telemetry.InitMeterProvider(reg)
	if err != nil {
		return err
	}

	stores, err := server.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}

	hasher := auth.NewBcryptSecretHasher(cfg.BcryptCost)

	if cfg.BootstrapClientsFile != "" {
		if err := bootstrapClients(ctx, cfg.BootstrapClientsFile, services.NewClientService(stores.Clients, hasher, appLogger)); err != nil {
			_ = stores.Close(ctx)
			return err
		}
	}

	oauthService := services.NewOAuthService(
		stores.Clients,
		stores.Authorizations,
		hasher,
		appLogger,
		services.WithAuthCodeTTL(cfg.AuthCodeTTL),
		services.WithAccessTokenTTL(cfg.AccessTokenTTL),
		services.WithDefaultScope(cfg.DefaultScope),
	)

	httpServer := server.NewHTTPServer(cfg, appLogger, server.Dependencies{
		OAuth:    oauthService,
		Limiter:  ratelimit.New(cfg.RateLimitRPM, cfg.RateLimitBurst),
		Gatherer: reg,
		Health:   stores.Ping,
	})

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, "HTTP server listening", log.Fields{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info(ctx, "Shutting down server", log.Fields{"signal": sig.String()})
	case err := <-serveErr:
		runErr = fmt.Errorf("HTTP server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
	}

	telemetry.Shutdown(shutdownCtx, meterProvider)

	if err := stores.Close(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "Store shutdown error", err)
	}

	appLogger.Info(shutdownCtx, "Server gracefully stopped")

	return runErr
}

func bootstrapClients(ctx context.Context, path string, clients *services.ClientService) error {
	entries, err := config.LoadBootstrapClients(path)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		_, err := clients.RegisterClient(ctx, entry.ClientID, entry.ClientSecret, services.CreateClientRequest{
			Name:          entry.Name,
			RedirectURIs:  entry.RedirectURIs,
			AllowedScopes: entry.AllowedScopes,
		})
		if err != nil {
			return fmt.Errorf("failed to bootstrap client %s: %w", entry.ClientID, err)
		}
	}

	zlog.Info().Int("clients", len(entries)).Str("file", path).Msg("bootstrap clients registered")

	return nil
}
