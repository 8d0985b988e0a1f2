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
	"strings"
	"syscall"
	"time"

	"github.com/tendant/simple-invalidation/pkg/invalidation/api"
	"github.com/tendant/simple-invalidation/pkg/invalidation/config"
)

func main() {
	configFile := flag.String("config", "", "Optional YAML, JSON, TOML or .env config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output())
		config.Usage(flag.CommandLine.Output())
	}
	flag.Parse()

	// Load configuration: defaults, then file, then environment
	serverConfig, err := config.Load(config.WithFile(*configFile), config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := serverConfig.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(serverConfig, logger); err != nil {
		logger.Error("Server stopped", "err", err)
		os.Exit(1)
	}
}

func run(serverConfig *config.ServerConfig, logger *slog.Logger) error {
	ctx := context.Background()

	components, err := serverConfig.Build(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	defer components.Close()

	opts := []api.HandlerOption{
		api.WithLogger(logger),
		api.WithCORSOrigins(serverConfig.CORSOrigins),
	}
	if components.Metrics != nil {
		opts = append(opts,
			api.WithMetricsHandler(components.Metrics.Handler()),
			api.WithLoginObserver(components.Metrics),
		)
	}
	handler := api.NewHandler(components.Service, components.Gate, opts...)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Provider calls are bounded by the pipeline timeout, plus a fallback attempt
		WriteTimeout: 2*serverConfig.ProviderTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if serverConfig.Environment == "production" && serverConfig.Primary.Type == config.ProviderMemory {
		logger.Warn("Running in production with the simulated provider; invalidations are only logged")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Invalidation portal starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"primary", serverConfig.Primary.Type,
			"secondary", serverConfig.Secondary.Type,
			"fallback", serverConfig.EnableFallback,
			"audit_log", auditLogKind(serverConfig.AuditLogURL))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-quit:
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}

// auditLogKind hides credentials in database URLs when logging
func auditLogKind(url string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(url, prefix) {
			return "postgres"
		}
	}
	return url
}
