package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/actiongate/actiongate/internal/adapter/inbound/admin"
	"github.com/actiongate/actiongate/internal/adapter/inbound/httpapi"
	"github.com/actiongate/actiongate/internal/adapter/outbound/state"
	"github.com/actiongate/actiongate/internal/config"
	"github.com/actiongate/actiongate/internal/domain/policy"
	"github.com/actiongate/actiongate/internal/service"
	"github.com/actiongate/actiongate/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the policy server",
	Long: `Start the actiongate policy server.

The server loads the policy document (creating a permissive default on
first run), serves evaluation requests on /v1/policy/evaluate, and exposes
the loopback-only admin API under /admin/api/.

Examples:
  # Start with config file settings
  actiongate serve

  # Start with a specific policy document
  actiongate --policies /var/lib/actiongate/policies.json serve

  # Start with a specific config file
  actiongate --config /path/to/actiongate.yaml serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// CLI flag wins over config file and environment.
	if policiesPath != "" {
		cfg.Policy.Path = policiesPath
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("actiongate stopped")
	return nil
}

// run wires all components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Tracing first, so every service constructor picks up the global provider.
	tp, err := telemetry.Setup(cfg.Telemetry.Tracing, "actiongate", Version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("trace provider shutdown", "error", err)
		}
	}()

	// Load or seed the policy document.
	docs := state.NewFileDocumentStore(cfg.Policy.Path, cfg.Policy.SeedChannels, logger)
	doc, err := docs.Load()
	if err != nil {
		return fmt.Errorf("failed to load policy document: %w", err)
	}
	// Save immediately to create the file if it didn't exist.
	if err := docs.Save(doc); err != nil {
		return fmt.Errorf("failed to save initial policy document: %w", err)
	}

	store := policy.NewStore()
	if err := store.ReplaceAll(doc.Config()); err != nil {
		return fmt.Errorf("policy document is invalid: %w", err)
	}
	logger.Info("policy loaded",
		"path", docs.Path(),
		"enabled", store.IsEnabled(),
		"channels", len(doc.Channels),
		"exemptions", len(doc.Exceptions),
	)

	engine := policy.NewEngine(store)
	adminService := service.NewPolicyAdminService(store, docs, logger)
	evalService := service.NewEvaluationService(engine, cfg.Evaluation.HistorySize, logger)

	// Watch the document so hand edits take effect without a restart.
	var watcher *state.DocumentWatcher
	if cfg.Policy.Watch {
		watcher = state.NewDocumentWatcher(docs, adminService.ApplyDocument, logger)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start document watcher: %w", err)
		}
		defer watcher.Wait()
	}

	// The transport registers its metrics lazily in Start, so the observer
	// resolves them through the transport at call time.
	var transport *httpapi.HTTPTransport
	adminHandler := admin.NewHandler(adminService,
		admin.WithConfig(cfg),
		admin.WithLogger(logger),
		admin.WithMutationObserver(func(op string) {
			if m := transport.Metrics(); m != nil {
				m.AdminMutationsTotal.WithLabelValues(op).Inc()
			}
		}),
	)

	healthChecker := httpapi.NewHealthChecker(adminService, evalService, watcher, Version)

	transport = httpapi.NewHTTPTransport(evalService,
		httpapi.WithAddr(cfg.Server.HTTPAddr),
		httpapi.WithLogger(logger),
		httpapi.WithAdminHandler(adminHandler.Routes()),
		httpapi.WithHealthChecker(healthChecker),
	)

	logger.Info("actiongate starting",
		"version", Version,
		"http_addr", cfg.Server.HTTPAddr,
		"policy_file", docs.Path(),
		"watch", cfg.Policy.Watch,
		"history_size", cfg.Evaluation.HistorySize,
		"tracing", cfg.Telemetry.Tracing.Enabled,
	)
	return transport.Start(ctx)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
