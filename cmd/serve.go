package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pocketdesk/mailgate/internal/config"
	"github.com/pocketdesk/mailgate/internal/credential"
	"github.com/pocketdesk/mailgate/internal/gateway"
	"github.com/pocketdesk/mailgate/internal/instrumentation"
	"github.com/pocketdesk/mailgate/internal/logging"
	"github.com/pocketdesk/mailgate/internal/provider"
	"github.com/pocketdesk/mailgate/internal/server"
	"github.com/pocketdesk/mailgate/internal/storage"
	"github.com/pocketdesk/mailgate/internal/tools/mailbox_tools"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway as an MCP server over stdio",
		Long: `Starts the mailbox gateway: an MCP server on stdio for the
assistant surface, plus an HTTP sidecar serving Prometheus metrics and
health probes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (optional; MAILGATE_* env vars also apply)")

	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.Setup(parseLogLevel(cfg.LogLevel), cfg.LogFormat)
	logger := slog.Default()

	creds, err := credential.NewSQLiteStore(cfg.CredentialDBPath)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer func() {
		if err := creds.Close(); err != nil {
			logger.Error("closing credential store", logging.Err(err))
		}
	}()

	blobs, err := storage.NewStore(cfg.BlobRoot, []byte(cfg.URLSigningSecret), cfg.SignedURLBase)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	lifecycle := credential.NewLifecycle(creds, credential.LifecycleConfig{
		ClientID:      cfg.OAuthClientID,
		ClientSecret:  cfg.OAuthClientSecret,
		TokenEndpoint: cfg.TokenEndpoint,
	}, logger)

	metrics := instrumentation.NewMetrics(prometheus.DefaultRegisterer)

	factory := func(ctx context.Context, cred credential.Credential, refresher provider.TokenRefresher) (gateway.Provider, error) {
		return provider.NewClient(ctx, cred.AccessToken, refresher, cfg.ProviderTimeout, logger)
	}

	gw := gateway.New(creds, lifecycle, factory, blobs, gateway.Options{
		AttachmentParallel: cfg.AttachmentParallel,
		MaxAttachmentSize:  int64(cfg.MaxAttachmentSizeMB) * 1024 * 1024,
		SignedURLTTL:       cfg.SignedURLTTL,
		Metrics:            metrics,
		Logger:             logger,
	})

	invoker := gateway.NewInvoker(cfg.MaxRetries, logger)

	health := server.NewHealthChecker(
		server.DependencyCheck{Name: "credentials", Check: creds.Ping},
		server.DependencyCheck{Name: "blobs", Check: func(ctx context.Context) error {
			return blobs.WritableCheck()
		}},
	)

	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled {
		metricsServer = server.NewMetricsServer(cfg.MetricsAddr, health, logger)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", logging.Err(err))
			}
		}()
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		health.SetReady(false)
		if metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Error("metrics server shutdown", logging.Err(err))
			}
		}
	}()

	mcpSrv := mcpserver.NewMCPServer("mailgate", version,
		mcpserver.WithToolCapabilities(true),
	)

	if err := mailbox_tools.RegisterMailboxTools(mcpSrv, gw, invoker); err != nil {
		return fmt.Errorf("failed to register mailbox tools: %w", err)
	}

	logger.Info("starting MCP server on stdio",
		slog.String("version", version),
		slog.Int("attachment_parallel", cfg.AttachmentParallel),
		slog.Duration("signed_url_ttl", cfg.SignedURLTTL))

	if err := mcpserver.ServeStdio(mcpSrv); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// parseLogLevel maps a config string to a slog level, defaulting to info.
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
