package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/storefront/api/internal/di"
	"github.com/storefront/api/internal/handlers"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/secrets"
	"github.com/storefront/api/internal/repositories"
)

const secretHealthReference = "secret://system/healthz?version=latest"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	level, _, err := config.Lookup("API_LOG_LEVEL")
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithBuildInfo(buildInfo(startedAt)),
		di.WithProbes(secretManagerProbe(fetcher)),
	)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         net.JoinHostPort("", cfg.Server.Port),
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	if container.Scheduler != nil {
		container.Scheduler.Start()
		logger.Info("background jobs started", zap.Int("jobs", container.Scheduler.Entries()))
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server",
			zap.String("addr", server.Addr),
			zap.String("storage", cfg.Storage.Backend),
			zap.String("events", cfg.Events.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func buildInfo(started time.Time) handlers.BuildInfo {
	version := lookupTrimmed("API_BUILD_VERSION")
	if version == "" {
		version = "dev"
	}
	commit := lookupTrimmed("API_BUILD_COMMIT_SHA")
	if commit == "" {
		commit = "unknown"
	}
	environment := lookupTrimmed("API_ENVIRONMENT")
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func lookupTrimmed(key string) string {
	value, _, err := config.Lookup(key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

// The fetcher is built before config.Load so Load can resolve secret:// references with it.
func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project := lookupTrimmed("API_SECRETS_PROJECT_ID")
	if project == "" {
		project = lookupTrimmed("API_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if path := lookupTrimmed("API_SECRETS_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if raw := lookupTrimmed("API_SECRETS_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("API_SECRETS_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if file := lookupTrimmed("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the process refuses to start without. The webhook
// secret is only required once webhooks are enabled in production.
func requiredSecretNames() []string {
	var required []string
	if lookupTrimmed("API_STORAGE_BACKEND") == config.BackendMongo {
		required = append(required, "Mongo.URI")
	}
	if strings.EqualFold(lookupTrimmed("API_ENVIRONMENT"), "production") {
		required = append(required, "Webhooks.PaymentSecret")
	}
	return required
}

// Secret Manager is optional for readiness: a missing health secret still proves connectivity.
func secretManagerProbe(fetcher *secrets.Fetcher) repositories.DependencyProbe {
	return repositories.DependencyProbe{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if errors.Is(err, secrets.ErrNotFound) {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}
