package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/bertona88/wofi/internal/config"
	"github.com/bertona88/wofi/internal/ingest"
	"github.com/bertona88/wofi/internal/ledger"
	"github.com/bertona88/wofi/internal/metrics"
	"github.com/bertona88/wofi/internal/objstore"
	"github.com/bertona88/wofi/internal/query"
	"github.com/bertona88/wofi/internal/store"
)

// app holds the components a command runs against. Everything is opened
// from the resolved config and released by close.
type app struct {
	cfg      config.Config
	store    *store.Store
	registry *prometheus.Registry
	metrics  *metrics.Recorder
	logger   *slog.Logger
	closers  []func() error
}

// openApp loads the config and opens the database.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := slog.Default()
	logger.Debug("opening database", "dialect", store.DialectFor(cfg.DatabaseURL))
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		store:    st,
		registry: registry,
		metrics:  metrics.New(registry),
		logger:   logger,
	}
	a.closers = append(a.closers, st.Close)
	return a, nil
}

// close releases everything in reverse order of opening.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("error closing resource", "error", err)
		}
	}
}

func (a *app) ingester() *ingest.Ingester {
	return ingest.New(a.store,
		ingest.WithAllowUnsigned(a.cfg.AllowUnsigned),
		ingest.WithLogger(a.logger),
		ingest.WithMetrics(a.metrics),
	)
}

func (a *app) queryEngine() *query.Engine {
	return query.New(a.store, query.WithLogger(a.logger))
}

func (a *app) ledgerClient() *ledger.Client {
	return ledger.New(a.cfg.Ledger.GatewayURL, ledger.WithLogger(a.logger))
}

// ledgerCache returns the configured content id to tx id cache.
func (a *app) ledgerCache() (ledger.Cache, error) {
	if a.cfg.Ledger.Cache != "redis" {
		return ledger.NewMemoryCache(), nil
	}
	cache, err := ledger.NewRedisCache(a.cfg.Ledger.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cache.Close)
	return cache, nil
}

// objectStore opens the configured blob store backend.
func (a *app) objectStore(ctx context.Context) (objstore.ObjectStore, error) {
	opts := []objstore.Option{
		objstore.WithAllowUnsigned(a.cfg.AllowUnsigned),
		objstore.WithLogger(a.logger),
		objstore.WithMetrics(a.metrics),
	}

	switch a.cfg.ObjectStore.Backend {
	case objstore.BackendS3:
		s3, err := objstore.OpenS3Store(ctx, objstore.S3Config{
			Endpoint:  a.cfg.ObjectStore.S3Endpoint,
			Bucket:    a.cfg.ObjectStore.S3Bucket,
			AccessKey: a.cfg.ObjectStore.S3AccessKey,
			SecretKey: a.cfg.ObjectStore.S3SecretKey,
			UseSSL:    a.cfg.ObjectStore.S3UseSSL,
		}, opts...)
		if err != nil {
			return nil, err
		}
		return s3, nil
	case objstore.BackendLedger:
		cache, err := a.ledgerCache()
		if err != nil {
			return nil, err
		}
		// No uploader is configured from the CLI, so the ledger backend is
		// read-only here.
		return objstore.NewLedgerStore(a.ledgerClient(), nil, cache, opts...), nil
	default:
		if err := os.MkdirAll(a.cfg.ObjectStore.DevDir, 0o755); err != nil {
			return nil, fmt.Errorf("create dev store dir: %w", err)
		}
		dev, err := objstore.OpenDevStore(a.cfg.ObjectStore.DevDir, opts...)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, dev.Close)
		return dev, nil
	}
}

// serveMetrics exposes the registry on addr until ctx is done. An empty
// addr disables it.
func (a *app) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.logger.Info("serving metrics", "addr", addr, "path", "/metrics")
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM. Call stop when the command returns.
func signalContext(cmd *cobra.Command) (ctx context.Context, stop func()) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// commandContext returns the command's context or a background one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
