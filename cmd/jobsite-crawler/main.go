package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"

	"jobsite-crawler/internal/app"
	"jobsite-crawler/internal/config"
	"jobsite-crawler/internal/observability"
)

func main() {
	if err := NewMain().Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main собирает зависимости и запускает команду.
type Main struct {
	// Logger подменяется в тестах; по умолчанию строится из конфига.
	Logger *observability.Logger

	closers []func() error
}

func NewMain() *Main {
	return &Main{}
}

// Close освобождает ресурсы в обратном порядке.
func (m *Main) Close() error {
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

func (m *Main) Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli := &CLI{}
	deps := &Dependencies{Stdout: stdout, Stderr: stderr}

	parser, err := kong.New(cli,
		kong.Name("jobsite-crawler"),
		kong.Description("Configurable multi-site job listing crawler."),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
		kong.Bind(deps),
	)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return fmt.Errorf("no command specified. Run 'jobsite-crawler --help' to see available commands")
	}
	switch args[0] {
	case "help", "--help", "-h":
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer m.Close()

	logger := m.Logger
	if logger == nil {
		logger = observability.NewLogger(cfg.Observability.LogPath, cfg.Observability.LogLevel)
		m.closers = append(m.closers, logger.Close)
	}

	ctx, cancel := app.GracefulShutdown(ctx, logger, 0)
	defer cancel()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	if cfg.Observability.MetricsAddr != "" && kongCtx.Command() == "run" {
		m.serveMetrics(cfg.Observability.MetricsAddr, metrics, logger)
	}

	manager, err := m.buildManager(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}

	deps.Ctx = ctx
	deps.Config = cfg
	deps.Logger = logger
	deps.Manager = manager

	return kongCtx.Run(deps)
}

func (m *Main) buildManager(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*app.Manager, error) {
	repo, err := app.OpenRepository(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage %q: %w", cfg.Storage.Driver, err)
	}
	m.closers = append(m.closers, repo.Close)

	locker, closeLocker, err := app.OpenLocker(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock backend: %w", err)
	}
	m.closers = append(m.closers, closeLocker)

	fetchers, err := app.NewFetchers(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	m.closers = append(m.closers, fetchers.Close)

	return app.NewManager(cfg, repo, fetchers.Build,
		app.WithLogger(logger),
		app.WithMetrics(metrics),
		app.WithLocker(locker),
	), nil
}

func (m *Main) serveMetrics(addr string, metrics *observability.Metrics, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err.Error())
		}
	}()

	m.closers = append(m.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}
