// Command workspaced serves the workspace mutation engine over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/studyroomhq/workspace-kit/config"
	"github.com/studyroomhq/workspace-kit/dispatch"
	"github.com/studyroomhq/workspace-kit/logging"
	"github.com/studyroomhq/workspace-kit/server"
	"github.com/studyroomhq/workspace-kit/storage/memory"
	"github.com/studyroomhq/workspace-kit/storage/postgres"
	"github.com/studyroomhq/workspace-kit/storage/publish"
	"github.com/studyroomhq/workspace-kit/storage/sqlite"
	"github.com/studyroomhq/workspace-kit/transport/sse"
	"github.com/studyroomhq/workspace-kit/workspace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "workspaced:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(cfg.Logging.Resolve())
	logger := logging.WithComponent(logging.Component("workspaced"))

	backend, err := openStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	defer backend.Close()

	broker := sse.NewBroker()
	store := publish.Wrap(backend, broker)

	dispatcher := dispatch.New(store, dispatch.AllowAll{},
		dispatch.WithMaxRetries(cfg.Dispatch.MaxRetries),
		dispatch.WithLogger(logging.WithComponent(logging.Component("dispatch"))),
	)
	srv := server.New(dispatcher, store,
		server.WithStream(sse.NewStream(broker, store)),
	)

	// No WriteTimeout: the event stream endpoint holds connections open
	// indefinitely.
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("backend", cfg.Storage.Backend),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(cfg config.StorageConfig) (workspace.EventStore, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.NewWithDataSource(cfg.DSN)
	case "postgres":
		return postgres.NewWithDataSource(cfg.DSN)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
