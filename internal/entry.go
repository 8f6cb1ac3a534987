// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ankiport/internal/api"
	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/importer"
	"github.com/starford/ankiport/internal/importservice"
	"github.com/starford/ankiport/internal/inbox"
	"github.com/starford/ankiport/internal/jobs"
	"github.com/starford/ankiport/internal/mcpserver"
	"github.com/starford/ankiport/internal/media"
	"github.com/starford/ankiport/internal/sse"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{output: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger installs a structured JSON logger writing to w as the default logger.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openDestination opens the configured collection and its media folder, creating an
// empty collection when the file does not exist yet.
func openDestination(cfg *Config, logger *slog.Logger) (*collection.Collection, *media.Store, error) {
	path := cfg.Collection.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create collection dir: %w", err)
	}

	var col *collection.Collection
	var err error
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		logger.Info("Creating empty collection", slog.String("path", path))
		col, err = collection.Create(path, time.Now())
	} else {
		col, err = collection.Open(path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open collection: %w", err)
	}

	store, err := media.Open(cfg.Collection.MediaDirPath(), cfg.Collection.MediaDBPath())
	if err != nil {
		col.Close()
		return nil, nil, fmt.Errorf("open media: %w", err)
	}
	return col, store, nil
}

// newQueue builds the serial import queue over the destination.
func newQueue(cfg *Config, col *collection.Collection, store *media.Store, logger *slog.Logger, opts ...jobs.Option) *jobs.Queue {
	runner := jobs.ImportRunner{
		Collection: col,
		Media:      store,
		Options:    cfg.Import.Options(logger),
	}
	opts = append([]jobs.Option{
		jobs.WithLogger(logger),
		jobs.WithCapacity(cfg.Import.QueueCapacity),
		jobs.WithRetain(cfg.Import.RetainJobs),
	}, opts...)
	return jobs.New(runner, opts...)
}

// Run starts the application in server mode with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("collection_path", cfg.Collection.Path),
		slog.String("media_dir", cfg.Collection.MediaDirPath()),
		slog.Bool("inbox_enabled", cfg.Inbox.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	col, store, err := openDestination(cfg, logger)
	if err != nil {
		return err
	}
	defer col.Close()
	defer store.Close()

	// SSE broker.
	broker := sse.NewBroker(250 * time.Millisecond)
	defer broker.Close()

	queue := newQueue(cfg, col, store, logger, jobs.WithNotifier(sse.JobNotifier{Broker: broker}))
	svc := importservice.NewService(queue, col, cfg.Import.SpoolDir)

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, cfg.App.HTTP.MaxUploadBytes())

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Import worker.
	g.Go(func() error {
		return queue.Run(gCtx)
	})

	// Inbox watcher.
	if cfg.Inbox.Enabled {
		g.Go(func() error {
			return inbox.Watch(gCtx, cfg.Inbox.Path, svc, logger, cfg.Inbox.Settle)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// SSE streams only end when their clients go away.
		broker.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group context so the worker and watcher stop with the server.
var errShutdown = errors.New("shutdown requested")

// RunImport imports the given files one after another into the configured collection
// and prints each import log. It returns an error when any import failed.
func RunImport(ctx context.Context, paths []string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, os.Stderr)

	col, store, err := openDestination(cfg, logger)
	if err != nil {
		return err
	}
	defer col.Close()
	defer store.Close()

	var failed []string
	for _, path := range paths {
		kind, err := jobs.KindFor(path)
		if err != nil {
			return err
		}
		im := importer.New(col, store, cfg.Import.Options(logger)...)

		var res *importer.Result
		switch kind {
		case jobs.KindPackage:
			res, err = im.ImportPackage(ctx, path)
		default:
			res, err = im.ImportCollection(ctx, path)
		}

		fmt.Fprintf(app.output, "== %s\n", filepath.Base(path))
		if res != nil {
			for _, line := range res.Log {
				fmt.Fprintln(app.output, line)
			}
		}
		if err != nil {
			fmt.Fprintf(app.output, "error: %v\n", err)
			failed = append(failed, filepath.Base(path))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d imports failed: %v", len(failed), len(paths), failed)
	}
	return nil
}

// RunMCP serves the import tools over stdio until stdin closes or ctx is cancelled.
// Logs go to stderr since stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(cfg, os.Stderr)

	col, store, err := openDestination(cfg, logger)
	if err != nil {
		return err
	}
	defer col.Close()
	defer store.Close()

	queue := newQueue(cfg, col, store, logger)
	svc := importservice.NewService(queue, col, cfg.Import.SpoolDir)
	srv := mcpserver.New(svc)

	workerCtx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(workerCtx)
	g.Go(func() error {
		return queue.Run(gCtx)
	})
	g.Go(func() error {
		defer cancel()
		logger.Info("MCP server listening on stdio")
		return srv.ServeStdio()
	})
	return g.Wait()
}
