package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/resumable_downloader/internal/cleanup"
	"github.com/italolelis/resumable_downloader/internal/config"
	"github.com/italolelis/resumable_downloader/internal/downloader"
	"github.com/italolelis/resumable_downloader/internal/http/rest"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/notifier"
	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/storage/sqlite"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
	"github.com/italolelis/resumable_downloader/internal/transfer"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.New(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("resumable downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Start Downloader
	client := transfer.NewInstrumentedClient(
		transfer.NewClient(transfer.Options{ResponseHeaderTimeout: cfg.RequestTimeout}),
		tel,
		"http",
	)

	dl := downloader.New(client, downloader.Options{
		MaxParallel:      cfg.MaxParallel,
		MaxRetries:       cfg.MaxRetries,
		BackoffBase:      cfg.BackoffBase,
		BackoffMax:       cfg.BackoffMax,
		ChunkSize:        cfg.ChunkSize,
		ProgressInterval: cfg.ProgressInterval,
		TaskTimeout:      cfg.TaskTimeout,
		BandwidthLimit:   cfg.BandwidthLimit,
	},
		downloader.WithTelemetry(tel),
		downloader.WithOutcomeHook(historyHook(repo)),
		downloader.WithOutcomeHook(notificationHook(cfg)),
	)

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, dl, repo, tel)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	logger.Info("waiting for downloads...",
		"target_dir", cfg.TargetDir,
		"max_parallel", cfg.MaxParallel,
		"task_timeout", cfg.TaskTimeout.String(),
		"retention", cfg.KeepDownloadedFor.String(),
	)

	// =========================================================================
	// Start Sweeper
	if cfg.TaskTimeout > 0 {
		g.Go(func() error {
			return every(gctx, cfg.SweepInterval, func() {
				if n := dl.SweepExpired(); n > 0 {
					logger.Info("cancelled expired downloads", "count", n)
				}
			})
		})
	}

	// =========================================================================
	// Start Cleanup
	if cfg.KeepDownloadedFor > 0 {
		g.Go(func() error {
			return every(gctx, cfg.CleanupInterval, func() {
				n, err := cleanup.DeleteExpiredFiles(gctx, repo, cfg.KeepDownloadedFor, time.Now())
				if err != nil {
					logger.Error("failed to delete expired downloaded files", "err", err)
				}

				if n > 0 {
					logger.Info("deleted expired downloaded files", "count", n)
				}
			})
		})
	}

	// =========================================================================
	// Shutdown
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		var errs []error

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				errs = append(errs, fmt.Errorf("could not stop server gracefully: %w", err))
			}
		}

		if err := dl.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("could not stop downloads gracefully: %w", err))
		}

		return errors.Join(errs...)
	})

	return g.Wait()
}

// every runs fn on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

func historyHook(repo storage.DownloadWriteRepository) downloader.OutcomeHook {
	return func(ctx context.Context, o downloader.Outcome) {
		_, err := repo.RecordDownload(ctx, storage.DownloadRecord{
			TaskID:     o.TaskID,
			URL:        o.URL,
			FilePath:   o.Path,
			Status:     o.State.String(),
			Reason:     o.Reason,
			Bytes:      o.Bytes,
			FinishedAt: o.FinishedAt,
		})
		if err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to record download", "task_id", o.TaskID, "err", err)
		}
	}
}

func notificationHook(cfg *config.Config) downloader.OutcomeHook {
	if cfg.DiscordWebhookURL == "" {
		return func(context.Context, downloader.Outcome) {}
	}

	notif := notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)

	return func(ctx context.Context, o downloader.Outcome) {
		msg := notifier.DownloadMessage(o.Path, o.State.String(), o.Reason, o.Bytes)

		if err := notif.Notify(ctx, msg); err != nil {
			logctx.LoggerFromContext(ctx).Error("failed to send notification", "task_id", o.TaskID, "err", err)
		}
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	dl *downloader.Downloader,
	history storage.DownloadReadRepository,
	tel *telemetry.Telemetry,
) *http.Server {
	handler := rest.NewDownloadsHandler(dl, history, cfg.TargetDir, cfg.Web.Username, cfg.Web.Password)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
