package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/cleanup"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/config"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/events"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/handlers"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/queue"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/storage"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/transcription"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logs go to stdout and to the in-memory buffer served on /logs
	logBuffer := handlers.NewLogBuffer(1000)
	out := io.MultiWriter(os.Stdout, logBuffer)
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Storage.TempDir, cfg.Storage.OutputDir} {
		if err := cleanup.EnsureDirExists(dir); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	logger.Info("initializing components")

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	uploads, err := storage.NewUploadStore(cfg.Storage.UploadDir, logger)
	if err != nil {
		return err
	}

	engine, err := transcription.NewWhisperTranscriber(transcription.WhisperOptions{
		Command:  cfg.Whisper.Command,
		Args:     cfg.Whisper.Args,
		Model:    cfg.Whisper.Model,
		Device:   cfg.Whisper.Device,
		Threads:  cfg.Whisper.Threads,
		Language: cfg.Whisper.Language,
		TempDir:  cfg.Storage.TempDir,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize whisper: %w", err)
	}

	opts := []queue.ProcessorOption{queue.WithExporters(buildExporters(ctx, cfg, logger)...)}

	var notifier queue.Notifier
	if cfg.Redis.Enabled {
		client, err := events.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis not available, status events disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer client.Close()
			notifier = events.NewRedisPublisher(client, events.RedisOptions{
				Channel:   cfg.Redis.Channel,
				KeyPrefix: cfg.Redis.KeyPrefix,
				TTL:       cfg.Redis.StatusTTL,
			}, logger)
			opts = append(opts, queue.WithNotifier(notifier))
			logger.Info("redis status events enabled", "addr", cfg.Redis.Addr)
		}
	}

	policy := queue.RetryPolicy{MaxRetries: cfg.Retry.MaxRetries, Delays: cfg.Retry.Delays}
	processor := queue.NewProcessor(store, engine, policy, logger, opts...)
	pool := queue.NewWorkerPool(processor, cfg.Workers.Count, logger)
	service := queue.NewService(store, pool, uploads, logger)
	if notifier != nil {
		service.SetNotifier(notifier)
	}

	// The pool outlives the signal context so running jobs can finish
	// within the shutdown timeout.
	pool.Start(context.Background())

	if _, err := service.Recover(ctx); err != nil {
		return fmt.Errorf("recover unfinished jobs: %w", err)
	}

	scheduler := cleanup.NewScheduler(
		cfg.Storage.TempDir,
		cfg.Storage.UploadDir,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.MaxAgeHours)*time.Hour,
		store,
		logger,
	)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	youtube := handlers.NewYouTubeHandler(ctx, service, uploads, logger)
	app := handlers.NewApp(cfg.Limits.MaxFileSizeMB, handlers.Routes{
		Upload:    handlers.NewUploadHandler(service, uploads, cfg.Limits.MaxFileSizeMB, logger),
		Jobs:      handlers.NewJobsHandler(service),
		Stream:    handlers.NewStreamHandler(service, uploads, cfg.Limits.MaxFileSizeMB, logger),
		GDrive:    handlers.NewGDriveHandler(service, uploads, cfg.Limits.MaxFileSizeMB, logger),
		YouTube:   youtube,
		Logs:      logBuffer,
		AccessLog: out,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Addr(), "workers", cfg.Workers.Count, "storage", cfg.Storage.Driver)
		return app.Listen(cfg.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		youtube.Wait()
		if err := pool.Stop(shutdownCtx); err != nil {
			logger.Warn("worker pool did not drain in time", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.JobStore, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := storage.NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres store: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewSQLiteStore(cfg.Storage.Database)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite store: %w", err)
		}
		return store, nil
	}
}

// buildExporters returns the transcript exporters that are configured and
// reachable. Unavailable optional exporters are logged and skipped.
func buildExporters(ctx context.Context, cfg *config.Config, logger *slog.Logger) []queue.Exporter {
	var exporters []queue.Exporter

	if cfg.Storage.ExportLocal {
		exporters = append(exporters, storage.NewLocalExporter(cfg.Storage.OutputDir))
	}

	if cfg.GoogleDrive.Enabled {
		drive, err := storage.NewDriveExporter(ctx,
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		switch {
		case errors.Is(err, storage.ErrNoDriveToken):
			logger.Warn("google drive not authorized, run: transcribe -drive-auth", "token_file", cfg.GoogleDrive.TokenFile)
		case err != nil:
			logger.Warn("google drive not available", "error", err)
		default:
			exporters = append(exporters, drive)
			logger.Info("google drive export enabled", "folder", cfg.GoogleDrive.FolderName)
		}
	}

	if cfg.MinIO.Enabled {
		minio, err := storage.NewMinIOExporter(ctx, storage.MinIOOptions{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Region:    cfg.MinIO.Region,
			UseSSL:    cfg.MinIO.UseSSL,
			Prefix:    cfg.MinIO.Prefix,
		})
		if err != nil {
			logger.Warn("minio not available", "endpoint", cfg.MinIO.Endpoint, "error", err)
		} else {
			exporters = append(exporters, minio)
			logger.Info("minio export enabled", "bucket", cfg.MinIO.Bucket)
		}
	}

	return exporters
}
