// Package app builds the components shared by the server, worker and
// operator processes from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gocloud.dev/blob"

	"podcast-assembler/internal/assembly"
	"podcast-assembler/internal/audio"
	"podcast-assembler/internal/config"
	"podcast-assembler/internal/db"
	"podcast-assembler/internal/dispatch"
	"podcast-assembler/internal/episode"
	"podcast-assembler/internal/storage"
	"podcast-assembler/internal/sweeper"
	"podcast-assembler/pkg/tasks"
)

type App struct {
	Config     config.Config
	Log        *slog.Logger
	Registry   *prometheus.Registry
	DB         *sqlx.DB
	Store      *db.Store
	Bucket     *blob.Bucket
	Resolver   *storage.Resolver
	Queue      *asynq.Client
	Dispatcher *dispatch.Dispatcher
	Machine    *episode.Machine
	Assembly   *assembly.Service
	Sweeper    *sweeper.Sweeper
}

// New connects to the database, the durable bucket and the queue and wires
// the pipeline. A missing bucket or queue is logged, not fatal: the storage
// resolver and dispatcher report those conditions on use.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logger, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = conn
	a.Store = db.NewStore(conn)
	if err := a.Store.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var scheme string
	if cfg.Storage.DurableBucketURL != "" {
		a.Bucket, scheme, err = storage.OpenBucket(ctx, cfg.Storage.DurableBucketURL)
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Warn("STORAGE_DURABLE_BUCKET_URL is not set, durable storage disabled")
	}
	a.Resolver = storage.New(a.Bucket, storage.Options{
		Scheme:             scheme,
		BucketName:         cfg.Storage.DurableBucketName,
		EphemeralDir:       cfg.Storage.EphemeralDir,
		EphemeralBaseURL:   cfg.Storage.EphemeralBaseURL,
		SignedURLTTL:       cfg.Storage.SignedURLTTL,
		PureAudioWindow:    cfg.Storage.PureAudioWindow,
		AllowEphemeralOnly: cfg.Storage.AllowEphemeralOnly && !cfg.Production(),
		LocalBucketDir:     cfg.Storage.LocalBucketDir,
		CacheSize:          cfg.Storage.SignedURLCacheSize,
	}, logger)

	var queue tasks.TaskEnqueuer
	if !cfg.Dispatch.DryRun {
		client, err := dispatch.NewClient(cfg.Dispatch.RedisURL)
		if err != nil {
			logger.Error("queue client unavailable", "error", err)
		} else {
			a.Queue = client
			queue = client
		}
	}
	a.Dispatcher = dispatch.New(dispatch.Config{
		QueueName:       cfg.Dispatch.QueueName,
		ChunkQueueName:  cfg.Dispatch.ChunkQueueName,
		CallbackBaseURL: cfg.Dispatch.CallbackBaseURL,
		AuthToken:       cfg.Dispatch.AuthToken,
		DryRun:          cfg.Dispatch.DryRun,
		MaxRetry:        cfg.Dispatch.MaxRetry,
		Timeout:         cfg.Dispatch.TaskTimeout,
	}, queue, logger, a.Registry)

	a.Machine = episode.NewMachine(a.Store, a.Resolver, logger)
	orch := assembly.New(assembly.Config{
		ChunkThreshold:    cfg.Assembly.ChunkThreshold,
		ChunkLength:       cfg.Assembly.ChunkLength,
		ChunkTimeout:      cfg.Assembly.ChunkTimeout,
		TotalTimeout:      cfg.Assembly.TotalTimeout,
		PollInterval:      cfg.Assembly.PollInterval,
		DurationTolerance: cfg.Assembly.DurationTolerance,
		WorkDir:           cfg.Assembly.WorkDir,
		InlineFallback:    cfg.Assembly.InlineFallback,
	}, &audio.FFmpeg{FFmpegPath: cfg.Assembly.FFmpegPath, FFprobePath: cfg.Assembly.FFprobePath},
		a.Resolver, a.Dispatcher, a.Store, nil, logger)
	a.Assembly = assembly.NewService(a.Machine, orch, logger)
	a.Sweeper = sweeper.New(a.Store, a.Resolver, cfg.Sweeper.MinAge, logger, a.Registry)
	return a, nil
}

// Close releases every connection New opened.
func (a *App) Close() error {
	var errs []error
	if a.Resolver != nil {
		errs = append(errs, a.Resolver.Close())
	}
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Bucket != nil {
		errs = append(errs, a.Bucket.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
