package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"podcast-assembler/internal/app"
	"podcast-assembler/internal/config"
	"podcast-assembler/internal/logging"
	"podcast-assembler/internal/worker"
	"podcast-assembler/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.Dispatch.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}

	// The worker only needs the sweeper; callbacks go back over HTTP.
	cfg.Dispatch.DryRun = true
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("could not start: %v", err)
	}
	defer a.Close()

	retryDelay := func(n int, err error, task *asynq.Task) time.Duration {
		// Exponential backoff: 30s, 1m, 2m, 4m, ... capped at 30m.
		delay := 30 * time.Second
		maxDelay := 30 * time.Minute
		for i := 0; i < n; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
		logger.Warn("task failed, retrying", "type", task.Type(), "attempt", n+1, "delay", delay, "error", err)
		return delay
	}

	// A finalize callback holds its slot while it waits on chunk callbacks,
	// so chunks get a server of their own that finalize tasks never occupy.
	finalizeSrv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Dispatch.FinalizeConcurrency,
		Queues: map[string]int{
			cfg.Dispatch.QueueName: 2,
			"default":              1,
		},
		RetryDelayFunc: retryDelay,
	})
	chunkSrv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    cfg.Dispatch.ChunkConcurrency,
		Queues:         map[string]int{cfg.Dispatch.ChunkQueueName: 1},
		RetryDelayFunc: retryDelay,
	})

	mux := asynq.NewServeMux()
	handler := worker.NewTaskHandler(&http.Client{Timeout: cfg.Dispatch.TaskTimeout}, a.Sweeper, logger)
	mux.HandleFunc(tasks.TypeHTTPCallback, handler.HandleCallbackTask)
	mux.HandleFunc(tasks.TypeSweepSources, handler.HandleSweepTask)

	log.Printf("Worker starting (commit: %s, finalize slots: %d, chunk slots: %d)",
		CommitSHA, cfg.Dispatch.FinalizeConcurrency, cfg.Dispatch.ChunkConcurrency)
	if err := chunkSrv.Start(mux); err != nil {
		log.Fatalf("could not start chunk server: %v", err)
	}
	if err := finalizeSrv.Start(mux); err != nil {
		chunkSrv.Shutdown()
		log.Fatalf("could not start finalize server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down worker")
	finalizeSrv.Shutdown()
	chunkSrv.Shutdown()
}
