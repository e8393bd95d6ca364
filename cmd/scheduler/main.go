package main

import (
	"log"

	"github.com/hibiken/asynq"

	"podcast-assembler/internal/config"
	"podcast-assembler/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.Dispatch.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})

	task, err := tasks.NewSweepTask()
	if err != nil {
		log.Fatalf("could not create task: %v", err)
	}

	if _, err := scheduler.Register(cfg.Sweeper.Schedule, task, asynq.Queue(cfg.Dispatch.QueueName)); err != nil {
		log.Fatalf("could not register task: %v", err)
	}

	log.Printf("Scheduler starting (commit: %s), sweep schedule %q", CommitSHA, cfg.Sweeper.Schedule)
	if err := scheduler.Run(); err != nil {
		log.Fatalf("could not run scheduler: %v", err)
	}
}
