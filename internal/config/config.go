// Package config loads process configuration from the environment.
//
// A .env file in the working directory is loaded first when present; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Dispatch configures the task dispatcher.
type Dispatch struct {
	RedisURL        string
	QueueName       string
	ChunkQueueName  string
	CallbackBaseURL string
	AuthToken       string
	DryRun          bool
	MaxRetry        int
	TaskTimeout     time.Duration

	// FinalizeConcurrency caps the worker slots finalize callbacks may hold.
	// ChunkConcurrency slots serve only the chunk queue.
	FinalizeConcurrency int
	ChunkConcurrency    int
}

// Storage configures the durable and ephemeral stores.
type Storage struct {
	DurableBucketURL   string
	DurableBucketName  string
	EphemeralDir       string
	EphemeralBaseURL   string
	SignedURLTTL       time.Duration
	PureAudioWindow    time.Duration
	AllowEphemeralOnly bool
	LocalBucketDir     string
	SignedURLCacheSize int
}

// Assembly configures the orchestrator. The chunk threshold and timeouts are
// tuned from load tests, not derived, so they stay configurable.
type Assembly struct {
	ChunkThreshold    time.Duration
	ChunkLength       time.Duration
	ChunkTimeout      time.Duration
	TotalTimeout      time.Duration
	PollInterval      time.Duration
	DurationTolerance time.Duration
	WorkDir           string
	InlineFallback    bool
	FFmpegPath        string
	FFprobePath       string
}

// Sweeper configures the retention sweeper.
type Sweeper struct {
	MinAge   time.Duration
	Schedule string
}

// Config is the full process configuration.
type Config struct {
	Env            string
	Port           string
	BaseURL        string
	DatabaseURL    string
	LogLevel       string
	LogFormat      string
	RateLimitRPS   float64
	RateLimitBurst int

	Dispatch Dispatch
	Storage  Storage
	Assembly Assembly
	Sweeper  Sweeper
}

// Production reports whether the process runs in a production deployment.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func defaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("rate_limit_rps", 5.0)
	v.SetDefault("rate_limit_burst", 10)

	v.SetDefault("redis_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("dispatch_queue", "assembly")
	v.SetDefault("dispatch_chunk_queue", "assembly-chunks")
	v.SetDefault("worker_finalize_concurrency", 2)
	v.SetDefault("worker_chunk_concurrency", 8)
	v.SetDefault("dispatch_dry_run", false)
	v.SetDefault("dispatch_max_retry", 3)
	v.SetDefault("dispatch_task_timeout", "2h")

	v.SetDefault("storage_durable_bucket_name", "podcast-media")
	v.SetDefault("storage_ephemeral_dir", "audio")
	v.SetDefault("storage_signed_url_ttl", "1h")
	v.SetDefault("storage_pure_audio_window", "168h")
	v.SetDefault("storage_allow_ephemeral_only", false)
	v.SetDefault("storage_local_bucket_dir", "data/local-bucket")
	v.SetDefault("storage_signed_url_cache_size", 1024)

	v.SetDefault("assembly_chunk_threshold", "30m")
	v.SetDefault("assembly_chunk_length", "10m")
	v.SetDefault("assembly_chunk_timeout", "20m")
	v.SetDefault("assembly_total_timeout", "90m")
	v.SetDefault("assembly_poll_interval", "5s")
	v.SetDefault("assembly_duration_tolerance", "250ms")
	v.SetDefault("assembly_inline_fallback", false)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "ffprobe")

	v.SetDefault("sweeper_min_age", "24h")
	v.SetDefault("sweeper_schedule", "@daily")
}

// Load reads .env (if any) and the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	cfg := Config{
		Env:            v.GetString("app_env"),
		Port:           v.GetString("port"),
		BaseURL:        strings.TrimRight(v.GetString("base_url"), "/"),
		DatabaseURL:    v.GetString("database_url"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		RateLimitRPS:   v.GetFloat64("rate_limit_rps"),
		RateLimitBurst: v.GetInt("rate_limit_burst"),
		Dispatch: Dispatch{
			RedisURL:        v.GetString("redis_url"),
			QueueName:       v.GetString("dispatch_queue"),
			ChunkQueueName:  v.GetString("dispatch_chunk_queue"),
			CallbackBaseURL: v.GetString("dispatch_callback_base_url"),
			AuthToken:       v.GetString("dispatch_auth_token"),
			DryRun:          v.GetBool("dispatch_dry_run"),
			MaxRetry:        v.GetInt("dispatch_max_retry"),
			TaskTimeout:     v.GetDuration("dispatch_task_timeout"),

			FinalizeConcurrency: v.GetInt("worker_finalize_concurrency"),
			ChunkConcurrency:    v.GetInt("worker_chunk_concurrency"),
		},
		Storage: Storage{
			DurableBucketURL:   v.GetString("storage_durable_bucket_url"),
			DurableBucketName:  v.GetString("storage_durable_bucket_name"),
			EphemeralDir:       v.GetString("storage_ephemeral_dir"),
			EphemeralBaseURL:   v.GetString("storage_ephemeral_base_url"),
			SignedURLTTL:       v.GetDuration("storage_signed_url_ttl"),
			PureAudioWindow:    v.GetDuration("storage_pure_audio_window"),
			AllowEphemeralOnly: v.GetBool("storage_allow_ephemeral_only"),
			LocalBucketDir:     v.GetString("storage_local_bucket_dir"),
			SignedURLCacheSize: v.GetInt("storage_signed_url_cache_size"),
		},
		Assembly: Assembly{
			ChunkThreshold:    v.GetDuration("assembly_chunk_threshold"),
			ChunkLength:       v.GetDuration("assembly_chunk_length"),
			ChunkTimeout:      v.GetDuration("assembly_chunk_timeout"),
			TotalTimeout:      v.GetDuration("assembly_total_timeout"),
			PollInterval:      v.GetDuration("assembly_poll_interval"),
			DurationTolerance: v.GetDuration("assembly_duration_tolerance"),
			WorkDir:           v.GetString("assembly_work_dir"),
			InlineFallback:    v.GetBool("assembly_inline_fallback"),
			FFmpegPath:        v.GetString("ffmpeg_path"),
			FFprobePath:       v.GetString("ffprobe_path"),
		},
		Sweeper: Sweeper{
			MinAge:   v.GetDuration("sweeper_min_age"),
			Schedule: v.GetString("sweeper_schedule"),
		},
	}
	if cfg.Storage.EphemeralBaseURL == "" {
		cfg.Storage.EphemeralBaseURL = cfg.BaseURL + "/ephemeral"
	}
	return cfg, nil
}

// Validate reports configuration that would make the server unusable.
// Dispatcher credentials are not checked here: the dispatcher reports its own
// configuration errors on every enqueue.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.Assembly.ChunkLength <= 0 {
		errs = append(errs, errors.New("ASSEMBLY_CHUNK_LENGTH must be positive"))
	}
	if c.Assembly.PollInterval <= 0 {
		errs = append(errs, errors.New("ASSEMBLY_POLL_INTERVAL must be positive"))
	}
	if c.Sweeper.MinAge < 24*time.Hour {
		errs = append(errs, fmt.Errorf("SWEEPER_MIN_AGE must be at least 24h, got %s", c.Sweeper.MinAge))
	}
	if c.Dispatch.ChunkQueueName == c.Dispatch.QueueName {
		errs = append(errs, errors.New("DISPATCH_CHUNK_QUEUE must differ from DISPATCH_QUEUE"))
	}
	if c.Dispatch.FinalizeConcurrency < 1 || c.Dispatch.ChunkConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_FINALIZE_CONCURRENCY and WORKER_CHUNK_CONCURRENCY must be positive"))
	}
	if c.Production() && c.Storage.DurableBucketURL == "" {
		errs = append(errs, errors.New("STORAGE_DURABLE_BUCKET_URL is required in production"))
	}
	return errors.Join(errs...)
}
