package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"podcast-assembler/internal/app"
	"podcast-assembler/internal/config"
	"podcast-assembler/internal/handlers"
	"podcast-assembler/internal/logging"
	"podcast-assembler/internal/middleware"
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
		log.Fatalf("invalid configuration: %v", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("could not start: %v", err)
	}
	defer a.Close()

	h := handlers.New(handlers.Deps{
		Lifecycle:      a.Machine,
		Assembler:      a.Assembly,
		Resolver:       a.Resolver,
		Dispatcher:     a.Dispatcher,
		Episodes:       a.Store,
		Sweeper:        a.Sweeper,
		BaseURL:        cfg.BaseURL,
		InlineFallback: cfg.Assembly.InlineFallback,
		Logger:         logger,
	})
	limiter := middleware.NewRateLimiterMiddleware(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(h, cfg.Dispatch.AuthToken, limiter, a.Registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting server on :%s (commit: %s)", cfg.Port, CommitSHA)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func newRouter(h *handlers.Handlers, token string, limiter *middleware.RateLimiterMiddleware, reg *prometheus.Registry, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	auth := middleware.TokenAuth(token, logger)
	limited := func(f http.HandlerFunc) http.Handler { return limiter.Middleware(f) }

	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Queue callbacks and operator endpoints.
	r.Handle(tasks.PathFinalize, auth(http.HandlerFunc(h.PostFinalize))).Methods(http.MethodPost)
	r.Handle(tasks.PathProcessChunk, auth(http.HandlerFunc(h.PostProcessChunk))).Methods(http.MethodPost)
	r.Handle("/admin/sweep", auth(http.HandlerFunc(h.PostSweep))).Methods(http.MethodPost)

	r.Handle("/episodes/{id}", limited(h.GetEpisode)).Methods(http.MethodGet)
	r.Handle("/episodes/{id}/assemble", limited(h.PostAssemble)).Methods(http.MethodPost)
	r.Handle("/episodes/{id}/retry", limited(h.PostRetry)).Methods(http.MethodPost)
	r.Handle("/episodes/{id}/cancel", limited(h.PostCancel)).Methods(http.MethodPost)
	r.Handle("/episodes/{id}/publish", limited(h.PostPublish)).Methods(http.MethodPost)
	r.Handle("/episodes/{id}/playback", limited(h.GetPlayback)).Methods(http.MethodGet)
	r.Handle("/episodes/{id}/cover", limited(h.GetCover)).Methods(http.MethodGet)

	r.Handle("/feeds/{owner}", limited(h.GetRSSFeed)).Methods(http.MethodGet)
	r.HandleFunc("/ephemeral/{name}", h.ServeEphemeralFile).Methods(http.MethodGet, http.MethodHead)
	return r
}
