package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"podcast-assembler/internal/assembly"
	"podcast-assembler/internal/db"
	"podcast-assembler/internal/dispatch"
	"podcast-assembler/internal/episode"
	"podcast-assembler/internal/logging"
	"podcast-assembler/internal/models"
	"podcast-assembler/internal/storage"
	"podcast-assembler/internal/sweeper"
	"podcast-assembler/pkg/tasks"
)

// Lifecycle is the episode state machine. *episode.Machine implements it.
type Lifecycle interface {
	Get(ctx context.Context, id string) (models.Episode, error)
	Ready(ctx context.Context, id string) (models.Episode, error)
	Cancel(ctx context.Context, id string) (models.Episode, error)
	Retry(ctx context.Context, id string) (models.Episode, error)
	Publish(ctx context.Context, id string, at time.Time, externalStream, externalCover *string) (models.Episode, error)
}

// Assembler runs assemblies and chunk tasks. *assembly.Service implements it.
type Assembler interface {
	Assemble(ctx context.Context, id string) (models.Episode, error)
	ProcessChunk(ctx context.Context, p tasks.JobPayload, at assembly.Attempt) error
}

// Resolver resolves stored locations. *storage.Resolver implements it.
type Resolver interface {
	ResolvePlayback(ctx context.Context, ep models.Episode) (string, error)
	ResolveCover(ctx context.Context, ep models.Episode) (string, error)
	EphemeralPath(name string) string
}

type Dispatcher interface {
	Enqueue(ctx context.Context, targetPath string, payload any) (string, error)
}

type EpisodeLister interface {
	ListPublishedEpisodes(ctx context.Context, ownerID string) ([]models.Episode, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Stats, error)
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Lifecycle      Lifecycle
	Assembler      Assembler
	Resolver       Resolver
	Dispatcher     Dispatcher
	Episodes       EpisodeLister
	Sweeper        Sweeper
	BaseURL        string
	InlineFallback bool
	Logger         *slog.Logger
}

type Handlers struct {
	Deps
	log *slog.Logger
}

func New(d Deps) *Handlers {
	return &Handlers{
		Deps: d,
		log:  logging.OrDiscard(d.Logger).With("component", "http"),
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encode response", "error", err)
	}
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var derr *dispatch.Error
	switch {
	case errors.Is(err, db.ErrNotFound), errors.Is(err, storage.ErrNoLocation):
		return http.StatusNotFound
	case errors.Is(err, episode.ErrInvalidTransition), errors.Is(err, db.ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, episode.ErrSourceMissing), errors.Is(err, episode.ErrInvalidArtifact):
		return http.StatusUnprocessableEntity
	case errors.As(err, &derr):
		if derr.Kind == dispatch.KindConfig {
			return http.StatusInternalServerError
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
