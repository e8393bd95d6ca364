package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"podcast-assembler/internal/dispatch"
	"podcast-assembler/internal/models"
	"podcast-assembler/pkg/tasks"
)

func episodeID(r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

func (h *Handlers) withEpisodeID(w http.ResponseWriter, r *http.Request, fn func(id string)) {
	id, ok := episodeID(r)
	if !ok {
		http.Error(w, "Invalid episode ID", http.StatusBadRequest)
		return
	}
	fn(id)
}

func (h *Handlers) GetEpisode(w http.ResponseWriter, r *http.Request) {
	h.withEpisodeID(w, r, func(id string) {
		ep, err := h.Lifecycle.Get(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	})
}

// PostAssemble checks that the episode can start and hands it to the queue.
// The assembly itself runs when the queue delivers the /finalize callback.
// With inline fallback enabled, a queue outage assembles within this request
// and responds with the finished episode.
func (h *Handlers) PostAssemble(w http.ResponseWriter, r *http.Request) {
	h.withEpisodeID(w, r, func(id string) {
		ep, err := h.Lifecycle.Ready(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		payload := tasks.JobPayload{
			EpisodeID:       ep.ID,
			SourceReference: ep.SourceName(),
			TemplateID:      ep.Template(),
			OwnerID:         ep.OwnerID,
		}
		taskID, err := h.Dispatcher.Enqueue(r.Context(), tasks.PathFinalize, payload)
		if err == nil {
			writeJSON(w, http.StatusAccepted, map[string]string{"episode_id": id, "task_id": taskID, "mode": "queued"})
			return
		}
		if dispatch.IsKind(err, dispatch.KindConfig) || !h.InlineFallback {
			h.writeError(w, r, err)
			return
		}

		h.log.Warn("dispatch failed, assembling inline", "episode_id", id, "error", err)
		done, err := h.Assembler.Assemble(r.Context(), id)
		if err != nil {
			h.log.Error("inline assembly failed", "episode_id", id, "error", err)
			h.writeError(w, r, err)
			return
		}
		w.Header().Set("X-Assembly-Mode", "inline")
		writeJSON(w, http.StatusOK, done)
	})
}

func (h *Handlers) PostRetry(w http.ResponseWriter, r *http.Request) {
	h.withEpisodeID(w, r, func(id string) {
		ep, err := h.Lifecycle.Retry(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	})
}

func (h *Handlers) PostCancel(w http.ResponseWriter, r *http.Request) {
	h.withEpisodeID(w, r, func(id string) {
		ep, err := h.Lifecycle.Cancel(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	})
}

type publishRequest struct {
	PublishAt               *time.Time `json:"publish_at"`
	ExternalStreamReference *string    `json:"external_stream_reference"`
	ExternalCoverReference  *string    `json:"external_cover_reference"`
}

func (h *Handlers) PostPublish(w http.ResponseWriter, r *http.Request) {
	h.withEpisodeID(w, r, func(id string) {
		var req publishRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		at := time.Now()
		if req.PublishAt != nil {
			at = *req.PublishAt
		}
		ep, err := h.Lifecycle.Publish(r.Context(), id, at, req.ExternalStreamReference, req.ExternalCoverReference)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	})
}

func (h *Handlers) GetPlayback(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.Resolver.ResolvePlayback)
}

func (h *Handlers) GetCover(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.Resolver.ResolveCover)
}

// resolve answers with the URL as JSON, or redirects when ?redirect=1.
func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request, fn func(context.Context, models.Episode) (string, error)) {
	h.withEpisodeID(w, r, func(id string) {
		ep, err := h.Lifecycle.Get(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		u, err := fn(r.Context(), ep)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if r.URL.Query().Get("redirect") == "1" {
			http.Redirect(w, r, u, http.StatusFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": u})
	})
}
