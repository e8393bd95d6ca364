package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"podcast-assembler/internal/assembly"
	"podcast-assembler/internal/episode"
	"podcast-assembler/internal/models"
	"podcast-assembler/pkg/tasks"
)

func decodeJob(r *http.Request) (tasks.JobPayload, error) {
	var p tasks.JobPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&p); err != nil {
		return p, err
	}
	if p.EpisodeID == "" {
		return p, errors.New("episode_id is required")
	}
	return p, nil
}

// PostFinalize runs an assembly delivered by the queue. Deliveries for an
// episode that is no longer pending are acknowledged without doing anything.
func (h *Handlers) PostFinalize(w http.ResponseWriter, r *http.Request) {
	p, err := decodeJob(r)
	if err != nil {
		http.Error(w, "Invalid job payload: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	log := h.log.With("episode_id", p.EpisodeID, "task_id", r.Header.Get(tasks.HeaderTaskID))

	ep, err := h.Assembler.Assemble(r.Context(), p.EpisodeID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"episode_id": ep.ID, "status": ep.Status})
	case errors.Is(err, episode.ErrInvalidTransition):
		log.Info("duplicate or stale finalize ignored", "reason", err)
		writeJSON(w, http.StatusOK, map[string]string{"episode_id": p.EpisodeID, "status": "ignored"})
	default:
		// A failed run has already moved the episode to error. Redelivery
		// would only hit a conflict, so the failure is acknowledged.
		cur, getErr := h.Lifecycle.Get(r.Context(), p.EpisodeID)
		if getErr == nil && cur.Status == models.StatusError {
			log.Warn("assembly failed", "error", err)
			writeJSON(w, http.StatusOK, map[string]string{"episode_id": p.EpisodeID, "status": string(cur.Status), "error": err.Error()})
			return
		}
		h.writeError(w, r, err)
	}
}

// PostProcessChunk renders one chunk. Errors are returned as 500 so the
// queue retries the delivery.
func (h *Handlers) PostProcessChunk(w http.ResponseWriter, r *http.Request) {
	p, err := decodeJob(r)
	if err == nil && p.ChunkIndex == nil {
		err = errors.New("chunk_index is required")
	}
	if err != nil {
		http.Error(w, "Invalid job payload: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	at := assembly.Attempt{
		Retry:    headerInt(r, tasks.HeaderRetryCount),
		MaxRetry: headerInt(r, tasks.HeaderMaxRetry),
	}
	if err := h.Assembler.ProcessChunk(r.Context(), p, at); err != nil {
		h.log.Error("chunk processing failed", "episode_id", p.EpisodeID, "chunk", *p.ChunkIndex, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"episode_id": p.EpisodeID, "chunk_index": *p.ChunkIndex, "status": assembly.ChunkDone})
}

func headerInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.Header.Get(name))
	if err != nil {
		return 0
	}
	return n
}
