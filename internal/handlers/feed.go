package handlers

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"podcast-assembler/internal/feed"
	"podcast-assembler/internal/storage"
)

func (h *Handlers) GetRSSFeed(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	episodes, err := h.Episodes.ListPublishedEpisodes(r.Context(), owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries := make([]feed.Entry, 0, len(episodes))
	for _, ep := range episodes {
		audioURL, err := h.Resolver.ResolvePlayback(r.Context(), ep)
		if errors.Is(err, storage.ErrNoLocation) {
			h.log.Warn("published episode has no playable audio", "episode_id", ep.ID)
			continue
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		coverURL, _ := h.Resolver.ResolveCover(r.Context(), ep)
		entries = append(entries, feed.Entry{Episode: ep, AudioURL: audioURL, CoverURL: coverURL})
	}

	rss, err := feed.GenerateRSS(owner, h.BaseURL, entries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml")
	w.Write([]byte(rss))
}

func (h *Handlers) ServeEphemeralFile(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(mux.Vars(r)["name"])
	if name == "." || name == "/" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, h.Resolver.EphemeralPath(name))
}

func (h *Handlers) PostSweep(w http.ResponseWriter, r *http.Request) {
	st, err := h.Sweeper.Sweep(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
