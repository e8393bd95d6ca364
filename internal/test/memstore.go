package test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"podcast-assembler/internal/db"
	"podcast-assembler/internal/models"
)

// MemoryStore is an in-memory stand-in for *db.Store with the same
// compare-and-set transition semantics.
type MemoryStore struct {
	mu          sync.Mutex
	episodes    map[string]models.Episode
	sources     map[string]models.UploadedSource
	templates   map[string]models.Template
	Transitions int
	StatusErr   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		episodes:  make(map[string]models.Episode),
		sources:   make(map[string]models.UploadedSource),
		templates: make(map[string]models.Template),
	}
}

func (m *MemoryStore) PutEpisode(ep models.Episode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes[ep.ID] = ep
}

func (m *MemoryStore) PutSource(src models.UploadedSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID] = src
}

func (m *MemoryStore) PutTemplate(tmpl models.Template) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[tmpl.ID] = tmpl
}

func (m *MemoryStore) HasSource(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sources[id]
	return ok
}

func (m *MemoryStore) GetEpisode(ctx context.Context, id string) (models.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.episodes[id]
	if !ok {
		return models.Episode{}, fmt.Errorf("episode %s: %w", id, db.ErrNotFound)
	}
	return ep, nil
}

func (m *MemoryStore) TransitionEpisode(ctx context.Context, id string, from []models.Status, to models.Status, upd db.EpisodeUpdate) (models.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.episodes[id]
	if !ok {
		return models.Episode{}, fmt.Errorf("episode %s to %s: %w", id, to, db.ErrStatusConflict)
	}
	matched := false
	for _, f := range from {
		if ep.Status == f {
			matched = true
		}
	}
	if !matched || (upd.IfRunID != nil && (ep.RunID == nil || *ep.RunID != *upd.IfRunID)) {
		return models.Episode{}, fmt.Errorf("episode %s to %s: %w", id, to, db.ErrStatusConflict)
	}

	ep.Status = to
	ep.UpdatedAt = time.Now()
	if upd.DurableAudioLocation != nil {
		ep.DurableAudioLocation = upd.DurableAudioLocation
	}
	if upd.EphemeralAudioLocation != nil {
		ep.EphemeralAudioLocation = upd.EphemeralAudioLocation
	}
	if upd.ExternalStreamReference != nil {
		ep.ExternalStreamReference = upd.ExternalStreamReference
	}
	if upd.DurableCoverLocation != nil {
		ep.DurableCoverLocation = upd.DurableCoverLocation
	}
	if upd.EphemeralCoverLocation != nil {
		ep.EphemeralCoverLocation = upd.EphemeralCoverLocation
	}
	if upd.ExternalCoverReference != nil {
		ep.ExternalCoverReference = upd.ExternalCoverReference
	}
	if upd.PublishAt != nil {
		ep.PublishAt = upd.PublishAt
	}
	if upd.DurationMS != nil {
		ep.DurationMS = upd.DurationMS
	}
	if upd.AudioByteSize != nil {
		ep.AudioByteSize = upd.AudioByteSize
	}
	if upd.RunID != nil {
		run := *upd.RunID
		ep.RunID = &run
	}
	if upd.ErrorMessage != nil {
		ep.ErrorMessage = upd.ErrorMessage
	} else if upd.ClearError {
		ep.ErrorMessage = nil
	}
	m.episodes[id] = ep
	m.Transitions++
	return ep, nil
}

func (m *MemoryStore) EpisodeStatusesBySource(ctx context.Context, name string) ([]models.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	var statuses []models.Status
	for _, ep := range m.episodes {
		if ep.SourceName() == name {
			statuses = append(statuses, ep.Status)
		}
	}
	return statuses, nil
}

func (m *MemoryStore) ListPublishedEpisodes(ctx context.Context, ownerID string) ([]models.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Episode
	for _, ep := range m.episodes {
		if ep.OwnerID == ownerID && ep.Status == models.StatusPublished {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListSources(ctx context.Context) ([]models.UploadedSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.UploadedSource, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteSource(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, id)
	return nil
}

func (m *MemoryStore) GetTemplate(ctx context.Context, id string) (models.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tmpl, ok := m.templates[id]
	if !ok {
		return models.Template{}, fmt.Errorf("template %s: %w", id, db.ErrNotFound)
	}
	return tmpl, nil
}
