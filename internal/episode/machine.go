// Package episode owns the lifecycle of an episode:
//
//	pending -> processing -> processed -> published
//	                      \-> error -> pending (retry)
//
// Cancel also moves pending or processing episodes to error. Every transition
// is a single compare-and-set update that writes the new status together with
// any location fields, so readers never observe a half-applied change.
//
// Begin stamps the episode with the id of the run that owns it. Complete and
// Fail only apply while that run still owns the episode, so a run that was
// cancelled and replaced cannot overwrite its successor.
package episode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"podcast-assembler/internal/db"
	"podcast-assembler/internal/logging"
	"podcast-assembler/internal/models"
)

var (
	// ErrInvalidTransition is returned when the episode's current status does
	// not allow the requested transition.
	ErrInvalidTransition = errors.New("episode: invalid status transition")
	// ErrSourceMissing is returned when the working audio cannot be resolved.
	// The episode itself is left unchanged.
	ErrSourceMissing = errors.New("episode: source audio missing")
	// ErrInvalidArtifact is returned when a completion report is unusable.
	ErrInvalidArtifact = errors.New("episode: invalid artifact")
	// ErrStaleRun is returned when a run reports on an episode that a later
	// run now owns. It also matches ErrInvalidTransition.
	ErrStaleRun = errors.New("episode: run no longer owns episode")
)

// CancelledMessage is recorded on episodes cancelled by a user.
const CancelledMessage = "cancelled by user"

var transitions = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusProcessing, models.StatusError},
	models.StatusProcessing: {models.StatusProcessed, models.StatusError},
	models.StatusProcessed:  {models.StatusPublished},
	models.StatusError:      {models.StatusPending},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Store persists episodes. It is implemented by *db.Store.
type Store interface {
	GetEpisode(ctx context.Context, id string) (models.Episode, error)
	TransitionEpisode(ctx context.Context, id string, from []models.Status, to models.Status, upd db.EpisodeUpdate) (models.Episode, error)
}

// SourceChecker reports whether an uploaded source can still be fetched.
type SourceChecker interface {
	SourceExists(ctx context.Context, name string) (bool, error)
}

// Artifact is the orchestrator's report of a finished mix.
type Artifact struct {
	Location  string
	Ephemeral bool
	ByteSize  int64
	Duration  time.Duration
}

// Machine applies guarded transitions.
type Machine struct {
	store   Store
	sources SourceChecker
	log     *slog.Logger
}

func NewMachine(store Store, sources SourceChecker, logger *slog.Logger) *Machine {
	return &Machine{
		store:   store,
		sources: sources,
		log:     logging.OrDiscard(logger).With("component", "episode"),
	}
}

// Get returns a snapshot of the episode.
func (m *Machine) Get(ctx context.Context, id string) (models.Episode, error) {
	return m.store.GetEpisode(ctx, id)
}

// Ready checks, without changing anything, that Begin would currently succeed.
func (m *Machine) Ready(ctx context.Context, id string) (models.Episode, error) {
	ep, err := m.store.GetEpisode(ctx, id)
	if err != nil {
		return models.Episode{}, err
	}
	if ep.Status != models.StatusPending {
		return ep, fmt.Errorf("%w: %s is %s, want %s", ErrInvalidTransition, id, ep.Status, models.StatusPending)
	}
	if err := m.checkSource(ctx, ep); err != nil {
		return ep, err
	}
	return ep, nil
}

// Begin moves a pending episode to processing under runID and returns the
// snapshot the assembly should work from.
func (m *Machine) Begin(ctx context.Context, id, runID string) (models.Episode, error) {
	if runID == "" {
		return models.Episode{}, errors.New("episode: begin without run id")
	}
	if _, err := m.Ready(ctx, id); err != nil {
		return models.Episode{}, err
	}
	ep, err := m.transition(ctx, id, []models.Status{models.StatusPending}, models.StatusProcessing, db.EpisodeUpdate{RunID: &runID, ClearError: true})
	if err != nil {
		return models.Episode{}, err
	}
	m.log.Info("episode processing", "episode_id", id, "run_id", runID, "source", ep.SourceName())
	return ep, nil
}

// Complete records a finished artifact of runID and moves processing ->
// processed.
func (m *Machine) Complete(ctx context.Context, id, runID string, a Artifact) (models.Episode, error) {
	if a.Location == "" || a.ByteSize <= 0 || a.Duration <= 0 {
		return models.Episode{}, fmt.Errorf("%w: location=%q bytes=%d duration=%s", ErrInvalidArtifact, a.Location, a.ByteSize, a.Duration)
	}
	size := a.ByteSize
	ms := a.Duration.Milliseconds()
	loc := a.Location
	upd := db.EpisodeUpdate{AudioByteSize: &size, DurationMS: &ms, ClearError: true, IfRunID: &runID}
	if a.Ephemeral {
		upd.EphemeralAudioLocation = &loc
	} else {
		upd.DurableAudioLocation = &loc
	}

	ep, err := m.transition(ctx, id, []models.Status{models.StatusProcessing}, models.StatusProcessed, upd)
	if err != nil {
		return models.Episode{}, err
	}
	m.log.Info("episode processed", "episode_id", id, "run_id", runID, "location", loc, "duration_ms", ms, "bytes", size)
	return ep, nil
}

// Fail moves an episode that runID is processing to error. The working audio
// is kept so a retry can reuse it.
func (m *Machine) Fail(ctx context.Context, id, runID string, cause error) (models.Episode, error) {
	msg := "assembly failed"
	if cause != nil {
		msg = cause.Error()
	}
	upd := db.EpisodeUpdate{ErrorMessage: &msg, IfRunID: &runID}
	ep, err := m.transition(ctx, id, []models.Status{models.StatusProcessing}, models.StatusError, upd)
	if err != nil {
		return models.Episode{}, err
	}
	m.log.Warn("episode failed", "episode_id", id, "run_id", runID, "error", msg)
	return ep, nil
}

// Cancel moves a pending or processing episode to error. Chunk tasks already
// in flight may still finish. Their output is discarded because Complete no
// longer matches, even after a retry has started a new run.
func (m *Machine) Cancel(ctx context.Context, id string) (models.Episode, error) {
	msg := CancelledMessage
	ep, err := m.transition(ctx, id, []models.Status{models.StatusPending, models.StatusProcessing}, models.StatusError, db.EpisodeUpdate{ErrorMessage: &msg})
	if err != nil {
		return models.Episode{}, err
	}
	m.log.Info("episode cancelled", "episode_id", id)
	return ep, nil
}

// Retry moves an errored episode back to pending, keeping its working audio.
func (m *Machine) Retry(ctx context.Context, id string) (models.Episode, error) {
	ep, err := m.transition(ctx, id, []models.Status{models.StatusError}, models.StatusPending, db.EpisodeUpdate{ClearError: true})
	if err != nil {
		return models.Episode{}, err
	}
	m.log.Info("episode retry requested", "episode_id", id, "source", ep.SourceName())
	return ep, nil
}

// Publish moves a processed episode to published.
func (m *Machine) Publish(ctx context.Context, id string, at time.Time, externalStream, externalCover *string) (models.Episode, error) {
	at = at.UTC()
	upd := db.EpisodeUpdate{PublishAt: &at, ExternalStreamReference: externalStream, ExternalCoverReference: externalCover}
	ep, err := m.transition(ctx, id, []models.Status{models.StatusProcessed}, models.StatusPublished, upd)
	if err != nil {
		return models.Episode{}, err
	}
	m.log.Info("episode published", "episode_id", id, "publish_at", at)
	return ep, nil
}

func (m *Machine) checkSource(ctx context.Context, ep models.Episode) error {
	name := ep.SourceName()
	if name == "" {
		return fmt.Errorf("%w: episode %s has no working audio", ErrSourceMissing, ep.ID)
	}
	ok, err := m.sources.SourceExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check source for episode %s: %w", ep.ID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceMissing, name)
	}
	return nil
}

func (m *Machine) transition(ctx context.Context, id string, from []models.Status, to models.Status, upd db.EpisodeUpdate) (models.Episode, error) {
	for _, f := range from {
		if !CanTransition(f, to) {
			return models.Episode{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f, to)
		}
	}
	ep, err := m.store.TransitionEpisode(ctx, id, from, to, upd)
	if errors.Is(err, db.ErrStatusConflict) {
		current, getErr := m.store.GetEpisode(ctx, id)
		if getErr != nil {
			return models.Episode{}, getErr
		}
		if upd.IfRunID != nil && current.Status == models.StatusProcessing && current.CurrentRun() != *upd.IfRunID {
			return models.Episode{}, fmt.Errorf("%w: %s is owned by run %s, not %s: %w", ErrStaleRun, id, current.CurrentRun(), *upd.IfRunID, ErrInvalidTransition)
		}
		return models.Episode{}, fmt.Errorf("%w: %s is %s, cannot move to %s: %w", ErrInvalidTransition, id, current.Status, to, err)
	}
	return ep, err
}
