package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"podcast-assembler/internal/models"
)

// EpisodeUpdate lists the optional columns written together with a status
// change. Nil fields are left untouched. There is deliberately no field for
// working_audio_name: transitions never release the source.
type EpisodeUpdate struct {
	DurableAudioLocation    *string
	EphemeralAudioLocation  *string
	ExternalStreamReference *string
	DurableCoverLocation    *string
	EphemeralCoverLocation  *string
	ExternalCoverReference  *string
	PublishAt               *time.Time
	DurationMS              *int64
	AudioByteSize           *int64
	ErrorMessage            *string
	ClearError              bool
	// RunID records the run that owns a processing episode.
	RunID *string
	// IfRunID limits the update to episodes owned by that run.
	IfRunID *string
}

func (u EpisodeUpdate) assignments(next int) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, next))
		args = append(args, v)
		next++
	}
	if u.DurableAudioLocation != nil {
		add("durable_audio_location", *u.DurableAudioLocation)
	}
	if u.EphemeralAudioLocation != nil {
		add("ephemeral_audio_location", *u.EphemeralAudioLocation)
	}
	if u.ExternalStreamReference != nil {
		add("external_stream_reference", *u.ExternalStreamReference)
	}
	if u.DurableCoverLocation != nil {
		add("durable_cover_location", *u.DurableCoverLocation)
	}
	if u.EphemeralCoverLocation != nil {
		add("ephemeral_cover_location", *u.EphemeralCoverLocation)
	}
	if u.ExternalCoverReference != nil {
		add("external_cover_reference", *u.ExternalCoverReference)
	}
	if u.PublishAt != nil {
		add("publish_at", *u.PublishAt)
	}
	if u.DurationMS != nil {
		add("duration_ms", *u.DurationMS)
	}
	if u.AudioByteSize != nil {
		add("audio_byte_size", *u.AudioByteSize)
	}
	if u.RunID != nil {
		add("run_id", *u.RunID)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	} else if u.ClearError {
		sets = append(sets, "error_message = NULL")
	}
	return sets, args
}

// CreateEpisode inserts a pending episode. An empty ID is filled with a new
// UUID.
func (s *Store) CreateEpisode(ctx context.Context, ep models.Episode) (models.Episode, error) {
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	query := `
		INSERT INTO episodes (id, owner_id, template_id, title, description, working_audio_name, publish_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`
	episode := models.Episode{}
	err := s.db.GetContext(ctx, &episode, query,
		ep.ID, ep.OwnerID, ep.TemplateID, ep.Title, ep.Description, ep.WorkingAudioName, ep.PublishAt)
	if err != nil {
		return models.Episode{}, fmt.Errorf("create episode %s: %w", ep.ID, err)
	}
	return episode, nil
}

func (s *Store) GetEpisode(ctx context.Context, id string) (models.Episode, error) {
	episode := models.Episode{}
	err := s.db.GetContext(ctx, &episode, "SELECT * FROM episodes WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Episode{}, fmt.Errorf("episode %s: %w", id, ErrNotFound)
	}
	return episode, err
}

// TransitionEpisode moves an episode to status `to` only if its current status
// is one of `from` (and, with upd.IfRunID, its run matches), writing every
// field of upd in the same statement.
func (s *Store) TransitionEpisode(ctx context.Context, id string, from []models.Status, to models.Status, upd EpisodeUpdate) (models.Episode, error) {
	sets, args := upd.assignments(2)
	query := "UPDATE episodes SET status = $1, updated_at = NOW()"
	if len(sets) > 0 {
		query += ", " + strings.Join(sets, ", ")
	}
	n := len(args) + 2
	query += fmt.Sprintf(" WHERE id = $%d AND status = ANY($%d)", n, n+1)

	expected := make([]string, len(from))
	for i, st := range from {
		expected[i] = string(st)
	}
	all := append([]any{string(to)}, args...)
	all = append(all, id, pq.Array(expected))
	if upd.IfRunID != nil {
		query += fmt.Sprintf(" AND run_id = $%d", n+2)
		all = append(all, *upd.IfRunID)
	}
	query += " RETURNING *"

	episode := models.Episode{}
	err := s.db.GetContext(ctx, &episode, query, all...)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Episode{}, fmt.Errorf("episode %s to %s: %w", id, to, ErrStatusConflict)
	}
	if err != nil {
		return models.Episode{}, fmt.Errorf("transition episode %s to %s: %w", id, to, err)
	}
	return episode, nil
}

// EpisodeStatusesBySource returns the status of every episode whose
// working_audio_name is name.
func (s *Store) EpisodeStatusesBySource(ctx context.Context, name string) ([]models.Status, error) {
	var statuses []models.Status
	err := s.db.SelectContext(ctx, &statuses, "SELECT status FROM episodes WHERE working_audio_name = $1", name)
	if err != nil {
		return nil, fmt.Errorf("episode statuses for source %s: %w", name, err)
	}
	return statuses, nil
}

func (s *Store) ListPublishedEpisodes(ctx context.Context, ownerID string) ([]models.Episode, error) {
	query := `
		SELECT * FROM episodes
		WHERE owner_id = $1 AND status = 'published'
		ORDER BY publish_at DESC
	`
	var episodes []models.Episode
	if err := s.db.SelectContext(ctx, &episodes, query, ownerID); err != nil {
		return nil, fmt.Errorf("published episodes for %s: %w", ownerID, err)
	}
	return episodes, nil
}
