package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"podcast-assembler/internal/models"
)

// CreateSource records an uploaded source. An empty ID is filled with a new
// UUID.
func (s *Store) CreateSource(ctx context.Context, src models.UploadedSource) (models.UploadedSource, error) {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	source := models.UploadedSource{}
	err := s.db.GetContext(ctx, &source,
		"INSERT INTO media_items (id, owner_id, name, category) VALUES ($1, $2, $3, $4) RETURNING id, owner_id, name, category, created_at",
		src.ID, src.OwnerID, src.Name, src.Category)
	if err != nil {
		return models.UploadedSource{}, fmt.Errorf("create source %s: %w", src.Name, err)
	}
	return source, nil
}

func (s *Store) ListSources(ctx context.Context) ([]models.UploadedSource, error) {
	var sources []models.UploadedSource
	err := s.db.SelectContext(ctx, &sources, "SELECT id, owner_id, name, category, created_at FROM media_items ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM media_items WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete source %s: %w", id, err)
	}
	return nil
}
