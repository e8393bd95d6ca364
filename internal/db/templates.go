package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"podcast-assembler/internal/models"
)

func (s *Store) GetTemplate(ctx context.Context, id string) (models.Template, error) {
	tmpl := models.Template{}
	err := s.db.GetContext(ctx, &tmpl, "SELECT id, owner_id, intro_key, outro_key, music_key, music_volume, tts_keys FROM templates WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Template{}, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return tmpl, err
}
