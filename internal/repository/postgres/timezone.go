package postgres

import (
	"context"
	"fmt"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository"
)

const timezonePageSize = 500

type timezoneRepository struct {
	BaseRepository
}

func NewTimezoneRepository(base BaseRepository) repository.TimezoneRepository {
	return &timezoneRepository{base}
}

// ListActive reads the catalog page by page; it is a few hundred rows at most.
func (r *timezoneRepository) ListActive(ctx context.Context) ([]model.Timezone, error) {
	query := `
		SELECT value, label, display_order, active
		FROM timezones
		WHERE active = TRUE
		ORDER BY display_order ASC, value ASC
		LIMIT $1 OFFSET $2
	`

	all := []model.Timezone{}
	for offset := 0; ; offset += timezonePageSize {
		var page []model.Timezone
		if err := r.db.SelectContext(ctx, &page, query, timezonePageSize, offset); err != nil {
			return nil, fmt.Errorf("failed to list timezones: %w", err)
		}
		all = append(all, page...)
		if len(page) < timezonePageSize {
			return all, nil
		}
	}
}
