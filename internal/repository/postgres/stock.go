package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/stockalert-api/internal/model"
	"github.com/jwalitptl/stockalert-api/internal/repository"
)

type stockRepository struct {
	BaseRepository
}

func NewStockRepository(base BaseRepository) repository.StockRepository {
	return &stockRepository{base}
}

func (r *stockRepository) ListTracked(ctx context.Context, userID uuid.UUID) ([]model.TrackedStock, error) {
	query := `
		SELECT s.symbol, s.name
		FROM user_stocks us
		JOIN stocks s ON s.symbol = us.symbol
		WHERE us.user_id = $1
		ORDER BY s.symbol ASC
	`

	stocks := []model.TrackedStock{}
	if err := r.db.SelectContext(ctx, &stocks, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list tracked stocks: %w", err)
	}
	return stocks, nil
}
