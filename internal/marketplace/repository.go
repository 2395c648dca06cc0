package marketplace

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	ListVerified(ctx context.Context) ([]Listing, error)
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) ListVerified(ctx context.Context) ([]Listing, error) {
	query := `
		SELECT id, name, land_size, latitude, longitude, crop_types, farming_practices,
			carbon_credits, COALESCE(confidence_score, 0) AS confidence_score, verified_at, created_at
		FROM farms
		WHERE verification_status = 'verified' AND carbon_credits IS NOT NULL
		ORDER BY created_at DESC`

	var listings []Listing
	if err := r.db.SelectContext(ctx, &listings, query); err != nil {
		return nil, fmt.Errorf("failed to list verified farms: %w", err)
	}
	return listings, nil
}
