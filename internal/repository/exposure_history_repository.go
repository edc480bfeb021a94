package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/exposure-service/internal/domain"
)

// ExposureHistoryRepository stores health transition audit entries.
type ExposureHistoryRepository interface {
	Create(ctx context.Context, entry *domain.ExposureHistory) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.ExposureHistory, error)
}

type exposureHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewExposureHistoryRepository builds repository.
func NewExposureHistoryRepository(pool *pgxpool.Pool) ExposureHistoryRepository {
	return &exposureHistoryRepository{pool: pool}
}

func (r *exposureHistoryRepository) Create(ctx context.Context, entry *domain.ExposureHistory) error {
	const query = `
        INSERT INTO exposure_history (user_id, report_id, old_status, new_status, old_degree, new_degree, restricted_until)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		entry.UserID,
		entry.ReportID,
		entry.OldStatus,
		entry.NewStatus,
		entry.OldDegree,
		entry.NewDegree,
		entry.RestrictedUntil,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *exposureHistoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.ExposureHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
        SELECT id, user_id, report_id, old_status, new_status, old_degree, new_degree, restricted_until, created_at
        FROM exposure_history WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ExposureHistory
	for rows.Next() {
		var entry domain.ExposureHistory
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.ReportID,
			&entry.OldStatus,
			&entry.NewStatus,
			&entry.OldDegree,
			&entry.NewDegree,
			&entry.RestrictedUntil,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
