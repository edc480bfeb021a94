package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/exposure-service/internal/domain"
)

// BookingRepository handles persistence for bookings, the interaction
// relation the exposure engine traverses.
type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	Update(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Booking, error)
	// FindActiveInteractions returns bookings where anchorID plays role, the
	// status is in the active set and the last activity is at or after since.
	FindActiveInteractions(ctx context.Context, anchorID string, role domain.InteractionRole, since time.Time) ([]domain.Booking, error)
}

type bookingRepository struct {
	pool *pgxpool.Pool
}

// NewBookingRepository instantiates the repository.
func NewBookingRepository(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepository{pool: pool}
}

const bookingColumns = `id, provider_id, customer_id, scheduled_for, notes, status, created_at, updated_at`

func (r *bookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	const query = `
        INSERT INTO bookings (provider_id, customer_id, scheduled_for, notes, status)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`

	if booking.Status == "" {
		booking.Status = domain.BookingStatusBooked
	}
	return r.pool.QueryRow(ctx, query,
		booking.ProviderID,
		booking.CustomerID,
		booking.ScheduledFor,
		booking.Notes,
		booking.Status,
	).Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
}

func (r *bookingRepository) Update(ctx context.Context, booking *domain.Booking) error {
	const query = `
        UPDATE bookings SET status=$1, notes=$2, updated_at=NOW()
        WHERE id=$3
        RETURNING updated_at`

	return r.pool.QueryRow(ctx, query,
		booking.Status,
		booking.Notes,
		booking.ID,
	).Scan(&booking.UpdatedAt)
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, pgx.ErrNoRows
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id=$1`
	var booking domain.Booking
	if err := scanBooking(r.pool.QueryRow(ctx, query, id), &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *bookingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + bookingColumns + ` FROM bookings
        WHERE customer_id=$1 OR provider_id=$1
        ORDER BY updated_at DESC` + fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	return r.queryBookings(ctx, query, userID)
}

func (r *bookingRepository) FindActiveInteractions(ctx context.Context, anchorID string, role domain.InteractionRole, since time.Time) ([]domain.Booking, error) {
	var column string
	switch role {
	case domain.RoleAsCustomer:
		column = "customer_id"
	case domain.RoleAsProvider:
		column = "provider_id"
	default:
		return nil, fmt.Errorf("unknown interaction role %q", role)
	}

	statuses := make([]string, 0, len(domain.ActiveBookingStatuses))
	for _, status := range domain.ActiveBookingStatuses {
		statuses = append(statuses, string(status))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings
        WHERE ` + column + `=$1 AND status = ANY($2) AND updated_at >= $3`
	return r.queryBookings(ctx, query, anchorID, statuses, since)
}

func (r *bookingRepository) queryBookings(ctx context.Context, query string, args ...any) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Booking
	for rows.Next() {
		var booking domain.Booking
		if err := scanBooking(rows, &booking); err != nil {
			return nil, err
		}
		result = append(result, booking)
	}
	return result, rows.Err()
}

func scanBooking(row pgx.Row, booking *domain.Booking) error {
	return row.Scan(
		&booking.ID,
		&booking.ProviderID,
		&booking.CustomerID,
		&booking.ScheduledFor,
		&booking.Notes,
		&booking.Status,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
}
