package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/exposure-service/internal/domain"
	"github.com/spec-kit/exposure-service/internal/repository"
	apperrors "github.com/spec-kit/exposure-service/pkg/util/errorutil"
)

// BookingService manages the interaction lifecycle between customers and
// providers.
type BookingService struct {
	bookings repository.BookingRepository
	users    repository.UserRepository
}

// BookingDependencies bundles repositories for the booking service.
type BookingDependencies struct {
	BookingRepo repository.BookingRepository
	UserRepo    repository.UserRepository
}

// BookingCreateInput describes a new booking.
type BookingCreateInput struct {
	ProviderID   string
	ScheduledFor time.Time
	Notes        string
}

// NewBookingService constructs the service.
func NewBookingService(deps BookingDependencies) *BookingService {
	return &BookingService{bookings: deps.BookingRepo, users: deps.UserRepo}
}

// CreateBooking books a provider on behalf of a customer.
func (s *BookingService) CreateBooking(ctx context.Context, customer *domain.User, input BookingCreateInput) (*domain.Booking, error) {
	if customer == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	if input.ProviderID == "" || input.ScheduledFor.IsZero() {
		return nil, apperrors.NewValidationError("providerId and scheduledFor required", nil)
	}
	if input.ProviderID == customer.ID {
		return nil, apperrors.NewValidationError("cannot book yourself", nil)
	}

	provider, err := s.users.GetByID(ctx, input.ProviderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("provider", map[string]any{"provider_id": input.ProviderID})
		}
		return nil, apperrors.MapError(err)
	}
	if provider.Role != domain.UserRoleProvider {
		return nil, apperrors.NewValidationError("user is not a provider", map[string]any{"provider_id": input.ProviderID})
	}

	booking := &domain.Booking{
		ProviderID:   provider.ID,
		CustomerID:   customer.ID,
		ScheduledFor: input.ScheduledFor,
		Notes:        strings.TrimSpace(input.Notes),
		Status:       domain.BookingStatusBooked,
	}
	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, apperrors.MapError(err)
	}
	return booking, nil
}

// UpdateStatus moves a booking along its lifecycle. Only the booking's
// provider or an admin may do so.
func (s *BookingService) UpdateStatus(ctx context.Context, actor *domain.User, bookingID string, next domain.BookingStatus) (*domain.Booking, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("booking", map[string]any{"booking_id": bookingID})
		}
		return nil, apperrors.MapError(err)
	}
	if actor.Role != domain.UserRoleAdmin && booking.ProviderID != actor.ID {
		return nil, apperrors.NewForbidden("not authorized")
	}
	if !isValidBookingTransition(booking.Status, next) {
		return nil, apperrors.NewConflict("invalid status transition", map[string]any{
			"from": booking.Status,
			"to":   next,
		})
	}

	booking.Status = next
	if err := s.bookings.Update(ctx, booking); err != nil {
		return nil, apperrors.MapError(err)
	}
	return booking, nil
}

// ListForUser returns bookings where the user is customer or provider.
func (s *BookingService) ListForUser(ctx context.Context, userID string, limit, offset int) ([]domain.Booking, error) {
	bookings, err := s.bookings.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return bookings, nil
}

var allowedBookingTransitions = map[domain.BookingStatus][]domain.BookingStatus{
	domain.BookingStatusBooked:     {domain.BookingStatusInProgress, domain.BookingStatusCancelled},
	domain.BookingStatusInProgress: {domain.BookingStatusCompleted, domain.BookingStatusCancelled},
	domain.BookingStatusCompleted:  {},
	domain.BookingStatusCancelled:  {},
}

func isValidBookingTransition(current, next domain.BookingStatus) bool {
	for _, candidate := range allowedBookingTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}
