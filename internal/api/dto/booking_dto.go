package dto

import (
	"time"

	"github.com/spec-kit/exposure-service/internal/domain"
)

// CreateBookingRequest payload.
type CreateBookingRequest struct {
	ProviderID   string    `json:"providerId"`
	ScheduledFor time.Time `json:"scheduledFor"`
	Notes        string    `json:"notes"`
}

// UpdateBookingStatusRequest payload.
type UpdateBookingStatusRequest struct {
	Status domain.BookingStatus `json:"status"`
}

// BookingResponse is the wire form of a booking.
type BookingResponse struct {
	ID           string               `json:"id"`
	ProviderID   string               `json:"providerId"`
	CustomerID   string               `json:"customerId"`
	ScheduledFor time.Time            `json:"scheduledFor"`
	Notes        string               `json:"notes,omitempty"`
	Status       domain.BookingStatus `json:"status"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// NewBookingResponse converts a domain booking.
func NewBookingResponse(b *domain.Booking) BookingResponse {
	return BookingResponse{
		ID:           b.ID,
		ProviderID:   b.ProviderID,
		CustomerID:   b.CustomerID,
		ScheduledFor: b.ScheduledFor,
		Notes:        b.Notes,
		Status:       b.Status,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}
