package domain

import "time"

// BookingStatus enumerates interaction lifecycle states.
type BookingStatus string

const (
	BookingStatusBooked     BookingStatus = "booked"
	BookingStatusInProgress BookingStatus = "in_progress"
	BookingStatusCompleted  BookingStatus = "completed"
	BookingStatusCancelled  BookingStatus = "cancelled"
)

// ActiveBookingStatuses are the states in which an encounter happened or is
// ongoing. Cancelled bookings never count toward exposure.
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusBooked,
	BookingStatusInProgress,
	BookingStatusCompleted,
}

// IsActive reports whether the status belongs to the active set.
func (s BookingStatus) IsActive() bool {
	for _, active := range ActiveBookingStatuses {
		if s == active {
			return true
		}
	}
	return false
}

// InteractionRole selects which side of a booking the anchor user occupies.
type InteractionRole string

const (
	RoleAsCustomer InteractionRole = "customer"
	RoleAsProvider InteractionRole = "provider"
)

// Booking links one customer with one provider. UpdatedAt is the
// last-activity timestamp used for exposure windows.
type Booking struct {
	ID           string
	ProviderID   string
	CustomerID   string
	ScheduledFor time.Time
	Notes        string
	Status       BookingStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LastActivityAt returns the timestamp of the most recent state change.
func (b Booking) LastActivityAt() time.Time {
	return b.UpdatedAt
}

// Counterpart returns the user on the other side of the booking from the
// given role.
func (b Booking) Counterpart(role InteractionRole) string {
	if role == RoleAsCustomer {
		return b.ProviderID
	}
	return b.CustomerID
}
