package service

import (
	"context"
	"sort"
	"time"

	"github.com/spec-kit/exposure-service/internal/domain"
)

// InteractionStore is the read side of the booking relation.
type InteractionStore interface {
	FindActiveInteractions(ctx context.Context, anchorID string, role domain.InteractionRole, since time.Time) ([]domain.Booking, error)
}

// ContactQuery describes one hop of the traversal.
type ContactQuery struct {
	AnchorID string
	Role     domain.InteractionRole
	Statuses []domain.BookingStatus
	Window   time.Duration
	Now      time.Time
}

// Since is the inclusive lower bound on last activity, at the microsecond
// precision the stores keep timestamps with.
func (q ContactQuery) Since() time.Time {
	return q.Now.Truncate(time.Microsecond).Add(-q.Window)
}

// ContactResolver turns interactions into node-level adjacency.
type ContactResolver struct {
	store InteractionStore
}

// NewContactResolver builds a resolver over the given store.
func NewContactResolver(store InteractionStore) *ContactResolver {
	return &ContactResolver{store: store}
}

// Resolve returns the sorted, deduplicated counterparts of q.AnchorID. The
// anchor itself is never part of the result.
func (r *ContactResolver) Resolve(ctx context.Context, q ContactQuery) ([]string, error) {
	since := q.Since()
	bookings, err := r.store.FindActiveInteractions(ctx, q.AnchorID, q.Role, since)
	if err != nil {
		return nil, err
	}

	allowed := make(map[domain.BookingStatus]struct{}, len(q.Statuses))
	for _, status := range q.Statuses {
		allowed[status] = struct{}{}
	}

	seen := make(map[string]struct{}, len(bookings))
	contacts := make([]string, 0, len(bookings))
	for _, booking := range bookings {
		if _, ok := allowed[booking.Status]; !ok {
			continue
		}
		if booking.LastActivityAt().Before(since) {
			continue
		}
		counterpart := booking.Counterpart(q.Role)
		if counterpart == "" || counterpart == q.AnchorID {
			continue
		}
		if _, dup := seen[counterpart]; dup {
			continue
		}
		seen[counterpart] = struct{}{}
		contacts = append(contacts, counterpart)
	}
	sort.Strings(contacts)
	return contacts, nil
}
