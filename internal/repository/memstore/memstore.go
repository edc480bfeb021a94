// Package memstore holds in-memory implementations of the repository
// interfaces. The binary uses them when no database is configured and the
// service and HTTP tests use them as fakes.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/exposure-service/internal/domain"
	"github.com/spec-kit/exposure-service/internal/repository"
)

// Users is an in-memory repository.UserRepository.
type Users struct {
	mu    sync.RWMutex
	byID  map[string]domain.User
	clock func() time.Time
}

// NewUsers returns an empty user store.
func NewUsers() *Users {
	return &Users{byID: make(map[string]domain.User), clock: time.Now}
}

var _ repository.UserRepository = (*Users)(nil)

// Seed stores a user as-is, assigning an id and version when missing.
func (s *Users) Seed(user domain.User) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Version == 0 {
		user.Version = 1
	}
	if user.HealthStatus == "" {
		user.HealthStatus = domain.HealthStatusHealthy
	}
	s.byID[user.ID] = cloneUser(user)
	return cloneUser(user)
}

// Delete removes a user, simulating a record vanishing mid-run.
func (s *Users) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

func (s *Users) Create(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("memstore: email %q already exists", user.Email)
		}
	}
	now := s.clock()
	user.ID = uuid.NewString()
	user.Version = 1
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.HealthStatus == "" {
		user.HealthStatus = domain.HealthStatusHealthy
	}
	s.byID[user.ID] = cloneUser(*user)
	return nil
}

func (s *Users) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := cloneUser(user)
	return &out, nil
}

func (s *Users) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.byID {
		if strings.EqualFold(user.Email, email) {
			out := cloneUser(user)
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *Users) UpdateHealth(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[user.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if stored.Version != user.Version {
		return repository.ErrVersionConflict
	}
	stored.HealthStatus = user.HealthStatus
	stored.ExposureDegree = user.ExposureDegree
	stored.RestrictedUntil = cloneTime(user.RestrictedUntil)
	stored.Version++
	stored.UpdatedAt = s.clock()
	s.byID[user.ID] = stored

	user.Version = stored.Version
	user.UpdatedAt = stored.UpdatedAt
	return nil
}

// Bookings is an in-memory repository.BookingRepository.
type Bookings struct {
	mu    sync.RWMutex
	byID  map[string]domain.Booking
	clock func() time.Time
}

// NewBookings returns an empty booking store.
func NewBookings() *Bookings {
	return &Bookings{byID: make(map[string]domain.Booking), clock: time.Now}
}

var _ repository.BookingRepository = (*Bookings)(nil)

// Seed stores a booking as-is, keeping its UpdatedAt so tests control
// the last-activity timestamp.
func (s *Bookings) Seed(booking domain.Booking) domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = booking.UpdatedAt
	}
	s.byID[booking.ID] = booking
	return booking
}

func (s *Bookings) Create(_ context.Context, booking *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	booking.ID = uuid.NewString()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	if booking.Status == "" {
		booking.Status = domain.BookingStatusBooked
	}
	s.byID[booking.ID] = *booking
	return nil
}

func (s *Bookings) Update(_ context.Context, booking *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[booking.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.Status = booking.Status
	stored.Notes = booking.Notes
	stored.UpdatedAt = s.clock()
	s.byID[booking.ID] = stored
	booking.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *Bookings) GetByID(_ context.Context, id string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	booking, ok := s.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &booking, nil
}

func (s *Bookings) ListByUser(_ context.Context, userID string, limit, offset int) ([]domain.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.RLock()
	var matched []domain.Booking
	for _, booking := range s.byID {
		if booking.CustomerID == userID || booking.ProviderID == userID {
			matched = append(matched, booking)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	if offset >= len(matched) {
		return []domain.Booking{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *Bookings) FindActiveInteractions(_ context.Context, anchorID string, role domain.InteractionRole, since time.Time) ([]domain.Booking, error) {
	if role != domain.RoleAsCustomer && role != domain.RoleAsProvider {
		return nil, fmt.Errorf("unknown interaction role %q", role)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Booking
	for _, booking := range s.byID {
		anchor := booking.CustomerID
		if role == domain.RoleAsProvider {
			anchor = booking.ProviderID
		}
		if anchor != anchorID || !booking.Status.IsActive() || booking.UpdatedAt.Before(since) {
			continue
		}
		result = append(result, booking)
	}
	return result, nil
}

// History is an in-memory repository.ExposureHistoryRepository.
type History struct {
	mu      sync.RWMutex
	entries []domain.ExposureHistory
}

// NewHistory returns an empty history store.
func NewHistory() *History {
	return &History{}
}

var _ repository.ExposureHistoryRepository = (*History)(nil)

func (s *History) Create(_ context.Context, entry *domain.ExposureHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *History) ListByUser(_ context.Context, userID string, limit int) ([]domain.ExposureHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.ExposureHistory
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if s.entries[i].UserID == userID {
			result = append(result, s.entries[i])
		}
	}
	return result, nil
}

func cloneUser(user domain.User) domain.User {
	user.RestrictedUntil = cloneTime(user.RestrictedUntil)
	return user
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
