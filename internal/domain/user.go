package domain

import "time"

// UserRole separates customers who book from providers who serve them.
type UserRole string

const (
	UserRoleCustomer UserRole = "customer"
	UserRoleProvider UserRole = "provider"
	UserRoleAdmin    UserRole = "admin"
)

// Valid reports whether the role is one the service accepts.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleCustomer, UserRoleProvider, UserRoleAdmin:
		return true
	}
	return false
}

// HealthStatus is the registry classification of a user.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusExposed  HealthStatus = "exposed"
	HealthStatusPositive HealthStatus = "positive"
)

// User is the identity record the exposure engine reads and transitions.
// ExposureDegree only carries meaning while HealthStatus is not healthy.
// Version is bumped on every health write and guards concurrent updates.
type User struct {
	ID              string
	Name            string
	Email           string
	PasswordHash    string
	Role            UserRole
	HealthStatus    HealthStatus
	ExposureDegree  int
	RestrictedUntil *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsPositive reports whether the user is a confirmed case.
func (u *User) IsPositive() bool {
	return u.HealthStatus == HealthStatusPositive
}

// ActiveExposure reports whether the user carries an exposure that is still
// restricting them at the given instant.
func (u *User) ActiveExposure(at time.Time) bool {
	if u.HealthStatus != HealthStatusExposed || u.RestrictedUntil == nil {
		return false
	}
	return u.RestrictedUntil.After(at)
}
