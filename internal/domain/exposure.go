package domain

import "time"

// ExposureDegree values are hop distances from the confirmed case.
const (
	DegreeConfirmed = 0
	DegreeDirect    = 1
	DegreeIndirect  = 2
)

// ExposureHistory is an immutable audit entry for one health transition.
type ExposureHistory struct {
	ID              string
	UserID          string
	ReportID        string
	OldStatus       HealthStatus
	NewStatus       HealthStatus
	OldDegree       int
	NewDegree       int
	RestrictedUntil *time.Time
	CreatedAt       time.Time
}
