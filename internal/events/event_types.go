package events

import (
	"time"

	"github.com/spec-kit/exposure-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserMarkedPositive EventType = "user_marked_positive"
	EventUserExposed        EventType = "user_exposed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	ReportID  string      `json:"report_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// HealthTransitionPayload describes one committed health change.
type HealthTransitionPayload struct {
	OldStatus       domain.HealthStatus `json:"old_status"`
	NewStatus       domain.HealthStatus `json:"new_status"`
	OldDegree       int                 `json:"old_degree"`
	NewDegree       int                 `json:"new_degree"`
	RestrictedUntil *time.Time          `json:"restricted_until,omitempty"`
}
