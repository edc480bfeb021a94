package dto

import (
	"time"

	"github.com/spec-kit/exposure-service/internal/domain"
)

// ReportExposureRequest payload for POST /exposure/report.
type ReportExposureRequest struct {
	Status string `json:"status"`
}

// ExposureHistoryEntry is one recorded health transition.
type ExposureHistoryEntry struct {
	ReportID        string              `json:"reportId"`
	OldStatus       domain.HealthStatus `json:"oldStatus"`
	NewStatus       domain.HealthStatus `json:"newStatus"`
	OldDegree       int                 `json:"oldDegree"`
	NewDegree       int                 `json:"newDegree"`
	RestrictedUntil *time.Time          `json:"restrictedUntil"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// NewExposureHistoryEntries converts audit rows.
func NewExposureHistoryEntries(entries []domain.ExposureHistory) []ExposureHistoryEntry {
	out := make([]ExposureHistoryEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ExposureHistoryEntry{
			ReportID:        e.ReportID,
			OldStatus:       e.OldStatus,
			NewStatus:       e.NewStatus,
			OldDegree:       e.OldDegree,
			NewDegree:       e.NewDegree,
			RestrictedUntil: e.RestrictedUntil,
			CreatedAt:       e.CreatedAt,
		})
	}
	return out
}
