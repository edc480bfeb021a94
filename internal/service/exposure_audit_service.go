package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/exposure-service/internal/domain"
	"github.com/spec-kit/exposure-service/internal/events"
	"github.com/spec-kit/exposure-service/internal/repository"
)

// ExposureAuditService records every committed health transition.
type ExposureAuditService struct {
	dispatcher events.Dispatcher
	history    repository.ExposureHistoryRepository
	logger     *zap.Logger
}

// NewExposureAuditService creates the service.
func NewExposureAuditService(dispatcher events.Dispatcher, history repository.ExposureHistoryRepository, logger *zap.Logger) *ExposureAuditService {
	return &ExposureAuditService{
		dispatcher: dispatcher,
		history:    history,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (a *ExposureAuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventUserMarkedPositive, a.handleTransition)
	a.dispatcher.Subscribe(events.EventUserExposed, a.handleTransition)
}

// ListForUser returns the most recent transitions of a user.
func (a *ExposureAuditService) ListForUser(ctx context.Context, userID string, limit int) ([]domain.ExposureHistory, error) {
	if a.history == nil {
		return []domain.ExposureHistory{}, nil
	}
	return a.history.ListByUser(ctx, userID, limit)
}

func (a *ExposureAuditService) handleTransition(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.HealthTransitionPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	a.logger.Info(string(event.Type),
		zap.String("user_id", event.UserID),
		zap.String("report_id", event.ReportID),
		zap.String("old_status", string(payload.OldStatus)),
		zap.String("new_status", string(payload.NewStatus)),
		zap.Int("new_degree", payload.NewDegree),
	)
	if a.history == nil {
		return nil
	}
	entry := &domain.ExposureHistory{
		UserID:          event.UserID,
		ReportID:        event.ReportID,
		OldStatus:       payload.OldStatus,
		NewStatus:       payload.NewStatus,
		OldDegree:       payload.OldDegree,
		NewDegree:       payload.NewDegree,
		RestrictedUntil: payload.RestrictedUntil,
	}
	return a.history.Create(ctx, entry)
}
