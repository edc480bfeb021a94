package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/exposure-service/internal/api/dto"
	"github.com/spec-kit/exposure-service/internal/auth"
	"github.com/spec-kit/exposure-service/internal/service"
	apperrors "github.com/spec-kit/exposure-service/pkg/util/errorutil"
)

const historyLimit = 20

// ExposureHandler serves the self-report and health status endpoints.
type ExposureHandler struct {
	exposure *service.ExposureService
	audit    *service.ExposureAuditService
	clock    func() time.Time
}

// NewExposureHandler constructs handler.
func NewExposureHandler(exposure *service.ExposureService, audit *service.ExposureAuditService) *ExposureHandler {
	return &ExposureHandler{exposure: exposure, audit: audit, clock: time.Now}
}

// Report POST /exposure/report.
func (h *ExposureHandler) Report(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.ReportExposureRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	summary, err := h.exposure.ReportPositive(c.UserContext(), user.ID, req.Status, h.clock().UTC())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			var details map[string]any
			if summary != nil {
				details = map[string]any{"summary": summary}
			}
			return apperrors.NewDomainError(apperrors.CodeStoreUnavailable, "propagation interrupted; retry the report", http.StatusServiceUnavailable, details)
		}
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// Me GET /exposure/me.
func (h *ExposureHandler) Me(c *fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	health, err := h.exposure.GetHealth(c.UserContext(), user.ID)
	if err != nil {
		return err
	}
	history, err := h.audit.ListForUser(c.UserContext(), user.ID, historyLimit)
	if err != nil {
		return apperrors.MapError(err)
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"health":  health,
			"history": dto.NewExposureHistoryEntries(history),
		},
	})
}
