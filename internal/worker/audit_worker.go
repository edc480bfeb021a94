package worker

import (
	"github.com/spec-kit/exposure-service/internal/service"
)

// StartAuditWorker registers the health transition audit handlers.
func StartAuditWorker(auditService *service.ExposureAuditService) {
	if auditService == nil {
		return
	}
	auditService.RegisterHandlers()
}
