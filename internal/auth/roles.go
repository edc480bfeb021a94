package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/exposure-service/internal/domain"
	apperrors "github.com/spec-kit/exposure-service/pkg/util/errorutil"
)

// RequireRole ensures the caller has one of the allowed roles. Admins pass
// every check.
func RequireRole(allowed ...domain.UserRole) fiber.Handler {
	allowedSet := make(map[domain.UserRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		user, ok := UserFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if user.Role == domain.UserRoleAdmin || len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[user.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
