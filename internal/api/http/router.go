package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/exposure-service/internal/api/http/handlers"
	"github.com/spec-kit/exposure-service/internal/auth"
	"github.com/spec-kit/exposure-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Bookings       *handlers.BookingsHandler
	Exposure       *handlers.ExposureHandler
	Metrics        *handlers.MetricsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Snapshot)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	bookings := app.Group("/bookings", cfg.AuthMiddleware.Handle)
	bookings.Get("", cfg.Bookings.ListBookings)
	bookings.Post("", auth.RequireRole(domain.UserRoleCustomer, domain.UserRoleProvider), cfg.Bookings.CreateBooking)
	bookings.Put("/:id/status", auth.RequireRole(domain.UserRoleProvider), cfg.Bookings.UpdateStatus)

	exposure := app.Group("/exposure", cfg.AuthMiddleware.Handle)
	exposure.Post("/report", cfg.Exposure.Report)
	exposure.Get("/me", cfg.Exposure.Me)
}
