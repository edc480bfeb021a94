package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/exposure-service/internal/api/http"
	"github.com/spec-kit/exposure-service/internal/api/http/handlers"
	"github.com/spec-kit/exposure-service/internal/auth"
	"github.com/spec-kit/exposure-service/internal/config"
	"github.com/spec-kit/exposure-service/internal/events"
	"github.com/spec-kit/exposure-service/internal/observability"
	"github.com/spec-kit/exposure-service/internal/persistence"
	"github.com/spec-kit/exposure-service/internal/repository"
	"github.com/spec-kit/exposure-service/internal/repository/memstore"
	"github.com/spec-kit/exposure-service/internal/service"
	"github.com/spec-kit/exposure-service/internal/worker"
)

type stores struct {
	users    repository.UserRepository
	bookings repository.BookingRepository
	history  repository.ExposureHistoryRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probes := map[string]handlers.Pinger{}

	var st stores
	if cfg.Postgres.DSN == "" {
		logger.Warn("POSTGRES_DSN not provided; using in-memory stores")
		st = stores{users: memstore.NewUsers(), bookings: memstore.NewBookings(), history: memstore.NewHistory()}
	} else {
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()

		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pg.PoolHandle(), persistence.DefaultMigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}

		pool := pg.PoolHandle()
		st = stores{
			users:    repository.NewUserRepository(pool),
			bookings: repository.NewBookingRepository(pool),
			history:  repository.NewExposureHistoryRepository(pool),
		}
		probes["postgres"] = pg
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var locker service.RecordLocker = persistence.NewLocalLocker()
	if redis.Configured() {
		locker = persistence.NewRedisLocker(redis.Client, cfg.Exposure.LockTTL())
		probes["redis"] = redis
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	auditService := service.NewExposureAuditService(dispatcher, st.history, logger)
	worker.StartAuditWorker(auditService)

	authService := service.NewAuthService(cfg.Auth, st.users)
	bookingService := service.NewBookingService(service.BookingDependencies{
		BookingRepo: st.bookings,
		UserRepo:    st.users,
	})
	exposureService := service.NewExposureService(service.ExposureDependencies{
		Users:           st.users,
		Interactions:    st.bookings,
		Locker:          locker,
		Dispatcher:      dispatcher,
		Metrics:         metrics,
		Logger:          logger,
		Policy:          service.WindowPolicyFromConfig(cfg.Exposure),
		Parallelism:     cfg.Exposure.Parallelism,
		ConflictRetries: cfg.Exposure.ConflictRetries,
		StoreTimeout:    cfg.Exposure.StoreTimeout(),
	})

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, probes),
		Users:          handlers.NewUsersHandler(authService),
		Bookings:       handlers.NewBookingsHandler(bookingService),
		Exposure:       handlers.NewExposureHandler(exposureService, auditService),
		Metrics:        handlers.NewMetricsHandler(metrics),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), st.users),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
