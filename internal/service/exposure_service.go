package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/exposure-service/internal/domain"
	"github.com/spec-kit/exposure-service/internal/events"
	"github.com/spec-kit/exposure-service/internal/observability"
	"github.com/spec-kit/exposure-service/internal/repository"
	apperrors "github.com/spec-kit/exposure-service/pkg/util/errorutil"
)

// ReportedStatusPositive is the only status a report may carry.
const ReportedStatusPositive = "positive"

// IdentityStore is the subset of user persistence the engine needs.
type IdentityStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	UpdateHealth(ctx context.Context, user *domain.User) error
}

// RecordLocker serializes read-modify-write cycles on one user record.
type RecordLocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// ExposureService propagates a positive report to direct and indirect
// contacts.
type ExposureService struct {
	users           IdentityStore
	resolver        *ContactResolver
	locker          RecordLocker
	dispatcher      events.Dispatcher
	metrics         *observability.Metrics
	logger          *zap.Logger
	policy          WindowPolicy
	parallelism     int
	conflictRetries int
	storeTimeout    time.Duration
}

// ExposureDependencies bundles collaborators for the exposure service.
type ExposureDependencies struct {
	Users           IdentityStore
	Interactions    InteractionStore
	Locker          RecordLocker
	Dispatcher      events.Dispatcher
	Metrics         *observability.Metrics
	Logger          *zap.Logger
	Policy          WindowPolicy
	Parallelism     int
	ConflictRetries int
	StoreTimeout    time.Duration
}

// UserSummary is the externally visible health state of a user.
type UserSummary struct {
	ID              string              `json:"id"`
	HealthStatus    domain.HealthStatus `json:"healthStatus"`
	ExposureDegree  int                 `json:"exposureDegree"`
	RestrictedUntil *time.Time          `json:"restrictedUntil"`
}

// ExposureSummary reports the outcome of one propagation run.
type ExposureSummary struct {
	ReportID                string      `json:"reportId"`
	Reporter                UserSummary `json:"reporter"`
	DirectContactsUpdated   int         `json:"directContactsUpdated"`
	DirectContactsSkipped   int         `json:"directContactsSkipped"`
	IndirectContactsUpdated int         `json:"indirectContactsUpdated"`
	IndirectContactsSkipped int         `json:"indirectContactsSkipped"`
}

// NewExposureService constructs the service.
func NewExposureService(deps ExposureDependencies) *ExposureService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	parallelism := deps.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	retries := deps.ConflictRetries
	if retries < 0 {
		retries = 0
	}
	policy := deps.Policy
	if policy == (WindowPolicy{}) {
		policy = DefaultWindowPolicy()
	}
	return &ExposureService{
		users:           deps.Users,
		resolver:        NewContactResolver(deps.Interactions),
		locker:          deps.Locker,
		dispatcher:      deps.Dispatcher,
		metrics:         deps.Metrics,
		logger:          logger,
		policy:          policy,
		parallelism:     parallelism,
		conflictRetries: retries,
		storeTimeout:    deps.StoreTimeout,
	}
}

// Summarize builds the public view of a user.
func Summarize(user *domain.User) UserSummary {
	return UserSummary{
		ID:              user.ID,
		HealthStatus:    user.HealthStatus,
		ExposureDegree:  user.ExposureDegree,
		RestrictedUntil: user.RestrictedUntil,
	}
}

// GetHealth returns the current health state of a user.
func (s *ExposureService) GetHealth(ctx context.Context, userID string) (*UserSummary, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, s.mapStoreError(ctx, "user", userID, err)
	}
	summary := Summarize(user)
	return &summary, nil
}

// ReportPositive marks reporterID positive at now and propagates exposure
// to providers they booked (degree 1) and to other customers of those
// providers (degree 2). Per-contact failures are logged and counted as
// skipped. When ctx ends mid-traversal the reporter stays committed and the
// partial summary is returned with the context error.
func (s *ExposureService) ReportPositive(ctx context.Context, reporterID, reportedStatus string, now time.Time) (*ExposureSummary, error) {
	if reportedStatus != ReportedStatusPositive {
		return nil, apperrors.NewInvalidArgument("invalid status", map[string]any{"status": reportedStatus})
	}

	started := time.Now()
	reportID := uuid.NewString()
	logger := s.logger.With(zap.String("report_id", reportID), zap.String("reporter_id", reporterID))
	run := &propagationRun{
		service:  s,
		reportID: reportID,
		now:      now,
		logger:   logger,
		degrees:  map[string]int{reporterID: domain.DegreeConfirmed},
	}

	summary, err := run.execute(ctx, reporterID)
	failed := err != nil
	if summary != nil {
		s.metrics.RecordPropagation(
			summary.DirectContactsUpdated, summary.DirectContactsSkipped,
			summary.IndirectContactsUpdated, summary.IndirectContactsSkipped,
			time.Since(started), failed,
		)
		logger.Info("exposure propagated",
			zap.Int("direct_updated", summary.DirectContactsUpdated),
			zap.Int("direct_skipped", summary.DirectContactsSkipped),
			zap.Int("indirect_updated", summary.IndirectContactsUpdated),
			zap.Int("indirect_skipped", summary.IndirectContactsSkipped),
			zap.Bool("complete", !failed),
		)
	} else {
		s.metrics.RecordPropagation(0, 0, 0, 0, time.Since(started), true)
	}
	return summary, err
}

// propagationRun holds the state of one report: the degree assigned to
// every user reached so far and the outcome counters.
type propagationRun struct {
	service  *ExposureService
	reportID string
	now      time.Time
	logger   *zap.Logger

	degrees map[string]int

	mu              sync.Mutex
	directUpdated   int
	directSkipped   int
	indirectUpdated int
	indirectSkipped int
}

func (r *propagationRun) execute(ctx context.Context, reporterID string) (*ExposureSummary, error) {
	s := r.service

	until := r.now.Add(s.policy.Restriction(domain.DegreeConfirmed))
	reporter, _, err := s.updateUser(ctx, reporterID, r.reportID, func(u *domain.User) bool {
		markPositive(u, until)
		return true
	})
	if err != nil {
		return nil, s.mapStoreError(ctx, "user", reporterID, err)
	}

	summary := &ExposureSummary{ReportID: r.reportID, Reporter: Summarize(reporter)}

	direct, err := s.resolve(ctx, ContactQuery{
		AnchorID: reporterID,
		Role:     domain.RoleAsCustomer,
		Statuses: domain.ActiveBookingStatuses,
		Window:   s.policy.Lookback(domain.DegreeDirect),
		Now:      r.now,
	})
	if err != nil {
		return summary, s.mapStoreError(ctx, "interactions", reporterID, err)
	}
	for _, id := range direct {
		r.degrees[id] = domain.DegreeDirect
	}

	// Every direct contact is a hop source, including ones skipped by the
	// sticky rule.
	secondHop := make([][]string, len(direct))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, providerID := range direct {
		i, providerID := i, providerID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.classify(gctx, providerID, domain.DegreeDirect)

			customers, err := s.resolve(gctx, ContactQuery{
				AnchorID: providerID,
				Role:     domain.RoleAsProvider,
				Statuses: domain.ActiveBookingStatuses,
				Window:   s.policy.Lookback(domain.DegreeIndirect),
				Now:      r.now,
			})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.logger.Warn("second hop resolution failed", zap.String("provider_id", providerID), zap.Error(err))
				return nil
			}
			secondHop[i] = customers
			return nil
		})
	}
	if err := waitPhase(ctx, g); err != nil {
		r.fill(summary)
		return summary, fmt.Errorf("propagation interrupted: %w", err)
	}

	indirect := r.indirectCandidates(secondHop)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, customerID := range indirect {
		customerID := customerID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.classify(gctx, customerID, domain.DegreeIndirect)
			return nil
		})
	}
	err = waitPhase(ctx, g)
	r.fill(summary)
	if err != nil {
		return summary, fmt.Errorf("propagation interrupted: %w", err)
	}
	return summary, nil
}

// waitPhase also reports a cancellation that no worker observed.
func waitPhase(ctx context.Context, g *errgroup.Group) error {
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// indirectCandidates merges second-hop results, dropping anyone already
// classified at a closer degree, the reporter included.
func (r *propagationRun) indirectCandidates(secondHop [][]string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, customers := range secondHop {
		for _, id := range customers {
			if _, classified := r.degrees[id]; classified {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}

func (r *propagationRun) classify(ctx context.Context, userID string, degree int) {
	s := r.service
	until := r.now.Add(s.policy.Restriction(degree))
	_, changed, err := s.updateUser(ctx, userID, r.reportID, func(u *domain.User) bool {
		return applyExposure(u, degree, until, r.now)
	})
	if err != nil {
		r.logger.Warn("contact skipped",
			zap.String("user_id", userID),
			zap.Int("degree", degree),
			zap.Error(err),
		)
	}
	r.record(degree, err == nil && changed)
}

func (r *propagationRun) record(degree int, updated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case degree == domain.DegreeDirect && updated:
		r.directUpdated++
	case degree == domain.DegreeDirect:
		r.directSkipped++
	case updated:
		r.indirectUpdated++
	default:
		r.indirectSkipped++
	}
}

func (r *propagationRun) fill(summary *ExposureSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary.DirectContactsUpdated = r.directUpdated
	summary.DirectContactsSkipped = r.directSkipped
	summary.IndirectContactsUpdated = r.indirectUpdated
	summary.IndirectContactsSkipped = r.indirectSkipped
}

// updateUser runs one locked read-modify-write on a user. mutate reports
// whether it changed anything; unchanged users are not written. Version
// conflicts re-read the record and retry up to conflictRetries times.
func (s *ExposureService) updateUser(ctx context.Context, userID, reportID string, mutate func(*domain.User) bool) (*domain.User, bool, error) {
	unlock, err := s.lock(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		user, err := s.getUser(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		before := *user
		if !mutate(user) {
			return user, false, nil
		}

		err = s.saveUser(ctx, user)
		if err == nil {
			s.publishTransition(ctx, reportID, &before, user)
			return user, true, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, false, err
		}
		if attempt >= s.conflictRetries {
			return nil, false, apperrors.NewConflict("user modified concurrently", map[string]any{"user_id": userID})
		}
		s.metrics.RecordConflictRetry()
	}
}

func (s *ExposureService) lock(ctx context.Context, userID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	unlock, err := s.locker.Lock(ctx, userID)
	if err == nil {
		return unlock, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	// Versioned writes still protect the record without the lock.
	s.logger.Warn("user lock unavailable; relying on version check", zap.String("user_id", userID), zap.Error(err))
	return func() {}, nil
}

func (s *ExposureService) getUser(ctx context.Context, userID string) (*domain.User, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.users.GetByID(ctx, userID)
}

func (s *ExposureService) saveUser(ctx context.Context, user *domain.User) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.users.UpdateHealth(ctx, user)
}

func (s *ExposureService) resolve(ctx context.Context, q ContactQuery) ([]string, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.resolver.Resolve(ctx, q)
}

func (s *ExposureService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *ExposureService) publishTransition(ctx context.Context, reportID string, before, after *domain.User) {
	if s.dispatcher == nil {
		return
	}
	eventType := events.EventUserExposed
	if after.IsPositive() {
		eventType = events.EventUserMarkedPositive
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    after.ID,
		ReportID:  reportID,
		Timestamp: time.Now(),
		Payload: events.HealthTransitionPayload{
			OldStatus:       before.HealthStatus,
			NewStatus:       after.HealthStatus,
			OldDegree:       before.ExposureDegree,
			NewDegree:       after.ExposureDegree,
			RestrictedUntil: after.RestrictedUntil,
		},
	}
	// The user write is already committed; its audit must outlive the caller.
	ctx, cancel := s.storeContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("transition handlers failed", zap.String("user_id", after.ID), zap.Error(err))
	}
}

// mapStoreError passes context errors through only when the caller's ctx
// ended; a per-call store timeout is a store failure.
func (s *ExposureService) mapStoreError(ctx context.Context, resource, id string, err error) error {
	var domainErr *apperrors.DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return apperrors.NewNotFound(resource, map[string]any{"id": id})
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return err
	}
	return apperrors.NewStoreUnavailable(resource, err)
}
