package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/exposure-service/internal/domain"
	"github.com/spec-kit/exposure-service/internal/events"
	"github.com/spec-kit/exposure-service/internal/observability"
	"github.com/spec-kit/exposure-service/internal/persistence"
	"github.com/spec-kit/exposure-service/internal/repository/memstore"
	apperrors "github.com/spec-kit/exposure-service/pkg/util/errorutil"
)

var reportTime = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

type exposureFixture struct {
	users    *memstore.Users
	bookings *memstore.Bookings
	history  *memstore.History
	metrics  *observability.Metrics
	service  *ExposureService
}

func newExposureFixture(t *testing.T) *exposureFixture {
	t.Helper()
	f := &exposureFixture{
		users:    memstore.NewUsers(),
		bookings: memstore.NewBookings(),
		history:  memstore.NewHistory(),
		metrics:  observability.NewMetrics(),
	}
	f.service = f.build(f.users, f.bookings)
	return f
}

func (f *exposureFixture) build(users IdentityStore, interactions InteractionStore) *ExposureService {
	return f.buildWith(ExposureDependencies{Users: users, Interactions: interactions})
}

// buildWith fills every collaborator deps leaves unset.
func (f *exposureFixture) buildWith(deps ExposureDependencies) *ExposureService {
	if deps.Users == nil {
		deps.Users = f.users
	}
	if deps.Interactions == nil {
		deps.Interactions = f.bookings
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = events.NewInMemoryDispatcher()
		NewExposureAuditService(deps.Dispatcher, f.history, zap.NewNop()).RegisterHandlers()
	}
	if deps.StoreTimeout == 0 {
		deps.StoreTimeout = time.Second
	}
	deps.Locker = persistence.NewLocalLocker()
	deps.Metrics = f.metrics
	deps.Logger = zap.NewNop()
	deps.Parallelism = 4
	deps.ConflictRetries = 3
	return NewExposureService(deps)
}

func (f *exposureFixture) user(id string) string {
	f.users.Seed(domain.User{ID: id, Name: id, Email: id + "@example.com", Role: domain.UserRoleCustomer})
	return id
}

func (f *exposureFixture) seedUser(user domain.User) string {
	return f.users.Seed(user).ID
}

func (f *exposureFixture) book(customerID, providerID string, status domain.BookingStatus, age time.Duration) {
	f.bookings.Seed(domain.Booking{
		CustomerID:   customerID,
		ProviderID:   providerID,
		Status:       status,
		ScheduledFor: reportTime.Add(-age),
		UpdatedAt:    reportTime.Add(-age),
	})
}

func (f *exposureFixture) get(t *testing.T, id string) *domain.User {
	t.Helper()
	user, err := f.users.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return user
}

func assertHealth(t *testing.T, user *domain.User, status domain.HealthStatus, degree int, until time.Time) {
	t.Helper()
	if user.HealthStatus != status || user.ExposureDegree != degree {
		t.Fatalf("user %s: want %s/%d got %s/%d", user.ID, status, degree, user.HealthStatus, user.ExposureDegree)
	}
	if user.RestrictedUntil == nil || !user.RestrictedUntil.Equal(until) {
		t.Fatalf("user %s: want restricted until %s got %v", user.ID, until, user.RestrictedUntil)
	}
}

func assertHealthy(t *testing.T, user *domain.User) {
	t.Helper()
	if user.HealthStatus != domain.HealthStatusHealthy || user.RestrictedUntil != nil {
		t.Fatalf("user %s: expected untouched healthy user, got %s until %v", user.ID, user.HealthStatus, user.RestrictedUntil)
	}
}

func assertCounts(t *testing.T, summary *ExposureSummary, directUpdated, directSkipped, indirectUpdated, indirectSkipped int) {
	t.Helper()
	got := [4]int{summary.DirectContactsUpdated, summary.DirectContactsSkipped, summary.IndirectContactsUpdated, summary.IndirectContactsSkipped}
	want := [4]int{directUpdated, directSkipped, indirectUpdated, indirectSkipped}
	if got != want {
		t.Fatalf("counts (direct updated/skipped, indirect updated/skipped): want %v got %v", want, got)
	}
}

func TestReportPositive_DirectContactOnly(t *testing.T) {
	f := newExposureFixture(t)
	r, p1, p2 := f.user("r"), f.user("p1"), f.user("p2")
	f.book(r, p1, domain.BookingStatusCompleted, 4*day)
	f.book(r, p2, domain.BookingStatusCancelled, day)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealth(t, f.get(t, r), domain.HealthStatusPositive, 0, reportTime.Add(10*day))
	assertHealth(t, f.get(t, p1), domain.HealthStatusExposed, 1, reportTime.Add(10*day))
	assertHealthy(t, f.get(t, p2))
	assertCounts(t, summary, 1, 0, 0, 0)

	if summary.Reporter.ID != r || summary.Reporter.HealthStatus != domain.HealthStatusPositive {
		t.Fatalf("unexpected reporter summary: %+v", summary.Reporter)
	}
	if summary.ReportID == "" {
		t.Fatal("expected a report id")
	}
}

func TestReportPositive_SecondHop(t *testing.T) {
	f := newExposureFixture(t)
	r, p1, c1, c2 := f.user("r"), f.user("p1"), f.user("c1"), f.user("c2")
	f.book(r, p1, domain.BookingStatusCompleted, 4*day)
	f.book(c1, p1, domain.BookingStatusBooked, day)
	f.book(c2, p1, domain.BookingStatusInProgress, 5*day)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealth(t, f.get(t, p1), domain.HealthStatusExposed, 1, reportTime.Add(10*day))
	assertHealth(t, f.get(t, c1), domain.HealthStatusExposed, 2, reportTime.Add(2*day))
	assertHealthy(t, f.get(t, c2))
	assertCounts(t, summary, 1, 0, 1, 0)
}

func TestReportPositive_PositiveContactIsSticky(t *testing.T) {
	f := newExposureFixture(t)
	r, p1, c1 := f.user("r"), f.user("p1"), f.user("c1")
	earlier := reportTime.Add(3 * day)
	f.seedUser(domain.User{ID: c1, HealthStatus: domain.HealthStatusPositive, RestrictedUntil: &earlier})
	f.book(r, p1, domain.BookingStatusCompleted, 4*day)
	f.book(c1, p1, domain.BookingStatusBooked, day)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealth(t, f.get(t, c1), domain.HealthStatusPositive, 0, earlier)
	assertCounts(t, summary, 1, 0, 0, 1)
}

func TestReportPositive_PositiveProviderStillSeedsSecondHop(t *testing.T) {
	f := newExposureFixture(t)
	r, c1 := f.user("r"), f.user("c1")
	until := reportTime.Add(day)
	p1 := f.seedUser(domain.User{ID: "p1", HealthStatus: domain.HealthStatusPositive, RestrictedUntil: &until})
	f.book(r, p1, domain.BookingStatusCompleted, day)
	f.book(c1, p1, domain.BookingStatusBooked, day)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealth(t, f.get(t, p1), domain.HealthStatusPositive, 0, until)
	assertHealth(t, f.get(t, c1), domain.HealthStatusExposed, 2, reportTime.Add(2*day))
	assertCounts(t, summary, 0, 1, 1, 0)
}

func TestReportPositive_InvalidStatusMutatesNothing(t *testing.T) {
	f := newExposureFixture(t)
	r, p1 := f.user("r"), f.user("p1")
	f.book(r, p1, domain.BookingStatusCompleted, day)

	for _, status := range []string{"negative", "", "POSITIVE"} {
		summary, err := f.service.ReportPositive(context.Background(), r, status, reportTime)
		if !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
			t.Fatalf("status %q: expected INVALID_ARGUMENT, got %v", status, err)
		}
		if summary != nil {
			t.Fatalf("status %q: expected no summary", status)
		}
	}

	for _, id := range []string{r, p1} {
		user := f.get(t, id)
		assertHealthy(t, user)
		if user.Version != 1 {
			t.Fatalf("user %s was written: version %d", id, user.Version)
		}
	}
}

func TestReportPositive_UnknownReporter(t *testing.T) {
	f := newExposureFixture(t)

	summary, err := f.service.ReportPositive(context.Background(), "ghost", "positive", reportTime)
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if summary != nil {
		t.Fatal("expected no summary for unknown reporter")
	}
}

func TestReportPositive_RepeatedReportRefreshesRestriction(t *testing.T) {
	f := newExposureFixture(t)
	r := f.user("r")
	later := reportTime.Add(36 * time.Hour)

	if _, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime); err != nil {
		t.Fatalf("first report: %v", err)
	}
	summary, err := f.service.ReportPositive(context.Background(), r, "positive", later)
	if err != nil {
		t.Fatalf("second report: %v", err)
	}

	assertHealth(t, f.get(t, r), domain.HealthStatusPositive, 0, later.Add(10*day))
	assertCounts(t, summary, 0, 0, 0, 0)
}

func TestReportPositive_WindowBoundariesAreInclusive(t *testing.T) {
	f := newExposureFixture(t)
	r := f.user("r")
	edge, stale := f.user("p-edge"), f.user("p-stale")
	c1, c2 := f.user("c-edge"), f.user("c-stale")
	f.book(r, edge, domain.BookingStatusCompleted, 10*day)
	f.book(r, stale, domain.BookingStatusCompleted, 10*day+time.Second)
	f.book(c1, edge, domain.BookingStatusBooked, 2*day)
	f.book(c2, edge, domain.BookingStatusBooked, 2*day+time.Second)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealth(t, f.get(t, edge), domain.HealthStatusExposed, 1, reportTime.Add(10*day))
	assertHealthy(t, f.get(t, stale))
	assertHealth(t, f.get(t, c1), domain.HealthStatusExposed, 2, reportTime.Add(2*day))
	assertHealthy(t, f.get(t, c2))
	assertCounts(t, summary, 1, 0, 1, 0)
}

func TestReportPositive_RepeatedBookingsCountOnce(t *testing.T) {
	f := newExposureFixture(t)
	r, p1, c1 := f.user("r"), f.user("p1"), f.user("c1")
	f.book(r, p1, domain.BookingStatusBooked, time.Hour)
	f.book(r, p1, domain.BookingStatusInProgress, 2*time.Hour)
	f.book(r, p1, domain.BookingStatusCompleted, 3*day)
	f.book(c1, p1, domain.BookingStatusBooked, time.Hour)
	f.book(c1, p1, domain.BookingStatusCompleted, day)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	assertCounts(t, summary, 1, 0, 1, 0)
}

func TestReportPositive_ReporterIsNeverReclassified(t *testing.T) {
	f := newExposureFixture(t)
	r, p1 := f.user("r"), f.user("p1")
	// r is also a recent customer of p1, so p1's second hop returns r.
	f.book(r, p1, domain.BookingStatusBooked, time.Hour)
	// r served p1 as a provider, which must not make r its own contact.
	f.book(p1, r, domain.BookingStatusCompleted, time.Hour)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealth(t, f.get(t, r), domain.HealthStatusPositive, 0, reportTime.Add(10*day))
	assertCounts(t, summary, 1, 0, 0, 0)
}

func TestReportPositive_ClosestDegreeWins(t *testing.T) {
	f := newExposureFixture(t)
	r, p1, x := f.user("r"), f.user("p1"), f.user("x")
	f.book(r, p1, domain.BookingStatusCompleted, day)
	// x is both a provider r booked and a customer of p1.
	f.book(r, x, domain.BookingStatusCompleted, day)
	f.book(x, p1, domain.BookingStatusBooked, time.Hour)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealth(t, f.get(t, x), domain.HealthStatusExposed, 1, reportTime.Add(10*day))
	assertCounts(t, summary, 2, 0, 0, 0)
}

func TestReportPositive_ExistingExposure(t *testing.T) {
	f := newExposureFixture(t)
	r, p1 := f.user("r"), f.user("p1")
	strongUntil := reportTime.Add(5 * day)
	weakUntil := reportTime.Add(time.Hour)
	expiredUntil := reportTime.Add(-time.Hour)
	strong := f.seedUser(domain.User{ID: "strong", HealthStatus: domain.HealthStatusExposed, ExposureDegree: 1, RestrictedUntil: &strongUntil})
	expired := f.seedUser(domain.User{ID: "expired", HealthStatus: domain.HealthStatusExposed, ExposureDegree: 1, RestrictedUntil: &expiredUntil})
	upgraded := f.seedUser(domain.User{ID: "upgraded", HealthStatus: domain.HealthStatusExposed, ExposureDegree: 2, RestrictedUntil: &weakUntil})

	f.book(r, p1, domain.BookingStatusCompleted, day)
	f.book(r, upgraded, domain.BookingStatusCompleted, day)
	f.book(strong, p1, domain.BookingStatusBooked, time.Hour)
	f.book(expired, p1, domain.BookingStatusBooked, time.Hour)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealth(t, f.get(t, strong), domain.HealthStatusExposed, 1, strongUntil)
	assertHealth(t, f.get(t, expired), domain.HealthStatusExposed, 2, reportTime.Add(2*day))
	assertHealth(t, f.get(t, upgraded), domain.HealthStatusExposed, 1, reportTime.Add(10*day))
	assertCounts(t, summary, 2, 0, 1, 1)
}

func TestReportPositive_MissingContactIsSkipped(t *testing.T) {
	f := newExposureFixture(t)
	r, p2, c1 := f.user("r"), f.user("p2"), f.user("c1")
	f.book(r, "vanished", domain.BookingStatusCompleted, day)
	f.book(r, p2, domain.BookingStatusCompleted, day)
	f.book(c1, "vanished", domain.BookingStatusBooked, time.Hour)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealth(t, f.get(t, p2), domain.HealthStatusExposed, 1, reportTime.Add(10*day))
	assertHealth(t, f.get(t, c1), domain.HealthStatusExposed, 2, reportTime.Add(2*day))
	assertCounts(t, summary, 1, 1, 1, 0)
}

// racingUsers commits a positive report for targetID right before the
// engine's first write to it, forcing a version conflict.
type racingUsers struct {
	*memstore.Users
	targetID string
	once     sync.Once
}

func (r *racingUsers) UpdateHealth(ctx context.Context, user *domain.User) error {
	if user.ID == r.targetID {
		r.once.Do(func() {
			current, err := r.Users.GetByID(ctx, user.ID)
			if err != nil {
				return
			}
			markPositive(current, reportTime.Add(day))
			_ = r.Users.UpdateHealth(ctx, current)
		})
	}
	return r.Users.UpdateHealth(ctx, user)
}

func TestReportPositive_ConflictRereadsRecord(t *testing.T) {
	f := newExposureFixture(t)
	r, p1 := f.user("r"), f.user("p1")
	f.book(r, p1, domain.BookingStatusCompleted, day)
	svc := f.build(&racingUsers{Users: f.users, targetID: p1}, f.bookings)

	summary, err := svc.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealth(t, f.get(t, p1), domain.HealthStatusPositive, 0, reportTime.Add(day))
	assertCounts(t, summary, 0, 1, 0, 0)
	if got := f.metrics.Snapshot().Propagation.ConflictRetries; got != 1 {
		t.Fatalf("expected one conflict retry, got %d", got)
	}
}

// conflictingUsers rejects every write to targetID.
type conflictingUsers struct {
	*memstore.Users
	targetID string
}

func (c *conflictingUsers) UpdateHealth(ctx context.Context, user *domain.User) error {
	if user.ID == c.targetID {
		current, err := c.Users.GetByID(ctx, user.ID)
		if err != nil {
			return err
		}
		if err := c.Users.UpdateHealth(ctx, current); err != nil {
			return err
		}
	}
	return c.Users.UpdateHealth(ctx, user)
}

func TestReportPositive_ExhaustedRetriesSkipContact(t *testing.T) {
	f := newExposureFixture(t)
	r, p1, p2 := f.user("r"), f.user("p1"), f.user("p2")
	f.book(r, p1, domain.BookingStatusCompleted, day)
	f.book(r, p2, domain.BookingStatusCompleted, day)
	svc := f.build(&conflictingUsers{Users: f.users, targetID: p1}, f.bookings)

	summary, err := svc.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if f.get(t, p1).HealthStatus != domain.HealthStatusHealthy {
		t.Fatal("p1 should not have been written")
	}
	assertHealth(t, f.get(t, p2), domain.HealthStatusExposed, 1, reportTime.Add(10*day))
	assertCounts(t, summary, 1, 1, 0, 0)
}

type failingInteractions struct {
	InteractionStore
	failFor map[string]bool
}

func (f *failingInteractions) FindActiveInteractions(ctx context.Context, anchorID string, role domain.InteractionRole, since time.Time) ([]domain.Booking, error) {
	if f.failFor[anchorID] {
		return nil, errors.New("connection refused")
	}
	return f.InteractionStore.FindActiveInteractions(ctx, anchorID, role, since)
}

func TestReportPositive_InteractionStoreUnavailable(t *testing.T) {
	f := newExposureFixture(t)
	r, p1 := f.user("r"), f.user("p1")
	f.book(r, p1, domain.BookingStatusCompleted, day)
	svc := f.build(f.users, &failingInteractions{InteractionStore: f.bookings, failFor: map[string]bool{r: true}})

	summary, err := svc.ReportPositive(context.Background(), r, "positive", reportTime)
	if !apperrors.HasCode(err, apperrors.CodeStoreUnavailable) {
		t.Fatalf("expected STORE_UNAVAILABLE, got %v", err)
	}
	if summary == nil || summary.Reporter.HealthStatus != domain.HealthStatusPositive {
		t.Fatalf("expected reporter summary alongside the error, got %+v", summary)
	}
	assertHealth(t, f.get(t, r), domain.HealthStatusPositive, 0, reportTime.Add(10*day))
	assertHealthy(t, f.get(t, p1))

	// The whole call is safe to retry once the store recovers.
	summary, err = f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	assertCounts(t, summary, 1, 0, 0, 0)
}

func TestReportPositive_SecondHopFailureIsIsolated(t *testing.T) {
	f := newExposureFixture(t)
	r, p1, p2, c1, c2 := f.user("r"), f.user("p1"), f.user("p2"), f.user("c1"), f.user("c2")
	f.book(r, p1, domain.BookingStatusCompleted, day)
	f.book(r, p2, domain.BookingStatusCompleted, day)
	f.book(c1, p1, domain.BookingStatusBooked, time.Hour)
	f.book(c2, p2, domain.BookingStatusBooked, time.Hour)
	svc := f.build(f.users, &failingInteractions{InteractionStore: f.bookings, failFor: map[string]bool{p1: true}})

	summary, err := svc.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	assertHealthy(t, f.get(t, c1))
	assertHealth(t, f.get(t, c2), domain.HealthStatusExposed, 2, reportTime.Add(2*day))
	assertCounts(t, summary, 2, 0, 1, 0)
}

// cancellingInteractions cancels the run as soon as the first hop is
// resolved.
type cancellingInteractions struct {
	InteractionStore
	cancel context.CancelFunc
}

func (c *cancellingInteractions) FindActiveInteractions(ctx context.Context, anchorID string, role domain.InteractionRole, since time.Time) ([]domain.Booking, error) {
	bookings, err := c.InteractionStore.FindActiveInteractions(ctx, anchorID, role, since)
	if role == domain.RoleAsCustomer {
		c.cancel()
	}
	return bookings, err
}

func TestReportPositive_CancellationKeepsReporterCommitted(t *testing.T) {
	f := newExposureFixture(t)
	r, p1 := f.user("r"), f.user("p1")
	f.book(r, p1, domain.BookingStatusCompleted, day)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := f.build(f.users, &cancellingInteractions{InteractionStore: f.bookings, cancel: cancel})

	summary, err := svc.ReportPositive(ctx, r, "positive", reportTime)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary == nil {
		t.Fatal("expected a partial summary")
	}
	assertHealth(t, f.get(t, r), domain.HealthStatusPositive, 0, reportTime.Add(10*day))
	assertHealthy(t, f.get(t, p1))
	assertCounts(t, summary, 0, 0, 0, 0)
	if got := f.metrics.Snapshot().Propagation.FailedRuns; got != 1 {
		t.Fatalf("expected the run to be recorded as failed, got %d", got)
	}
}

func TestReportPositive_ConcurrentReportsKeepPositivesSticky(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newExposureFixture(t)
		r1, r2, p := f.user("r1"), f.user("r2"), f.user("p")
		f.book(r1, p, domain.BookingStatusCompleted, time.Hour)
		f.book(r2, p, domain.BookingStatusCompleted, time.Hour)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, reporter := range []string{r1, r2} {
			j, reporter := j, reporter
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[j] = f.service.ReportPositive(context.Background(), reporter, "positive", reportTime)
			}()
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				t.Fatalf("iteration %d: %v", i, err)
			}
		}
		assertHealth(t, f.get(t, r1), domain.HealthStatusPositive, 0, reportTime.Add(10*day))
		assertHealth(t, f.get(t, r2), domain.HealthStatusPositive, 0, reportTime.Add(10*day))
		assertHealth(t, f.get(t, p), domain.HealthStatusExposed, 1, reportTime.Add(10*day))
	}
}

func TestReportPositive_RecordsHistory(t *testing.T) {
	f := newExposureFixture(t)
	r, p1, c1 := f.user("r"), f.user("p1"), f.user("c1")
	f.book(r, p1, domain.BookingStatusCompleted, day)
	f.book(c1, p1, domain.BookingStatusBooked, time.Hour)

	summary, err := f.service.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	want := map[string]struct {
		status domain.HealthStatus
		degree int
	}{
		r:  {domain.HealthStatusPositive, 0},
		p1: {domain.HealthStatusExposed, 1},
		c1: {domain.HealthStatusExposed, 2},
	}
	for id, exp := range want {
		entries, err := f.history.ListByUser(context.Background(), id, 10)
		if err != nil {
			t.Fatalf("history %s: %v", id, err)
		}
		if len(entries) != 1 {
			t.Fatalf("history %s: expected 1 entry, got %d", id, len(entries))
		}
		entry := entries[0]
		if entry.ReportID != summary.ReportID || entry.NewStatus != exp.status || entry.NewDegree != exp.degree {
			t.Fatalf("history %s: unexpected entry %+v", id, entry)
		}
		if entry.OldStatus != domain.HealthStatusHealthy {
			t.Fatalf("history %s: expected old status healthy, got %s", id, entry.OldStatus)
		}
	}
}

func TestGetHealth(t *testing.T) {
	f := newExposureFixture(t)
	r := f.user("r")

	got, err := f.service.GetHealth(context.Background(), r)
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	if got.HealthStatus != domain.HealthStatusHealthy || got.RestrictedUntil != nil {
		t.Fatalf("unexpected summary %+v", got)
	}

	if _, err := f.service.GetHealth(context.Background(), "ghost"); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

// blockingUsers never answers GetByID before the call's context ends.
type blockingUsers struct {
	*memstore.Users
}

func (b *blockingUsers) GetByID(ctx context.Context, _ string) (*domain.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestReportPositive_IdentityStoreTimeout(t *testing.T) {
	f := newExposureFixture(t)
	r := f.user("r")
	svc := f.buildWith(ExposureDependencies{Users: &blockingUsers{Users: f.users}, StoreTimeout: 50 * time.Millisecond})

	summary, err := svc.ReportPositive(context.Background(), r, "positive", reportTime)
	if !apperrors.HasCode(err, apperrors.CodeStoreUnavailable) {
		t.Fatalf("expected STORE_UNAVAILABLE, got %v", err)
	}
	if summary != nil {
		t.Fatalf("reporter was never written, expected no summary, got %+v", summary)
	}
	if _, err := svc.GetHealth(context.Background(), r); !apperrors.HasCode(err, apperrors.CodeStoreUnavailable) {
		t.Fatalf("get health: expected STORE_UNAVAILABLE, got %v", err)
	}
}

func TestReportPositive_CallerDeadlineIsNotAStoreFailure(t *testing.T) {
	f := newExposureFixture(t)
	r := f.user("r")
	svc := f.buildWith(ExposureDependencies{Users: &blockingUsers{Users: f.users}, StoreTimeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.ReportPositive(ctx, r, "positive", reportTime)
	if !errors.Is(err, context.DeadlineExceeded) || apperrors.HasCode(err, apperrors.CodeStoreUnavailable) {
		t.Fatalf("expected the caller's deadline error, got %v", err)
	}
}

// blockingInteractions never answers for the listed anchors before the
// call's context ends.
type blockingInteractions struct {
	InteractionStore
	blockFor map[string]bool
}

func (b *blockingInteractions) FindActiveInteractions(ctx context.Context, anchorID string, role domain.InteractionRole, since time.Time) ([]domain.Booking, error) {
	if b.blockFor[anchorID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.InteractionStore.FindActiveInteractions(ctx, anchorID, role, since)
}

func TestReportPositive_FirstHopTimeout(t *testing.T) {
	f := newExposureFixture(t)
	r, p1 := f.user("r"), f.user("p1")
	f.book(r, p1, domain.BookingStatusCompleted, day)
	svc := f.buildWith(ExposureDependencies{
		Interactions: &blockingInteractions{InteractionStore: f.bookings, blockFor: map[string]bool{r: true}},
		StoreTimeout: 50 * time.Millisecond,
	})

	started := time.Now()
	summary, err := svc.ReportPositive(context.Background(), r, "positive", reportTime)
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("store timeout not applied, run took %s", elapsed)
	}
	if !apperrors.HasCode(err, apperrors.CodeStoreUnavailable) {
		t.Fatalf("expected STORE_UNAVAILABLE, got %v", err)
	}
	if summary == nil || summary.Reporter.HealthStatus != domain.HealthStatusPositive {
		t.Fatalf("expected reporter summary alongside the error, got %+v", summary)
	}
	assertHealthy(t, f.get(t, p1))
}

func TestReportPositive_SecondHopTimeoutIsIsolated(t *testing.T) {
	f := newExposureFixture(t)
	r, p1, p2, c1, c2 := f.user("r"), f.user("p1"), f.user("p2"), f.user("c1"), f.user("c2")
	f.book(r, p1, domain.BookingStatusCompleted, day)
	f.book(r, p2, domain.BookingStatusCompleted, day)
	f.book(c1, p1, domain.BookingStatusBooked, time.Hour)
	f.book(c2, p2, domain.BookingStatusBooked, time.Hour)
	svc := f.buildWith(ExposureDependencies{
		Interactions: &blockingInteractions{InteractionStore: f.bookings, blockFor: map[string]bool{p1: true}},
		StoreTimeout: 50 * time.Millisecond,
	})

	summary, err := svc.ReportPositive(context.Background(), r, "positive", reportTime)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	assertHealthy(t, f.get(t, c1))
	assertHealth(t, f.get(t, c2), domain.HealthStatusExposed, 2, reportTime.Add(2*day))
	assertCounts(t, summary, 2, 0, 1, 0)
}

// cancelAfterWrite cancels the caller right after a user write commits.
type cancelAfterWrite struct {
	*memstore.Users
	cancel context.CancelFunc
}

func (c *cancelAfterWrite) UpdateHealth(ctx context.Context, user *domain.User) error {
	err := c.Users.UpdateHealth(ctx, user)
	c.cancel()
	return err
}

func TestReportPositive_AuditSurvivesCallerCancellation(t *testing.T) {
	f := newExposureFixture(t)
	r := f.user("r")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var handlerErrs []error
	dispatcher := events.NewInMemoryDispatcher()
	dispatcher.Subscribe(events.EventUserMarkedPositive, func(ctx context.Context, _ events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		handlerErrs = append(handlerErrs, ctx.Err())
		return nil
	})
	svc := f.buildWith(ExposureDependencies{
		Users:      &cancelAfterWrite{Users: f.users, cancel: cancel},
		Dispatcher: dispatcher,
	})

	_, err := svc.ReportPositive(ctx, r, "positive", reportTime)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the run to observe cancellation, got %v", err)
	}
	assertHealth(t, f.get(t, r), domain.HealthStatusPositive, 0, reportTime.Add(10*day))

	mu.Lock()
	defer mu.Unlock()
	if len(handlerErrs) != 1 || handlerErrs[0] != nil {
		t.Fatalf("audit handler should run with a live context, got %v", handlerErrs)
	}
}
