package attendance

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"attendbot/internal/apperr"
	"attendbot/internal/config"
	"attendbot/internal/db/models"
	"attendbot/internal/db/sqlite"

	"github.com/google/uuid"
)

var testZone = time.FixedZone("UTC+7", 7*60*60)

func at(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, testZone)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *sqlite.Store
	clock   *fakeClock
	svc     *Service
	api     *API
	company *models.Company
	owner   *models.User
	alice   *models.User
	bob     *models.User
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "attendance.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

// newFixture builds a company with an owner and two members, Alice and Bob,
// over a fresh SQLite store. The clock starts on Wednesday 2024-01-10 08:00.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store := openStore(t)
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store,
		clock: &fakeClock{now: at(2024, time.January, 10, 8, 0)},
	}
	f.owner = f.saveUser("Olivia", "Owner", "olivia@example.com")
	f.alice = f.saveUser("Alice", "Martin", "alice@example.com")
	f.bob = f.saveUser("Bob", "Stone", "bob@example.com")
	f.company = &models.Company{
		ID:        uuid.New(),
		Name:      "Acme",
		OwnerID:   f.owner.ID,
		MemberIDs: []uuid.UUID{f.alice.ID, f.bob.ID},
	}
	f.saveCompany(f.company)

	base := []Option{WithClock(f.clock.Now), WithLocation(testZone)}
	f.svc = NewService(store, store, append(base, opts...)...)
	f.api = NewAPI(f.svc)
	return f
}

func (f *fixture) saveUser(first, last, email string) *models.User {
	f.t.Helper()
	user := &models.User{ID: uuid.New(), FirstName: first, LastName: last, Email: email}
	if err := f.store.SaveUser(f.ctx, user); err != nil {
		f.t.Fatalf("save user: %v", err)
	}
	return user
}

func (f *fixture) saveCompany(company *models.Company) {
	f.t.Helper()
	if err := f.store.SaveCompany(f.ctx, company); err != nil {
		f.t.Fatalf("save company: %v", err)
	}
}

func (f *fixture) companyID() string {
	return f.company.ID.String()
}

func (f *fixture) clockIn(user *models.User, when time.Time) *models.TimeEntry {
	f.t.Helper()
	f.clock.Set(when)
	entry, err := f.svc.ClockIn(f.ctx, user.ID.String(), user.ID.String(), f.companyID(), ClockDetails{Source: models.SourceWeb})
	if err != nil {
		f.t.Fatalf("clock in %s: %v", user.FirstName, err)
	}
	return entry
}

func (f *fixture) clockOut(user *models.User, when time.Time) *models.TimeEntry {
	f.t.Helper()
	f.clock.Set(when)
	entry, err := f.svc.ClockOut(f.ctx, user.ID.String(), user.ID.String(), f.companyID(), ClockDetails{})
	if err != nil {
		f.t.Fatalf("clock out %s: %v", user.FirstName, err)
	}
	return entry
}

func TestOptionsFromConfig(t *testing.T) {
	t.Parallel()

	opts, err := OptionsFromConfig(config.Attendance{
		Timezone:       "UTC",
		LateAfter:      "08:30",
		SearchCap:      10,
		HistoryLimit:   30,
		RecentActivity: 2,
		StrictClockIn:  true,
	})
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	store := openStore(t)
	svc := NewService(store, store, opts...)
	if svc.Location() != time.UTC {
		t.Fatalf("location = %v, want UTC", svc.Location())
	}
	if svc.lateAfter != 8*time.Hour+30*time.Minute {
		t.Fatalf("late after = %v, want 8h30m", svc.lateAfter)
	}
	if svc.searchCap != 10 || svc.historyLimit != 30 || svc.recentActivity != 2 || !svc.strict {
		t.Fatalf("service options not applied: %+v", svc)
	}

	if _, err := OptionsFromConfig(config.Attendance{Timezone: "Nowhere/City", LateAfter: "09:00"}); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestDayRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	from, to, err := f.svc.DayRange("2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("day range: %v", err)
	}
	if !from.Equal(at(2024, time.January, 1, 0, 0)) {
		t.Fatalf("from = %v", from)
	}
	if want := at(2024, time.February, 1, 0, 0).Add(-time.Nanosecond); !to.Equal(want) {
		t.Fatalf("to = %v, want %v", to, want)
	}

	if _, _, err := f.svc.DayRange("2024-02-01", "2024-01-01"); !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if _, _, err := f.svc.DayRange("01/02/2024", ""); !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	from, to, err = f.svc.DayRange("", "")
	if err != nil || from != nil || to != nil {
		t.Fatalf("empty range = %v, %v, %v", from, to, err)
	}
}
