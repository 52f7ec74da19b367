// Package attendance implements the clock-in/out state machine, the read and
// reporting paths, and the dashboard aggregation with its daily snapshot.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"attendbot/internal/apperr"
	"attendbot/internal/config"
	"attendbot/internal/db"
	"attendbot/internal/db/models"
	"attendbot/internal/membership"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLateAfter      = 9 * time.Hour
	DefaultSearchCap      = 5000
	DefaultHistoryLimit   = 365
	DefaultRecentActivity = 4

	defaultPageLimit      = 20
	maxPageLimit          = 100
	userLookupConcurrency = 8

	tracerName = "attendbot/internal/attendance"
)

// Store is the persistence the service writes to. Both backends satisfy it.
type Store interface {
	db.TimeEntryStore
	db.DailyStatsStore
}

// Service is stateless apart from its configuration; it is safe for
// concurrent use.
type Service struct {
	entries   db.TimeEntryStore
	stats     db.DailyStatsStore
	directory db.Directory
	members   *membership.Authority
	validate  *validator.Validate
	tracer    trace.Tracer

	now            func() time.Time
	loc            *time.Location
	lateAfter      time.Duration
	searchCap      int
	historyLimit   int
	recentActivity int
	strict         bool
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the timezone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithLateAfter sets the offset from local midnight after which a first
// clock-in is late.
func WithLateAfter(d time.Duration) Option {
	return func(s *Service) { s.lateAfter = d }
}

func WithSearchCap(n int) Option {
	return func(s *Service) { s.searchCap = n }
}

func WithHistoryLimit(n int) Option {
	return func(s *Service) { s.historyLimit = n }
}

func WithRecentActivity(n int) Option {
	return func(s *Service) { s.recentActivity = n }
}

// WithStrictClockIn makes a clock-in over an open session fail with a
// conflict instead of closing the session.
func WithStrictClockIn(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

// OptionsFromConfig translates the attendance section of the config file.
func OptionsFromConfig(cfg config.Attendance) ([]Option, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	lateAfter, err := cfg.LateCutoff()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithLocation(loc),
		WithLateAfter(lateAfter),
		WithSearchCap(cfg.SearchCap),
		WithHistoryLimit(cfg.HistoryLimit),
		WithRecentActivity(cfg.RecentActivity),
		WithStrictClockIn(cfg.StrictClockIn),
	}, nil
}

func NewService(store Store, directory db.Directory, opts ...Option) *Service {
	s := &Service{
		entries:        store,
		stats:          store,
		directory:      directory,
		members:        membership.New(directory),
		validate:       validator.New(),
		tracer:         otel.Tracer(tracerName),
		now:            time.Now,
		loc:            time.Local,
		lateAfter:      DefaultLateAfter,
		searchCap:      DefaultSearchCap,
		historyLimit:   DefaultHistoryLimit,
		recentActivity: DefaultRecentActivity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the timezone calendar days are computed in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Members exposes the membership authority for callers that gate their own
// operations.
func (s *Service) Members() *membership.Authority {
	return s.members
}

// DayRange parses optional YYYY-MM-DD bounds in the service timezone. The
// upper bound covers the whole day.
func (s *Service) DayRange(from, to string) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if from = strings.TrimSpace(from); from != "" {
		day, err := time.ParseInLocation("2006-01-02", from, s.loc)
		if err != nil {
			return nil, nil, apperr.WithMetadata(apperr.CodeValidation, "invalid from date", map[string]string{"from": from})
		}
		start = &day
	}
	if to = strings.TrimSpace(to); to != "" {
		day, err := time.ParseInLocation("2006-01-02", to, s.loc)
		if err != nil {
			return nil, nil, apperr.WithMetadata(apperr.CodeValidation, "invalid to date", map[string]string{"to": to})
		}
		last := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
		end = &last
	}
	if err := checkRange(start, end); err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

func (s *Service) startSpan(ctx context.Context, name, companyID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "attendance."+name,
		trace.WithAttributes(attribute.String("company.id", companyID)),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// startOfDay returns local midnight of the calendar day containing t.
func (s *Service) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func checkRange(from, to *time.Time) error {
	if from != nil && to != nil && from.After(*to) {
		return apperr.WithMetadata(apperr.CodeValidation, "from must not be after to", map[string]string{
			"from": from.Format(time.RFC3339),
			"to":   to.Format(time.RFC3339),
		})
	}
	return nil
}

func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperr.WithMetadata(apperr.CodeValidation,
			fmt.Sprintf("invalid %s", strings.ToLower(fe.Field())),
			map[string]string{"rule": fe.Tag()},
		)
	}
	return apperr.Wrap(apperr.CodeValidation, "invalid request", err)
}

// userCache resolves users once per request. A nil entry marks a user the
// directory could not resolve.
type userCache struct {
	directory db.Directory
	mu        sync.Mutex
	users     map[uuid.UUID]*models.User
}

func (s *Service) newUserCache() *userCache {
	return &userCache{directory: s.directory, users: make(map[uuid.UUID]*models.User)}
}

func (c *userCache) get(ctx context.Context, id uuid.UUID) *models.User {
	c.mu.Lock()
	user, ok := c.users[id]
	c.mu.Unlock()
	if ok {
		return user
	}

	user, err := c.directory.GetUser(ctx, id)
	if err != nil {
		log.Printf("Unresolved user %s: %v", id, err)
		user = nil
	}
	c.mu.Lock()
	c.users[id] = user
	c.mu.Unlock()
	return user
}

// prefetch resolves the distinct users of entries concurrently.
func (c *userCache) prefetch(ctx context.Context, entries []*models.TimeEntry) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(userLookupConcurrency)
	seen := make(map[uuid.UUID]bool)
	for _, entry := range entries {
		id := entry.UserID
		if seen[id] {
			continue
		}
		seen[id] = true
		g.Go(func() error {
			c.get(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// attach sets the display identity of each entry, leaving it nil when the
// user is unresolved.
func (c *userCache) attach(ctx context.Context, entries []*models.TimeEntry) {
	c.prefetch(ctx, entries)
	for _, entry := range entries {
		if user := c.get(ctx, entry.UserID); user != nil {
			entry.User = user.Ref()
		}
	}
}
