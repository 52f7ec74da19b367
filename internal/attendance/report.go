package attendance

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"attendbot/internal/apperr"
	"attendbot/internal/db"
	"attendbot/internal/db/models"
	"attendbot/internal/membership"

	"github.com/google/uuid"
)

// ReportQuery selects the entries to aggregate. From and To are required.
type ReportQuery struct {
	UserID string `validate:"omitempty,uuid"`
	From   time.Time
	To     time.Time
}

type DayTotal struct {
	Day     time.Time // local midnight
	Seconds int64
}

// UserReport is one user's time per calendar day. TotalSeconds is the sum of
// Days.
type UserReport struct {
	UserID       uuid.UUID
	User         *models.UserRef
	Days         []DayTotal
	TotalSeconds int64
}

type Report struct {
	CompanyID uuid.UUID
	From      time.Time
	To        time.Time
	Users     []UserReport
}

// Report aggregates worked seconds per user and calendar day of clock-in.
// Days are ascending and users are ordered by id.
func (s *Service) Report(ctx context.Context, requesterID, companyID string, q ReportQuery) (report *Report, err error) {
	ctx, span := s.startSpan(ctx, "Report", companyID)
	defer func() { endSpan(span, err) }()

	company, _, err := s.members.Require(ctx, companyID, requesterID)
	if err != nil {
		return nil, err
	}
	if err := s.validateStruct(q); err != nil {
		return nil, err
	}
	if q.From.IsZero() || q.To.IsZero() {
		return nil, apperr.Validation("from and to are required")
	}
	if err := checkRange(&q.From, &q.To); err != nil {
		return nil, err
	}

	filter := db.EntryFilter{From: &q.From, To: &q.To}
	if q.UserID != "" {
		uid, err := membership.ParseID("user_id", q.UserID)
		if err != nil {
			return nil, err
		}
		filter.UserID = &uid
	}
	entries, _, err := s.entries.ListEntries(ctx, company.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	users := s.newUserCache()
	users.prefetch(ctx, entries)
	report = &Report{
		CompanyID: company.ID,
		From:      q.From,
		To:        q.To,
		Users:     aggregate(entries, s.loc),
	}
	for i := range report.Users {
		if user := users.get(ctx, report.Users[i].UserID); user != nil {
			report.Users[i].User = user.Ref()
		}
	}
	return report, nil
}

// aggregate groups entries by (user, local day of clock-in), then by user.
func aggregate(entries []*models.TimeEntry, loc *time.Location) []UserReport {
	perDay := make(map[uuid.UUID]map[string]int64)
	for _, entry := range entries {
		key := models.DayKey(entry.ClockInAt.In(loc))
		days, ok := perDay[entry.UserID]
		if !ok {
			days = make(map[string]int64)
			perDay[entry.UserID] = days
		}
		days[key] += entry.WorkedSeconds()
	}

	out := make([]UserReport, 0, len(perDay))
	for userID, days := range perDay {
		keys := make([]string, 0, len(days))
		for key := range days {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		ur := UserReport{UserID: userID, Days: make([]DayTotal, 0, len(keys))}
		for _, key := range keys {
			day, _ := time.ParseInLocation("2006-01-02", key, loc)
			ur.Days = append(ur.Days, DayTotal{Day: day, Seconds: days[key]})
			ur.TotalSeconds += days[key]
		}
		out = append(out, ur)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].UserID[:], out[j].UserID[:]) < 0
	})
	return out
}
