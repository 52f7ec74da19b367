package attendance

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"attendbot/internal/db"
	"attendbot/internal/db/models"

	"github.com/google/uuid"
)

// weekDays is the number of working days reported in WeeklyAttendance,
// Monday through Saturday.
const weekDays = 6

type DayRate struct {
	Day     time.Time // local midnight
	Present int
	Rate    int
}

// Dashboard is the point-in-time attendance rollup of a company.
type Dashboard struct {
	CompanyID        uuid.UUID
	GeneratedAt      time.Time
	TotalEmployees   int
	PresentToday     int
	AbsentToday      int
	TauxPresence     int
	LateToday        int
	WeekStart        time.Time
	WeeklyAttendance []DayRate
	RecentActivity   []*models.TimeEntry
	// Snapshot is the DailyStats row computed for today.
	Snapshot *models.DailyStats
	// SnapshotError is set when the snapshot could not be persisted.
	SnapshotError string
}

// weekStart returns local midnight of the Monday that starts the week of day.
// Sunday is the seventh day of the week that started six days earlier.
func weekStart(day time.Time) time.Time {
	offset := int(day.Weekday())
	if offset == 0 {
		offset = 7
	}
	y, m, d := day.Date()
	return time.Date(y, m, d-offset+1, 0, 0, 0, 0, day.Location())
}

// percent rounds part/total to a whole percentage in [0, 100].
func percent(part, total int) int {
	if total <= 0 || part <= 0 {
		return 0
	}
	rate := int(math.Round(float64(part) / float64(total) * 100))
	if rate > 100 {
		return 100
	}
	return rate
}

type dashboardInput struct {
	company   *models.Company
	entries   []*models.TimeEntry // clock-ins within the current week
	now       time.Time
	loc       *time.Location
	lateAfter time.Duration
	recent    int
}

// computeDashboard derives the dashboard and today's snapshot from a fixed
// entry set. It performs no I/O.
func computeDashboard(in dashboardInput) *Dashboard {
	now := in.now.In(in.loc)
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, in.loc)
	todayKey := models.DayKey(today)
	// Wall-clock cutoff, so DST transitions do not shift it.
	cutoff := time.Date(y, m, d,
		int(in.lateAfter/time.Hour),
		int(in.lateAfter%time.Hour/time.Minute),
		int(in.lateAfter%time.Minute/time.Second),
		0, in.loc)

	total := len(in.company.Employees())
	presentByDay := make(map[string]map[uuid.UUID]bool)
	first := make(map[uuid.UUID]*models.TimeEntry)
	last := make(map[uuid.UUID]*models.TimeEntry)
	var todays []*models.TimeEntry

	for _, entry := range in.entries {
		key := models.DayKey(entry.ClockInAt.In(in.loc))
		if presentByDay[key] == nil {
			presentByDay[key] = make(map[uuid.UUID]bool)
		}
		presentByDay[key][entry.UserID] = true
		if key != todayKey {
			continue
		}
		todays = append(todays, entry)
		if f, ok := first[entry.UserID]; !ok || entry.ClockInAt.Before(f.ClockInAt) {
			first[entry.UserID] = entry
		}
		if l, ok := last[entry.UserID]; !ok || entry.ClockInAt.After(l.ClockInAt) {
			last[entry.UserID] = entry
		}
	}

	details := make([]models.AttendanceDetail, 0, len(first))
	late := 0
	for userID, entry := range first {
		detail := models.AttendanceDetail{
			UserID:     userID,
			ClockInAt:  entry.ClockInAt,
			ClockOutAt: last[userID].ClockOutAt,
			IsLate:     entry.ClockInAt.After(cutoff),
		}
		if detail.IsLate {
			late++
		}
		details = append(details, detail)
	}
	sort.Slice(details, func(i, j int) bool {
		if !details[i].ClockInAt.Equal(details[j].ClockInAt) {
			return details[i].ClockInAt.Before(details[j].ClockInAt)
		}
		return bytes.Compare(details[i].UserID[:], details[j].UserID[:]) < 0
	})

	present := len(presentByDay[todayKey])
	absent := total - present
	if absent < 0 {
		absent = 0
	}
	rate := percent(present, total)

	start := weekStart(today)
	weekly := make([]DayRate, 0, weekDays)
	for i := 0; i < weekDays; i++ {
		day := time.Date(start.Year(), start.Month(), start.Day()+i, 0, 0, 0, 0, in.loc)
		count := len(presentByDay[models.DayKey(day)])
		weekly = append(weekly, DayRate{Day: day, Present: count, Rate: percent(count, total)})
	}

	sort.Slice(todays, func(i, j int) bool {
		return todays[i].ClockInAt.After(todays[j].ClockInAt)
	})
	if len(todays) > in.recent {
		todays = todays[:in.recent]
	}

	return &Dashboard{
		CompanyID:        in.company.ID,
		GeneratedAt:      in.now,
		TotalEmployees:   total,
		PresentToday:     present,
		AbsentToday:      absent,
		TauxPresence:     rate,
		LateToday:        late,
		WeekStart:        start,
		WeeklyAttendance: weekly,
		RecentActivity:   todays,
		Snapshot: &models.DailyStats{
			CompanyID:         in.company.ID,
			Date:              today,
			TotalEmployees:    total,
			PresentCount:      present,
			AbsentCount:       absent,
			LateCount:         late,
			AttendanceRate:    rate,
			AttendanceDetails: details,
			UpdatedAt:         in.now,
		},
	}
}

// Dashboard computes today's rollup and the current week curve, then upserts
// today's DailyStats. A failed upsert is reported on the payload, not
// returned.
func (s *Service) Dashboard(ctx context.Context, requesterID, companyID string) (dash *Dashboard, err error) {
	ctx, span := s.startSpan(ctx, "Dashboard", companyID)
	defer func() { endSpan(span, err) }()

	company, _, err := s.members.Require(ctx, companyID, requesterID)
	if err != nil {
		return nil, err
	}

	now := s.now().In(s.loc)
	from := weekStart(s.startOfDay(now))
	entries, _, err := s.entries.ListEntries(ctx, company.ID, db.EntryFilter{From: &from, To: &now})
	if err != nil {
		return nil, fmt.Errorf("list week entries: %w", err)
	}

	dash = computeDashboard(dashboardInput{
		company:   company,
		entries:   entries,
		now:       now,
		loc:       s.loc,
		lateAfter: s.lateAfter,
		recent:    s.recentActivity,
	})
	s.finishDashboard(ctx, dash)
	return dash, nil
}
