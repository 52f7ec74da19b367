package bot

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"attendbot/internal/apperr"
	"attendbot/internal/attendance"
	"attendbot/internal/db/models"

	"github.com/google/uuid"
)

var paris = time.FixedZone("CET", 60*60)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, paris)
}

func TestPeriodRange(t *testing.T) {
	wednesday := time.Date(2024, 1, 10, 15, 0, 0, 0, paris)
	sunday := time.Date(2024, 1, 14, 22, 0, 0, 0, paris)

	tests := []struct {
		period    string
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{periodToday, wednesday, day(2024, 1, 10), day(2024, 1, 11)},
		{periodWeek, wednesday, day(2024, 1, 8), day(2024, 1, 15)},
		{periodWeek, sunday, day(2024, 1, 8), day(2024, 1, 15)},
		{periodLastWeek, wednesday, day(2024, 1, 1), day(2024, 1, 8)},
		{periodMonth, wednesday, day(2024, 1, 1), day(2024, 2, 1)},
		{periodLastMonth, wednesday, day(2023, 12, 1), day(2024, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.period+"_"+tt.now.Weekday().String(), func(t *testing.T) {
			start, end, err := periodRange(tt.period, tt.now, paris)
			if err != nil {
				t.Fatalf("periodRange: %v", err)
			}
			if !start.Equal(tt.wantStart) {
				t.Fatalf("start = %v, want %v", start, tt.wantStart)
			}
			if want := tt.wantEnd.Add(-time.Nanosecond); !end.Equal(want) {
				t.Fatalf("end = %v, want %v", end, want)
			}
		})
	}
}

func TestPeriodRangeUnknown(t *testing.T) {
	_, _, err := periodRange("month_7", time.Now(), paris)
	if !apperr.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func sampleReport() *attendance.Report {
	alice := uuid.MustParse("11111111-1111-4111-8111-111111111111")
	bob := uuid.MustParse("22222222-2222-4222-8222-222222222222")
	return &attendance.Report{
		From: day(2024, 1, 8),
		To:   day(2024, 1, 15).Add(-time.Nanosecond),
		Users: []attendance.UserReport{
			{
				UserID: alice,
				User:   &models.UserRef{ID: alice, FirstName: "Alice", LastName: "Martin"},
				Days: []attendance.DayTotal{
					{Day: day(2024, 1, 8), Seconds: 8 * 3600},
					{Day: day(2024, 1, 9), Seconds: 7*3600 + 1800},
				},
				TotalSeconds: 15*3600 + 1800,
			},
			{
				UserID:       bob,
				Days:         []attendance.DayTotal{{Day: day(2024, 1, 9), Seconds: 600}},
				TotalSeconds: 600,
			},
		},
	}
}

func TestReportCSV(t *testing.T) {
	content, err := reportCSV(sampleReport(), paris)
	if err != nil {
		t.Fatalf("reportCSV: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(content)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records = %d, want header plus 3 days", len(records))
	}
	if got := strings.Join(records[0], ","); got != "user_id,user,date,seconds,duration" {
		t.Fatalf("header = %q", got)
	}
	if got := records[2]; got[1] != "Alice Martin" || got[2] != "2024-01-09" || got[3] != "27000" || got[4] != "7h 30m 0s" {
		t.Fatalf("alice day 2 = %v", got)
	}
	if got := records[3][1]; got != "22222222-2222-4222-8222-222222222222" {
		t.Fatalf("unresolved user name = %q, want id", got)
	}
}

func TestRenderReport(t *testing.T) {
	got := renderReport(sampleReport(), periodWeek, paris)
	for _, want := range []string{"2024-01-08 to 2024-01-14", "Alice Martin", "15h 30m 0s", "Total: 15h 40m 0s"} {
		if !strings.Contains(got, want) {
			t.Errorf("report missing %q:\n%s", want, got)
		}
	}

	empty := renderReport(&attendance.Report{From: day(2024, 1, 1), To: day(2024, 1, 2)}, periodToday, paris)
	if !strings.Contains(empty, "No sessions") {
		t.Fatalf("empty report = %q", empty)
	}
}

func TestRenderEntries(t *testing.T) {
	in := time.Date(2024, 1, 9, 8, 0, 0, 0, paris)
	out := in.Add(90 * time.Minute)
	page := &attendance.Page{
		Items: []*models.TimeEntry{
			{UserID: uuid.New(), ClockInAt: in.Add(4 * time.Hour), Source: models.SourceBot},
			{UserID: uuid.New(), ClockInAt: in, ClockOutAt: &out, DurationSeconds: 5400, Source: models.SourceWeb},
		},
		Page: 1, Limit: 2, Total: 3, TotalPages: 2,
	}
	got := renderEntries(page, paris)
	for _, want := range []string{"open", "2024-01-09 09:30", "1h 30m 0s", "Page 1/2, 3 sessions", "page:2"} {
		if !strings.Contains(got, want) {
			t.Errorf("entries missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "narrow the dates") {
		t.Fatalf("complete listing mentions truncation:\n%s", got)
	}
	if got := renderEntries(&attendance.Page{Page: 1}, paris); got != "No sessions found" {
		t.Fatalf("empty page = %q", got)
	}

	page.Truncated = true
	if got := renderEntries(page, paris); !strings.Contains(got, "narrow the dates") {
		t.Fatalf("truncated search not reported:\n%s", got)
	}
	if got := renderEntries(&attendance.Page{Page: 1, Truncated: true}, paris); !strings.HasPrefix(got, "No sessions found\nOnly the most recent") {
		t.Fatalf("empty truncated page = %q", got)
	}
}

func TestRenderHistory(t *testing.T) {
	got := renderHistory([]*models.DailyStats{{
		Date:           day(2024, 1, 10),
		PresentCount:   2,
		AbsentCount:    1,
		LateCount:      1,
		AttendanceRate: 67,
	}})
	if !strings.Contains(got, "2024-01-10") || !strings.Contains(got, "67%") {
		t.Fatalf("history = %s", got)
	}
	if !strings.Contains(renderHistory(nil), "No snapshots") {
		t.Fatal("expected empty history message")
	}
}
