package bot

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"attendbot/internal/apperr"
	"attendbot/internal/attendance"
	"attendbot/internal/db/models"

	"github.com/bwmarrin/discordgo"
)

const (
	periodToday     = "today"
	periodWeek      = "week"
	periodLastWeek  = "last_week"
	periodMonth     = "month"
	periodLastMonth = "last_month"

	formatText = "text"
	formatCSV  = "csv"
)

// periodRange returns the inclusive bounds of a named period around now in
// loc. Weeks start on Monday.
func periodRange(period string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	var start, end time.Time
	switch period {
	case periodToday:
		start, end = today, today.AddDate(0, 0, 1)
	case periodWeek, periodLastWeek:
		offset := int(today.Weekday())
		if offset == 0 {
			offset = 7
		}
		start = today.AddDate(0, 0, -(offset - 1))
		if period == periodLastWeek {
			start = start.AddDate(0, 0, -7)
		}
		end = start.AddDate(0, 0, 7)
	case periodMonth, periodLastMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		if period == periodLastMonth {
			start = start.AddDate(0, -1, 0)
		}
		end = start.AddDate(0, 1, 0)
	default:
		return time.Time{}, time.Time{}, apperr.Validation("unknown period %q", period)
	}
	return start, end.Add(-time.Nanosecond), nil
}

func (b *Bot) handleReport(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	req, companyID, err := b.requester(ctx, s, i)
	if err != nil {
		b.fail(s, i, "report", err)
		return
	}
	opts := commandOptions(i)
	period := opts.stringValue("period")
	loc := b.api.Service().Location()

	from, to, err := periodRange(period, time.Now(), loc)
	if err != nil {
		b.fail(s, i, "report", err)
		return
	}
	userID, err := b.targetUser(ctx, i, opts, "")
	if err != nil {
		b.fail(s, i, "report", err)
		return
	}

	report, err := b.api.Report(ctx, req, companyID, attendance.ReportQuery{
		UserID: userID,
		From:   from,
		To:     to,
	})
	if err != nil {
		b.fail(s, i, "report", err, req.UserID, userID)
		return
	}

	if opts.stringValue("format") == formatCSV {
		content, err := reportCSV(report, loc)
		if err != nil {
			b.fail(s, i, "report", err)
			return
		}
		respondWithFile(s, i, fmt.Sprintf("Attendance report for %s", period),
			fmt.Sprintf("attendance_report_%s.csv", period), "text/csv", content)
		return
	}
	respondWithSuccess(s, i, renderReport(report, period, loc))
}

// renderReport prints one row per user with the number of days worked and
// the total time.
func renderReport(report *attendance.Report, period string, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Attendance for %s\n%s to %s\n\n",
		period, models.DayKey(report.From.In(loc)), models.DayKey(report.To.In(loc))))
	if len(report.Users) == 0 {
		sb.WriteString("No sessions in this period")
		return sb.String()
	}

	rows := make([][]string, 0, len(report.Users))
	var total int64
	for _, u := range report.Users {
		rows = append(rows, []string{
			truncateString(displayName(u.User, u.UserID), 24),
			strconv.Itoa(len(u.Days)),
			formatSeconds(u.TotalSeconds),
		})
		total += u.TotalSeconds
	}
	sb.WriteString(formatTable([]string{"USER", "DAYS", "TOTAL TIME"}, rows))
	sb.WriteString(fmt.Sprintf("\nTotal: %s", formatSeconds(total)))
	return sb.String()
}

// reportCSV writes one record per user and day.
func reportCSV(report *attendance.Report, loc *time.Location) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"user_id", "user", "date", "seconds", "duration"}); err != nil {
		return nil, err
	}
	for _, u := range report.Users {
		name := displayName(u.User, u.UserID)
		for _, day := range u.Days {
			record := []string{
				u.UserID.String(),
				name,
				models.DayKey(day.Day.In(loc)),
				strconv.FormatInt(day.Seconds, 10),
				formatSeconds(day.Seconds),
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}
