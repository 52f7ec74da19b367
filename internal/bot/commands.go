package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"attendbot/internal/apperr"
	"attendbot/internal/attendance"
	"attendbot/internal/db"
	"attendbot/internal/db/models"

	"github.com/bwmarrin/discordgo"
)

var (
	adminPermission int64 = discordgo.PermissionManageServer

	dateOptionDescription = "Date in YYYY-MM-DD format"

	commands = []*discordgo.ApplicationCommand{
		{
			Name:        "clockin",
			Description: "Start an attendance session",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Clock in someone else (HR and admins only)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "notes",
					Description: "Notes attached to the session",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "source",
					Description: "Where the clock-in happened",
					Required:    false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Bot", Value: string(models.SourceBot)},
						{Name: "Web", Value: string(models.SourceWeb)},
						{Name: "Mobile", Value: string(models.SourceMobile)},
						{Name: "Kiosk", Value: string(models.SourceKiosk)},
					},
				},
			},
		},
		{
			Name:        "clockout",
			Description: "End the open attendance session",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Clock out someone else (HR and admins only)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "notes",
					Description: "Replaces the notes of the session",
					Required:    false,
				},
			},
		},
		{
			Name:        "entries",
			Description: "List attendance sessions",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "scope",
					Description: "Whose sessions to list",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Mine", Value: "mine"},
						{Name: "Company", Value: "company"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Only this user's sessions (company scope)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "search",
					Description: "Match name or email (company scope)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "from",
					Description: dateOptionDescription,
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "to",
					Description: dateOptionDescription,
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "page",
					Description: "Page number",
					Required:    false,
				},
			},
		},
		{
			Name:        "report",
			Description: "Worked time per user and day",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "Time period for the report",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Today", Value: periodToday},
						{Name: "This Week", Value: periodWeek},
						{Name: "Last Week", Value: periodLastWeek},
						{Name: "This Month", Value: periodMonth},
						{Name: "Last Month", Value: periodLastMonth},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Only this user",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "format",
					Description: "Output format",
					Required:    false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Text", Value: formatText},
						{Name: "CSV", Value: formatCSV},
					},
				},
			},
		},
		{
			Name:        "dashboard",
			Description: "Today's attendance for the company",
		},
		{
			Name:        "history",
			Description: "Saved daily attendance snapshots",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "from",
					Description: dateOptionDescription,
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "to",
					Description: dateOptionDescription,
					Required:    false,
				},
			},
		},
		{
			Name:                     "clearhistory",
			Description:              "Delete attendance sessions in a date range",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "from",
					Description: dateOptionDescription,
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "to",
					Description: dateOptionDescription,
					Required:    true,
				},
			},
		},
		{
			Name:                     "company",
			Description:              "Link this server to a company",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "company_id",
					Description: "Company identifier",
					Required:    true,
				},
			},
		},
		{
			Name:        "help",
			Description: "Show available commands",
		},
	}
)

const helpText = "# Attendance commands\n\n" +
	"`/clockin [user] [notes] [source]` start a session\n" +
	"`/clockout [user] [notes]` end the open session\n" +
	"`/entries scope [user] [search] [from] [to] [page]` list sessions\n" +
	"`/report period [user] [format]` worked time per day\n" +
	"`/dashboard` today's attendance\n" +
	"`/history [from] [to]` saved daily snapshots\n" +
	"`/clearhistory from to` delete sessions (HR and admins)\n" +
	"`/company company_id` link this server to a company (admins)\n\n" +
	"Dates use YYYY-MM-DD."

// errServerNotLinked is returned for guilds that have no company yet.
var errServerNotLinked = apperr.NotFound("this server is not linked to a company, an admin can run /company")

func (b *Bot) handleHelp(s *discordgo.Session, i *discordgo.InteractionCreate) {
	respondWithSuccess(s, i, helpText)
}

// fail logs err and shows the user the message its code allows. userIDs are
// the attendance users the caller already knows about.
func (b *Bot) fail(s *discordgo.Session, i *discordgo.InteractionCreate, errContext string, err error, userIDs ...string) {
	logError(i, errContext, err)
	respondWithError(s, i, userMessage(err, userIDs...))
}

func (b *Bot) roles(s *discordgo.Session, i *discordgo.InteractionCreate) []models.Role {
	user := interactionUser(i)
	if i.Member == nil || user == nil {
		return []models.Role{models.RoleEmployee}
	}
	guild, err := s.State.Guild(i.GuildID)
	if err != nil {
		guild = nil
	}
	isOwner := guild != nil && guild.OwnerID == user.ID
	return rolesFor(isOwner, i.Member.Permissions, memberRoleNames(guild, i.Member), b.config.HRRoleName)
}

// caller maps the Discord user of the interaction onto an attendance
// requester.
func (b *Bot) caller(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) (attendance.Requester, error) {
	discordUser := interactionUser(i)
	if discordUser == nil {
		return attendance.Requester{}, errors.New("interaction has no user")
	}
	user, err := b.store.GetOrCreateUser(ctx, discordUser.ID, discordUser.Username)
	if err != nil {
		return attendance.Requester{}, fmt.Errorf("get user: %w", err)
	}
	return attendance.Requester{
		UserID: user.ID.String(),
		Roles:  b.roles(s, i),
	}, nil
}

// requester resolves the caller and the company the guild is linked to.
func (b *Bot) requester(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) (attendance.Requester, string, error) {
	settings, err := b.store.GetServerSettings(ctx, i.GuildID)
	if errors.Is(err, db.ErrNotFound) {
		return attendance.Requester{}, "", errServerNotLinked
	}
	if err != nil {
		return attendance.Requester{}, "", fmt.Errorf("get server settings: %w", err)
	}
	req, err := b.caller(ctx, s, i)
	if err != nil {
		return attendance.Requester{}, "", err
	}
	return req, settings.CompanyID.String(), nil
}

// targetUser maps the user option onto an attendance user id. An absent
// option selects fallback.
func (b *Bot) targetUser(ctx context.Context, i *discordgo.InteractionCreate, opts optionMap, fallback string) (string, error) {
	target := opts.user(i, "user")
	if target == nil {
		return fallback, nil
	}
	user, err := b.store.GetOrCreateUser(ctx, target.ID, target.Username)
	if err != nil {
		return "", fmt.Errorf("get target user: %w", err)
	}
	return user.ID.String(), nil
}

func (b *Bot) handleCompany(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	req, err := b.caller(ctx, s, i)
	if err != nil {
		b.fail(s, i, "company", err)
		return
	}
	company, err := b.api.LinkCompany(ctx, req, commandOptions(i).stringValue("company_id"))
	if err != nil {
		b.fail(s, i, "company", err, req.UserID)
		return
	}
	if err := b.store.SetServerCompany(ctx, i.GuildID, company.ID); err != nil {
		b.fail(s, i, "company", err)
		return
	}
	respondWithSuccess(s, i, fmt.Sprintf("This server now tracks attendance for **%s**", company.Name))
}

func (b *Bot) handleClockIn(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	req, companyID, err := b.requester(ctx, s, i)
	if err != nil {
		b.fail(s, i, "clockin", err)
		return
	}
	opts := commandOptions(i)
	target, err := b.targetUser(ctx, i, opts, req.UserID)
	if err != nil {
		b.fail(s, i, "clockin", err)
		return
	}

	details := attendance.ClockDetails{
		Source: models.Source(opts.stringValue("source")),
		Notes:  opts.stringValue("notes"),
	}
	if details.Source == "" {
		details.Source = models.SourceBot
	}

	entry, err := b.api.ClockInFor(ctx, req, target, companyID, details)
	if err != nil {
		b.fail(s, i, "clockin", err, req.UserID, target)
		return
	}
	loc := b.api.Service().Location()
	respondWithSuccess(s, i, fmt.Sprintf("%s clocked in at %s",
		subject(entry, req.UserID), formatLocalTime(entry.ClockInAt, loc)))
}

func (b *Bot) handleClockOut(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	req, companyID, err := b.requester(ctx, s, i)
	if err != nil {
		b.fail(s, i, "clockout", err)
		return
	}
	opts := commandOptions(i)
	target, err := b.targetUser(ctx, i, opts, req.UserID)
	if err != nil {
		b.fail(s, i, "clockout", err)
		return
	}

	entry, err := b.api.ClockOutFor(ctx, req, target, companyID, attendance.ClockDetails{
		Notes: opts.stringValue("notes"),
	})
	if err != nil {
		b.fail(s, i, "clockout", err, req.UserID, target)
		return
	}
	loc := b.api.Service().Location()
	respondWithSuccess(s, i, fmt.Sprintf("%s clocked out at %s after %s",
		subject(entry, req.UserID), formatLocalTime(*entry.ClockOutAt, loc), formatSeconds(entry.DurationSeconds)))
}

// subject names the user an entry belongs to from the requester's view.
func subject(entry *models.TimeEntry, requesterID string) string {
	if entry.UserID.String() == requesterID {
		return "You"
	}
	return displayName(entry.User, entry.UserID)
}

func (b *Bot) handleEntries(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	req, companyID, err := b.requester(ctx, s, i)
	if err != nil {
		b.fail(s, i, "entries", err)
		return
	}
	opts := commandOptions(i)
	from, to, err := b.api.Service().DayRange(opts.stringValue("from"), opts.stringValue("to"))
	if err != nil {
		b.fail(s, i, "entries", err)
		return
	}
	list := attendance.ListQuery{From: from, To: to, Page: opts.intValue("page")}

	var page *attendance.Page
	if opts.stringValue("scope") == "company" {
		var target string
		target, err = b.targetUser(ctx, i, opts, "")
		if err != nil {
			b.fail(s, i, "entries", err)
			return
		}
		page, err = b.api.ListCompany(ctx, req, companyID, attendance.CompanyQuery{
			ListQuery:    list,
			TargetUserID: target,
			Search:       opts.stringValue("search"),
		})
	} else {
		page, err = b.api.ListMine(ctx, req, companyID, list)
	}
	if err != nil {
		b.fail(s, i, "entries", err, req.UserID)
		return
	}
	respondWithSuccess(s, i, renderEntries(page, b.api.Service().Location()))
}

const truncatedSearchNote = "\nOnly the most recent sessions were searched, narrow the dates to reach older ones."

func renderEntries(page *attendance.Page, loc *time.Location) string {
	if page.Total == 0 {
		if page.Truncated {
			return "No sessions found" + truncatedSearchNote
		}
		return "No sessions found"
	}
	rows := make([][]string, 0, len(page.Items))
	for _, e := range page.Items {
		out := "open"
		duration := "-"
		if e.ClockOutAt != nil {
			out = formatLocalTime(*e.ClockOutAt, loc)
			duration = formatSeconds(e.DurationSeconds)
		}
		rows = append(rows, []string{
			truncateString(displayName(e.User, e.UserID), 20),
			formatLocalTime(e.ClockInAt, loc),
			out,
			duration,
			string(e.Source),
		})
	}
	var sb strings.Builder
	sb.WriteString(formatTable([]string{"USER", "CLOCK IN", "CLOCK OUT", "DURATION", "SOURCE"}, rows))
	sb.WriteString(fmt.Sprintf("\nPage %d/%d, %d sessions", page.Page, page.TotalPages, page.Total))
	if page.HasNext() {
		sb.WriteString(fmt.Sprintf(". Use `page:%d` for more", page.Page+1))
	}
	if page.Truncated {
		sb.WriteString(truncatedSearchNote)
	}
	return sb.String()
}

func (b *Bot) handleDashboard(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	req, companyID, err := b.requester(ctx, s, i)
	if err != nil {
		b.fail(s, i, "dashboard", err)
		return
	}
	dashboard, err := b.api.Dashboard(ctx, req, companyID)
	if err != nil {
		b.fail(s, i, "dashboard", err, req.UserID)
		return
	}
	respondWithSuccess(s, i, renderDashboard(dashboard, b.api.Service().Location()))
}

func renderDashboard(d *attendance.Dashboard, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Attendance %s\n\n", d.GeneratedAt.In(loc).Format("Monday 2006-01-02")))
	sb.WriteString(fmt.Sprintf("Employees: %d\nPresent: %d\nAbsent: %d\nLate: %d\nAttendance rate: %d%%\n\n",
		d.TotalEmployees, d.PresentToday, d.AbsentToday, d.LateToday, d.TauxPresence))

	rows := make([][]string, 0, len(d.WeeklyAttendance))
	for _, day := range d.WeeklyAttendance {
		rows = append(rows, []string{
			day.Day.In(loc).Format("Mon 01-02"),
			fmt.Sprintf("%d", day.Present),
			fmt.Sprintf("%d%%", day.Rate),
		})
	}
	sb.WriteString(formatTable([]string{"DAY", "PRESENT", "RATE"}, rows))

	if len(d.RecentActivity) > 0 {
		sb.WriteString("\n**Recent activity**\n")
		for _, e := range d.RecentActivity {
			status := "clocked in"
			if e.ClockOutAt != nil {
				status = "clocked out at " + e.ClockOutAt.In(loc).Format("15:04")
			}
			sb.WriteString(fmt.Sprintf("- %s %s %s\n",
				e.ClockInAt.In(loc).Format("15:04"), displayName(e.User, e.UserID), status))
		}
	}
	if d.SnapshotError != "" {
		sb.WriteString("\n_Today's snapshot could not be saved._")
	}
	return sb.String()
}

func (b *Bot) handleHistory(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	req, companyID, err := b.requester(ctx, s, i)
	if err != nil {
		b.fail(s, i, "history", err)
		return
	}
	opts := commandOptions(i)
	from, to, err := b.api.Service().DayRange(opts.stringValue("from"), opts.stringValue("to"))
	if err != nil {
		b.fail(s, i, "history", err)
		return
	}
	stats, err := b.api.DashboardHistory(ctx, req, companyID, from, to)
	if err != nil {
		b.fail(s, i, "history", err, req.UserID)
		return
	}
	respondWithSuccess(s, i, renderHistory(stats))
}

func renderHistory(stats []*models.DailyStats) string {
	if len(stats) == 0 {
		return "No snapshots saved yet. Run /dashboard to record today."
	}
	rows := make([][]string, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, []string{
			models.DayKey(st.Date),
			fmt.Sprintf("%d", st.PresentCount),
			fmt.Sprintf("%d", st.AbsentCount),
			fmt.Sprintf("%d", st.LateCount),
			fmt.Sprintf("%d%%", st.AttendanceRate),
		})
	}
	return formatTable([]string{"DATE", "PRESENT", "ABSENT", "LATE", "RATE"}, rows)
}

func (b *Bot) handleClearHistory(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	req, companyID, err := b.requester(ctx, s, i)
	if err != nil {
		b.fail(s, i, "clearhistory", err)
		return
	}
	opts := commandOptions(i)
	from, to, err := b.api.Service().DayRange(opts.stringValue("from"), opts.stringValue("to"))
	if err != nil {
		b.fail(s, i, "clearhistory", err)
		return
	}
	result, err := b.api.ClearHistory(ctx, req, attendance.ClearQuery{
		CompanyID: companyID,
		From:      from,
		To:        to,
	})
	if err != nil {
		b.fail(s, i, "clearhistory", err, req.UserID)
		return
	}
	logCommand(i, "clearhistory", fmt.Sprintf("deleted=%d", result.DeletedCount))
	respondWithSuccess(s, i, fmt.Sprintf("Deleted %d sessions", result.DeletedCount))
}
