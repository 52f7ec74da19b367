package bot

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"attendbot/internal/apperr"
	"attendbot/internal/db/models"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

// Discord rejects message content above this length.
const maxMessageLength = 2000

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatSeconds(seconds int64) string {
	return formatDuration(time.Duration(seconds) * time.Second)
}

// formatTable creates a Discord-friendly table with fixed-width columns
func formatTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = len(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var result strings.Builder
	result.WriteString("```\n")
	for i, header := range headers {
		result.WriteString(fmt.Sprintf("%-*s", widths[i]+2, header))
	}
	result.WriteString("\n")
	for _, width := range widths {
		result.WriteString(strings.Repeat("-", width+2))
	}
	result.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				result.WriteString(fmt.Sprintf("%-*s", widths[i]+2, cell))
			}
		}
		result.WriteString("\n")
	}
	result.WriteString("```")
	return result.String()
}

// truncateString cuts s to maxLen runes, marking the cut with an ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

func formatLogMessage(guildID, message, user, serverName string) string {
	var parts []string
	if serverName != "" {
		parts = append(parts, fmt.Sprintf("[%s]", serverName))
	} else if guildID != "" {
		parts = append(parts, fmt.Sprintf("[%s]", guildID))
	}
	if user != "" {
		parts = append(parts, user+":")
	}
	parts = append(parts, message)
	return strings.Join(parts, " ")
}

func getServerName(s *discordgo.Session, guildID string) string {
	if guildID == "" {
		return ""
	}
	if guild, err := s.State.Guild(guildID); err == nil {
		return guild.Name
	}
	if guild, err := s.Guild(guildID); err == nil {
		return guild.Name
	}
	return guildID
}

func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func interactionUsername(i *discordgo.InteractionCreate) string {
	if u := interactionUser(i); u != nil {
		return u.Username
	}
	return "unknown"
}

// logCommand logs command execution with its string and user options.
func logCommand(i *discordgo.InteractionCreate, commandName string, details ...string) {
	var params []string
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			params = append(params, fmt.Sprintf("%s:%s", opt.Name, opt.StringValue()))
		case discordgo.ApplicationCommandOptionInteger:
			params = append(params, fmt.Sprintf("%s:%d", opt.Name, opt.IntValue()))
		case discordgo.ApplicationCommandOptionUser:
			params = append(params, fmt.Sprintf("%s:%v", opt.Name, opt.Value))
		}
	}

	logMessage := fmt.Sprintf("%s executed /%s", interactionUsername(i), commandName)
	if len(params) > 0 {
		logMessage += fmt.Sprintf(" [%s]", strings.Join(params, ", "))
	}
	if len(details) > 0 {
		logMessage += fmt.Sprintf(" (%s)", strings.Join(details, " "))
	}
	log.Print(formatLogMessage(i.GuildID, logMessage, "", ""))
}

// logError logs a failed command. Internal errors carry details that are
// never shown to the user.
func logError(i *discordgo.InteractionCreate, errContext string, err error) {
	log.Print(formatLogMessage(i.GuildID, fmt.Sprintf("ERROR - %s: %v", errContext, err), interactionUsername(i), ""))
}

// rejectInteraction answers an interaction that was not acknowledged yet.
func rejectInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, errMsg string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Error: " + errMsg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("Error responding to interaction: %v", err)
	}
}

// respondWithError replaces the deferred response with an error message.
func respondWithError(s *discordgo.Session, i *discordgo.InteractionCreate, errMsg string) {
	editResponse(s, i, &discordgo.WebhookEdit{Content: stringPtr("Error: " + errMsg)})
}

// respondWithSuccess replaces the deferred response with msg.
func respondWithSuccess(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	editResponse(s, i, &discordgo.WebhookEdit{Content: stringPtr(truncateString(msg, maxMessageLength))})
}

// respondWithFile attaches content as a file to the deferred response.
func respondWithFile(s *discordgo.Session, i *discordgo.InteractionCreate, msg, name, contentType string, content []byte) {
	editResponse(s, i, &discordgo.WebhookEdit{
		Content: stringPtr(msg),
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: contentType,
			Reader:      bytes.NewReader(content),
		}},
	})
}

func editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, edit *discordgo.WebhookEdit) {
	if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
		log.Print(formatLogMessage(i.GuildID, "Error editing response: "+err.Error(), interactionUsername(i), ""))
	}
}

func stringPtr(s string) *string {
	return &s
}

// userMessage turns an error from the attendance core into text that is safe
// to show in Discord. A user id from the error metadata is shown only when it
// is one of knownUserIDs.
func userMessage(err error, knownUserIDs ...string) string {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return "An internal error occurred"
	}
	var msg string
	switch appErr.Code {
	case apperr.CodeValidation:
		msg = "Invalid input: " + appErr.Message
	case apperr.CodeUnauthorized:
		msg = "You are not allowed to do that: " + appErr.Message
	case apperr.CodeNotFound, apperr.CodeConflict:
		msg = capitalize(appErr.Message)
	default:
		return "An internal error occurred"
	}
	if id := appErr.Metadata["user_id"]; id != "" && slices.Contains(knownUserIDs, id) {
		msg += fmt.Sprintf(" (user %s)", id)
	}
	return msg
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// rolesFor maps Discord permissions onto attendance roles. Every member is an
// employee; the guild owner and administrators are admins; members who can
// manage the server or hold the configured HR role are hr.
func rolesFor(isOwner bool, permissions int64, roleNames []string, hrRoleName string) []models.Role {
	roles := []models.Role{models.RoleEmployee}
	if isOwner || permissions&discordgo.PermissionAdministrator != 0 {
		return append(roles, models.RoleAdmin)
	}
	if permissions&discordgo.PermissionManageServer != 0 {
		return append(roles, models.RoleHR)
	}
	if hrRoleName != "" {
		for _, name := range roleNames {
			if strings.EqualFold(name, hrRoleName) {
				return append(roles, models.RoleHR)
			}
		}
	}
	return roles
}

// memberRoleNames resolves the role ids of member against the guild.
func memberRoleNames(guild *discordgo.Guild, member *discordgo.Member) []string {
	if guild == nil || member == nil {
		return nil
	}
	byID := make(map[string]string, len(guild.Roles))
	for _, role := range guild.Roles {
		byID[role.ID] = role.Name
	}
	var names []string
	for _, id := range member.Roles {
		if name, ok := byID[id]; ok {
			names = append(names, name)
		}
	}
	return names
}

// displayName picks the most readable identity available for a user.
func displayName(ref *models.UserRef, id uuid.UUID) string {
	if ref != nil {
		if name := strings.TrimSpace(ref.FirstName + " " + ref.LastName); name != "" {
			return name
		}
		if ref.Email != "" {
			return ref.Email
		}
	}
	return id.String()
}

type optionMap map[string]*discordgo.ApplicationCommandInteractionDataOption

func commandOptions(i *discordgo.InteractionCreate) optionMap {
	opts := i.ApplicationCommandData().Options
	m := make(optionMap, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func (m optionMap) stringValue(name string) string {
	if opt, ok := m[name]; ok {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

func (m optionMap) intValue(name string) int {
	if opt, ok := m[name]; ok {
		return int(opt.IntValue())
	}
	return 0
}

// user returns the Discord user picked for a user option, using the
// resolved data of the interaction for the username.
func (m optionMap) user(i *discordgo.InteractionCreate, name string) *discordgo.User {
	opt, ok := m[name]
	if !ok {
		return nil
	}
	u := opt.UserValue(nil)
	if resolved := i.ApplicationCommandData().Resolved; resolved != nil {
		if full, ok := resolved.Users[u.ID]; ok {
			return full
		}
	}
	return u
}

func formatLocalTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04")
}
