// Package sqlite provides a SQLite-backed attendance store for single-node
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"attendbot/internal/db"
	"attendbot/internal/db/models"
	"attendbot/internal/db/sqlite/migrations"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const timeEntryColumns = `id, user_id, company_id, clock_in_at, clock_out_at, duration_seconds, source, location, notes, created_at, updated_at`

// Store persists attendance state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite attendance store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimeEntry(row rowScanner) (*models.TimeEntry, error) {
	entry := &models.TimeEntry{}
	var (
		clockIn, createdAt, updatedAt int64
		clockOut                      sql.NullInt64
		source                        string
		location                      sql.NullString
	)
	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.CompanyID,
		&clockIn,
		&clockOut,
		&entry.DurationSeconds,
		&source,
		&location,
		&entry.Notes,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.ClockInAt = fromMillis(clockIn)
	if clockOut.Valid {
		out := fromMillis(clockOut.Int64)
		entry.ClockOutAt = &out
	}
	entry.Source = models.Source(source)
	if location.Valid && location.String != "" {
		entry.Location = &models.Location{}
		if err := json.Unmarshal([]byte(location.String), entry.Location); err != nil {
			return nil, fmt.Errorf("decode location: %w", err)
		}
	}
	entry.CreatedAt = fromMillis(createdAt)
	entry.UpdatedAt = fromMillis(updatedAt)
	return entry, nil
}

func encodeLocation(loc *models.Location) (sql.NullString, error) {
	if loc == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode location: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

// StartEntry closes the pair's open entries and inserts entry in one
// transaction.
func (s *Store) StartEntry(ctx context.Context, companyID uuid.UUID, entry *models.TimeEntry) ([]*models.TimeEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if entry.CompanyID != companyID {
		return nil, fmt.Errorf("entry company %s does not match scope %s", entry.CompanyID, companyID)
	}
	location, err := encodeLocation(entry.Location)
	if err != nil {
		return nil, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin start entry: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+timeEntryColumns+`
		 FROM time_entries
		 WHERE company_id = ? AND user_id = ? AND clock_out_at IS NULL`,
		companyID.String(), entry.UserID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("load open entries: %w", err)
	}
	var closed []*models.TimeEntry
	for rows.Next() {
		open, err := scanTimeEntry(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan open entry: %w", err)
		}
		closed = append(closed, open)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("load open entries: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load open entries: %w", err)
	}

	for _, open := range closed {
		open.Close(entry.ClockInAt)
		if _, err := tx.ExecContext(ctx,
			`UPDATE time_entries
			 SET clock_out_at = ?, duration_seconds = ?, updated_at = ?
			 WHERE id = ? AND company_id = ? AND clock_out_at IS NULL`,
			nullMillis(open.ClockOutAt),
			open.DurationSeconds,
			toMillis(open.UpdatedAt),
			open.ID.String(),
			companyID.String(),
		); err != nil {
			return nil, fmt.Errorf("close entry %s: %w", open.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO time_entries (
		   id, user_id, company_id, clock_in_at, clock_out_at, duration_seconds,
		   source, location, notes, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(),
		entry.UserID.String(),
		companyID.String(),
		toMillis(entry.ClockInAt),
		entry.DurationSeconds,
		string(entry.Source),
		location,
		entry.Notes,
		toMillis(entry.CreatedAt),
		toMillis(entry.UpdatedAt),
	)
	if err != nil {
		if isOpenEntryViolation(err) {
			return nil, db.ErrOpenEntryExists
		}
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start entry: %w", err)
	}
	return closed, nil
}

// FindOpenEntry returns the most recent open entry of a user in a company.
func (s *Store) FindOpenEntry(ctx context.Context, companyID, userID uuid.UUID) (*models.TimeEntry, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+timeEntryColumns+`
		 FROM time_entries
		 WHERE company_id = ? AND user_id = ? AND clock_out_at IS NULL
		 ORDER BY clock_in_at DESC
		 LIMIT 1`,
		companyID.String(), userID.String(),
	)
	entry, err := scanTimeEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open entry: %w", err)
	}
	return entry, nil
}

// CloseEntry writes the clock-out fields of an entry that is still open.
func (s *Store) CloseEntry(ctx context.Context, companyID uuid.UUID, entry *models.TimeEntry) error {
	if entry.ClockOutAt == nil {
		return fmt.Errorf("entry %s has no clock-out time", entry.ID)
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE time_entries
		 SET clock_out_at = ?, duration_seconds = ?, notes = ?, updated_at = ?
		 WHERE id = ? AND company_id = ? AND clock_out_at IS NULL`,
		nullMillis(entry.ClockOutAt),
		entry.DurationSeconds,
		entry.Notes,
		toMillis(entry.UpdatedAt),
		entry.ID.String(),
		companyID.String(),
	)
	if err != nil {
		return fmt.Errorf("close entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close entry rows affected: %w", err)
	}
	if affected == 0 {
		return db.ErrNotFound
	}
	return nil
}

func entryWhere(companyID uuid.UUID, userID *uuid.UUID, from, to *time.Time) (string, []any) {
	clauses := []string{"company_id = ?"}
	args := []any{companyID.String()}
	if userID != nil {
		clauses = append(clauses, "user_id = ?")
		args = append(args, userID.String())
	}
	if from != nil {
		clauses = append(clauses, "clock_in_at >= ?")
		args = append(args, toMillis(*from))
	}
	if to != nil {
		clauses = append(clauses, "clock_in_at <= ?")
		args = append(args, toMillis(*to))
	}
	return strings.Join(clauses, " AND "), args
}

// ListEntries returns one page of a company's entries, newest first.
func (s *Store) ListEntries(ctx context.Context, companyID uuid.UUID, filter db.EntryFilter) ([]*models.TimeEntry, int, error) {
	where, args := entryWhere(companyID, filter.UserID, filter.From, filter.To)

	var total int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(1) FROM time_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	query := `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE ` + where + ` ORDER BY clock_in_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.TimeEntry
	for rows.Next() {
		entry, err := scanTimeEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, total, nil
}

// DeleteEntries removes a company's entries within the optional range.
func (s *Store) DeleteEntries(ctx context.Context, companyID uuid.UUID, from, to *time.Time) (int64, error) {
	where, args := entryWhere(companyID, nil, from, to)
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM time_entries WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	return res.RowsAffected()
}

// UpsertDailyStats creates or overwrites the snapshot of one company day.
func (s *Store) UpsertDailyStats(ctx context.Context, companyID uuid.UUID, stats *models.DailyStats) error {
	details := stats.AttendanceDetails
	if details == nil {
		details = []models.AttendanceDetail{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode attendance details: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO daily_stats (
		   company_id, date, total_employees, present_count, absent_count,
		   late_count, attendance_rate, attendance_details, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_id, date) DO UPDATE SET
		   total_employees = excluded.total_employees,
		   present_count = excluded.present_count,
		   absent_count = excluded.absent_count,
		   late_count = excluded.late_count,
		   attendance_rate = excluded.attendance_rate,
		   attendance_details = excluded.attendance_details,
		   updated_at = excluded.updated_at`,
		companyID.String(),
		models.DayKey(stats.Date),
		stats.TotalEmployees,
		stats.PresentCount,
		stats.AbsentCount,
		stats.LateCount,
		stats.AttendanceRate,
		string(payload),
		toMillis(stats.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert daily stats: %w", err)
	}
	return nil
}

// ListDailyStats returns a company's snapshots, most recent day first.
func (s *Store) ListDailyStats(ctx context.Context, companyID uuid.UUID, from, to *time.Time, limit int) ([]*models.DailyStats, error) {
	clauses := []string{"company_id = ?"}
	args := []any{companyID.String()}
	if from != nil {
		clauses = append(clauses, "date >= ?")
		args = append(args, models.DayKey(*from))
	}
	if to != nil {
		clauses = append(clauses, "date <= ?")
		args = append(args, models.DayKey(*to))
	}
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT company_id, date, total_employees, present_count, absent_count,
		        late_count, attendance_rate, attendance_details, updated_at
		 FROM daily_stats
		 WHERE `+strings.Join(clauses, " AND ")+`
		 ORDER BY date DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	defer rows.Close()

	var out []*models.DailyStats
	for rows.Next() {
		stats := &models.DailyStats{}
		var day, details string
		var updatedAt int64
		if err := rows.Scan(
			&stats.CompanyID,
			&day,
			&stats.TotalEmployees,
			&stats.PresentCount,
			&stats.AbsentCount,
			&stats.LateCount,
			&stats.AttendanceRate,
			&details,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan daily stats: %w", err)
		}
		if stats.Date, err = time.Parse("2006-01-02", day); err != nil {
			return nil, fmt.Errorf("parse stats date %q: %w", day, err)
		}
		if err := json.Unmarshal([]byte(details), &stats.AttendanceDetails); err != nil {
			return nil, fmt.Errorf("decode attendance details: %w", err)
		}
		stats.UpdatedAt = fromMillis(updatedAt)
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily stats: %w", err)
	}
	return out, nil
}

// GetCompany resolves a company with its member list.
func (s *Store) GetCompany(ctx context.Context, companyID uuid.UUID) (*models.Company, error) {
	company := &models.Company{ID: companyID}
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT name, owner_id, created_at FROM companies WHERE id = ?`,
		companyID.String(),
	).Scan(&company.Name, &company.OwnerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	company.CreatedAt = fromMillis(createdAt)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id FROM company_members WHERE company_id = ? ORDER BY rowid`,
		companyID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list company members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan company member: %w", err)
		}
		company.MemberIDs = append(company.MemberIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate company members: %w", err)
	}
	return company, nil
}

// SaveCompany creates or replaces a company and its member list.
func (s *Store) SaveCompany(ctx context.Context, company *models.Company) error {
	createdAt := company.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save company: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO companies (id, name, owner_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   owner_id = excluded.owner_id`,
		company.ID.String(), company.Name, company.OwnerID.String(), toMillis(createdAt),
	); err != nil {
		return fmt.Errorf("save company: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM company_members WHERE company_id = ?`, company.ID.String()); err != nil {
		return fmt.Errorf("clear company members: %w", err)
	}
	for _, id := range company.MemberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO company_members (company_id, user_id) VALUES (?, ?)`,
			company.ID.String(), id.String(),
		); err != nil {
			return fmt.Errorf("save company member: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save company: %w", err)
	}
	return nil
}

const userColumns = `id, discord_id, first_name, last_name, email, timezone, created_at`

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var discordID sql.NullString
	var createdAt int64
	if err := row.Scan(
		&user.ID,
		&discordID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.Timezone,
		&createdAt,
	); err != nil {
		return nil, err
	}
	user.DiscordID = discordID.String
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := scanUser(s.sqlDB.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, userID.String(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// SaveUser creates or replaces a user.
func (s *Store) SaveUser(ctx context.Context, user *models.User) error {
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	timezone := user.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	discordID := sql.NullString{String: user.DiscordID, Valid: user.DiscordID != ""}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (id, discord_id, first_name, last_name, email, timezone, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   discord_id = excluded.discord_id,
		   first_name = excluded.first_name,
		   last_name = excluded.last_name,
		   email = excluded.email,
		   timezone = excluded.timezone`,
		user.ID.String(), discordID, user.FirstName, user.LastName, user.Email, timezone, toMillis(createdAt),
	)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// GetOrCreateUser retrieves a user by Discord ID or creates a new one.
func (s *Store) GetOrCreateUser(ctx context.Context, discordID, username string) (*models.User, error) {
	lookup := func() (*models.User, error) {
		return scanUser(s.sqlDB.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE discord_id = ?`, discordID,
		))
	}
	user, err := lookup()
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (id, discord_id, first_name, timezone, created_at)
		 VALUES (?, ?, ?, 'UTC', ?)
		 ON CONFLICT (discord_id) DO NOTHING`,
		uuid.NewString(), discordID, username, toMillis(time.Now()),
	); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	user, err = lookup()
	if err != nil {
		return nil, fmt.Errorf("get created user: %w", err)
	}
	return user, nil
}

// GetServerSettings returns the company binding of a guild.
func (s *Store) GetServerSettings(ctx context.Context, serverID string) (*models.ServerSettings, error) {
	settings := &models.ServerSettings{}
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT server_id, company_id, created_at FROM server_settings WHERE server_id = ?`,
		serverID,
	).Scan(&settings.ServerID, &settings.CompanyID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get server settings: %w", err)
	}
	settings.CreatedAt = fromMillis(createdAt)
	return settings, nil
}

// SetServerCompany binds a guild to a company, replacing any previous binding.
func (s *Store) SetServerCompany(ctx context.Context, serverID string, companyID uuid.UUID) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO server_settings (server_id, company_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (server_id) DO UPDATE SET company_id = excluded.company_id`,
		serverID, companyID.String(), toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save server settings: %w", err)
	}
	return nil
}

func isOpenEntryViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE {
		return strings.Contains(message, "time_entries.user_id")
	}
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "time_entries.user_id")
}

var _ db.Store = (*Store)(nil)
