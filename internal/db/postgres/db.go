// Package postgres provides the PostgreSQL-backed attendance store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"attendbot/internal/config"
	"attendbot/internal/db"
	"attendbot/internal/db/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const (
	uniqueViolation   = "23505"
	openEntryIndex    = "uq_time_entries_open"
	timeEntryColumns  = `id, user_id, company_id, clock_in_at, clock_out_at, duration_seconds, source, location, notes, created_at, updated_at`
	dailyStatsColumns = `company_id, date::text, total_employees, present_count, absent_count, late_count, attendance_rate, attendance_details, updated_at`
)

type DB struct {
	*pgxpool.Pool
}

// New connects to the database described by config. The connection attempt
// is bounded by ctx only.
func New(ctx context.Context, config config.Database) (*DB, error) {
	return connect(ctx, config.DSN(), config.MaxConns, config.MinConns)
}

func connect(ctx context.Context, dsn string, maxConns, minConns int32) (*DB, error) {
	// Create a configuration object
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Configure connection pool and statement cache
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = minConns
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	return &DB{pool}, nil
}

// Close releases the pool. It satisfies db.Store.
func (d *DB) Close() error {
	d.Pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimeEntry(row rowScanner) (*models.TimeEntry, error) {
	entry := &models.TimeEntry{}
	var source string
	var location []byte
	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.CompanyID,
		&entry.ClockInAt,
		&entry.ClockOutAt,
		&entry.DurationSeconds,
		&source,
		&location,
		&entry.Notes,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Source = models.Source(source)
	if len(location) > 0 {
		entry.Location = &models.Location{}
		if err := json.Unmarshal(location, entry.Location); err != nil {
			return nil, fmt.Errorf("error decoding location: %w", err)
		}
	}
	return entry, nil
}

func encodeLocation(loc *models.Location) (any, error) {
	if loc == nil {
		return nil, nil
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("error encoding location: %w", err)
	}
	return string(data), nil
}

// StartEntry closes the pair's open entries and inserts entry in one
// transaction.
func (d *DB) StartEntry(ctx context.Context, companyID uuid.UUID, entry *models.TimeEntry) ([]*models.TimeEntry, error) {
	if entry.CompanyID != companyID {
		return nil, fmt.Errorf("entry company %s does not match scope %s", entry.CompanyID, companyID)
	}
	location, err := encodeLocation(entry.Location)
	if err != nil {
		return nil, err
	}

	tx, err := d.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+timeEntryColumns+`
		FROM time_entries
		WHERE company_id = $1 AND user_id = $2 AND clock_out_at IS NULL
		FOR UPDATE`,
		companyID, entry.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("error loading open entries: %w", err)
	}
	var closed []*models.TimeEntry
	for rows.Next() {
		open, err := scanTimeEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning open entry: %w", err)
		}
		closed = append(closed, open)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error loading open entries: %w", err)
	}

	for _, open := range closed {
		open.Close(entry.ClockInAt)
		_, err := tx.Exec(ctx, `
			UPDATE time_entries
			SET clock_out_at = $1, duration_seconds = $2, updated_at = $3
			WHERE id = $4 AND company_id = $5 AND clock_out_at IS NULL`,
			open.ClockOutAt, open.DurationSeconds, open.UpdatedAt, open.ID, companyID,
		)
		if err != nil {
			return nil, fmt.Errorf("error closing entry %s: %w", open.ID, err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO time_entries (id, user_id, company_id, clock_in_at, duration_seconds, source, location, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10)`,
		entry.ID,
		entry.UserID,
		companyID,
		entry.ClockInAt,
		entry.DurationSeconds,
		string(entry.Source),
		location,
		entry.Notes,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		if isOpenEntryViolation(err) {
			return nil, db.ErrOpenEntryExists
		}
		return nil, fmt.Errorf("error creating entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isOpenEntryViolation(err) {
			return nil, db.ErrOpenEntryExists
		}
		return nil, fmt.Errorf("error committing entry: %w", err)
	}
	return closed, nil
}

// FindOpenEntry gets the most recent open entry of a user in a company
func (d *DB) FindOpenEntry(ctx context.Context, companyID, userID uuid.UUID) (*models.TimeEntry, error) {
	row := d.QueryRow(ctx, `
		SELECT `+timeEntryColumns+`
		FROM time_entries
		WHERE company_id = $1 AND user_id = $2 AND clock_out_at IS NULL
		ORDER BY clock_in_at DESC
		LIMIT 1`,
		companyID, userID,
	)
	entry, err := scanTimeEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting open entry: %w", err)
	}
	return entry, nil
}

// CloseEntry writes the clock-out fields of an entry that is still open
func (d *DB) CloseEntry(ctx context.Context, companyID uuid.UUID, entry *models.TimeEntry) error {
	if entry.ClockOutAt == nil {
		return fmt.Errorf("entry %s has no clock-out time", entry.ID)
	}
	tag, err := d.Exec(ctx, `
		UPDATE time_entries
		SET clock_out_at = $1, duration_seconds = $2, notes = $3, updated_at = $4
		WHERE id = $5 AND company_id = $6 AND clock_out_at IS NULL`,
		entry.ClockOutAt,
		entry.DurationSeconds,
		entry.Notes,
		entry.UpdatedAt,
		entry.ID,
		companyID,
	)
	if err != nil {
		return fmt.Errorf("error closing entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// entryWhere builds the company-scoped predicate shared by list, count and
// delete.
func entryWhere(companyID uuid.UUID, userID *uuid.UUID, from, to *time.Time) (string, []any) {
	clauses := []string{"company_id = $1"}
	args := []any{companyID}
	if userID != nil {
		args = append(args, *userID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if from != nil {
		args = append(args, *from)
		clauses = append(clauses, fmt.Sprintf("clock_in_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		clauses = append(clauses, fmt.Sprintf("clock_in_at <= $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

// ListEntries retrieves one page of a company's entries, newest first
func (d *DB) ListEntries(ctx context.Context, companyID uuid.UUID, filter db.EntryFilter) ([]*models.TimeEntry, int, error) {
	where, args := entryWhere(companyID, filter.UserID, filter.From, filter.To)

	var total int
	if err := d.QueryRow(ctx, `SELECT COUNT(*) FROM time_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting entries: %w", err)
	}

	query := `SELECT ` + timeEntryColumns + ` FROM time_entries WHERE ` + where + ` ORDER BY clock_in_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := d.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.TimeEntry
	for rows.Next() {
		entry, err := scanTimeEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

// DeleteEntries removes a company's entries within the optional range
func (d *DB) DeleteEntries(ctx context.Context, companyID uuid.UUID, from, to *time.Time) (int64, error) {
	where, args := entryWhere(companyID, nil, from, to)
	tag, err := d.Exec(ctx, `DELETE FROM time_entries WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("error deleting entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertDailyStats creates or overwrites the snapshot of one company day
func (d *DB) UpsertDailyStats(ctx context.Context, companyID uuid.UUID, stats *models.DailyStats) error {
	details := stats.AttendanceDetails
	if details == nil {
		details = []models.AttendanceDetail{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("error encoding attendance details: %w", err)
	}

	_, err = d.Exec(ctx, `
		INSERT INTO daily_stats (company_id, date, total_employees, present_count, absent_count, late_count, attendance_rate, attendance_details, updated_at)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8::jsonb, $9)
		ON CONFLICT (company_id, date) DO UPDATE SET
			total_employees = EXCLUDED.total_employees,
			present_count = EXCLUDED.present_count,
			absent_count = EXCLUDED.absent_count,
			late_count = EXCLUDED.late_count,
			attendance_rate = EXCLUDED.attendance_rate,
			attendance_details = EXCLUDED.attendance_details,
			updated_at = EXCLUDED.updated_at`,
		companyID,
		models.DayKey(stats.Date),
		stats.TotalEmployees,
		stats.PresentCount,
		stats.AbsentCount,
		stats.LateCount,
		stats.AttendanceRate,
		string(payload),
		stats.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("error upserting daily stats: %w", err)
	}
	return nil
}

// ListDailyStats retrieves a company's snapshots, most recent day first
func (d *DB) ListDailyStats(ctx context.Context, companyID uuid.UUID, from, to *time.Time, limit int) ([]*models.DailyStats, error) {
	clauses := []string{"company_id = $1"}
	args := []any{companyID}
	if from != nil {
		args = append(args, models.DayKey(*from))
		clauses = append(clauses, fmt.Sprintf("date >= $%d::date", len(args)))
	}
	if to != nil {
		args = append(args, models.DayKey(*to))
		clauses = append(clauses, fmt.Sprintf("date <= $%d::date", len(args)))
	}
	args = append(args, limit)

	rows, err := d.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM daily_stats
		WHERE %s
		ORDER BY date DESC
		LIMIT $%d`, dailyStatsColumns, strings.Join(clauses, " AND "), len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("error listing daily stats: %w", err)
	}
	defer rows.Close()

	var out []*models.DailyStats
	for rows.Next() {
		stats := &models.DailyStats{}
		var day string
		var details []byte
		if err := rows.Scan(
			&stats.CompanyID,
			&day,
			&stats.TotalEmployees,
			&stats.PresentCount,
			&stats.AbsentCount,
			&stats.LateCount,
			&stats.AttendanceRate,
			&details,
			&stats.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning daily stats: %w", err)
		}
		if stats.Date, err = time.Parse("2006-01-02", day); err != nil {
			return nil, fmt.Errorf("error parsing stats date %q: %w", day, err)
		}
		if err := json.Unmarshal(details, &stats.AttendanceDetails); err != nil {
			return nil, fmt.Errorf("error decoding attendance details: %w", err)
		}
		out = append(out, stats)
	}
	return out, rows.Err()
}

// GetCompany resolves a company with its member list
func (d *DB) GetCompany(ctx context.Context, companyID uuid.UUID) (*models.Company, error) {
	company := &models.Company{ID: companyID}
	var members pq.StringArray
	err := d.QueryRow(ctx, `
		SELECT name, owner_id, member_ids::text[], created_at
		FROM companies
		WHERE id = $1`,
		companyID,
	).Scan(&company.Name, &company.OwnerID, &members, &company.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting company: %w", err)
	}
	for _, raw := range members {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("error parsing member id %q: %w", raw, err)
		}
		company.MemberIDs = append(company.MemberIDs, id)
	}
	return company, nil
}

// GetUser retrieves a user by id
func (d *DB) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user := &models.User{}
	var discordID *string
	err := d.QueryRow(ctx, `
		SELECT id, discord_id, first_name, last_name, email, timezone, created_at
		FROM users
		WHERE id = $1`,
		userID,
	).Scan(&user.ID, &discordID, &user.FirstName, &user.LastName, &user.Email, &user.Timezone, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	if discordID != nil {
		user.DiscordID = *discordID
	}
	return user, nil
}

// SaveCompany creates or replaces a company and its member list
func (d *DB) SaveCompany(ctx context.Context, company *models.Company) error {
	members := make(pq.StringArray, 0, len(company.MemberIDs))
	for _, id := range company.MemberIDs {
		members = append(members, id.String())
	}
	createdAt := company.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := d.Exec(ctx, `
		INSERT INTO companies (id, name, owner_id, member_ids, created_at)
		VALUES ($1, $2, $3, $4::uuid[], $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			owner_id = EXCLUDED.owner_id,
			member_ids = EXCLUDED.member_ids`,
		company.ID, company.Name, company.OwnerID, members, createdAt,
	)
	if err != nil {
		return fmt.Errorf("error saving company: %w", err)
	}
	return nil
}

// SaveUser creates or replaces a user
func (d *DB) SaveUser(ctx context.Context, user *models.User) error {
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	timezone := user.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	_, err := d.Exec(ctx, `
		INSERT INTO users (id, discord_id, first_name, last_name, email, timezone, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			discord_id = EXCLUDED.discord_id,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			timezone = EXCLUDED.timezone`,
		user.ID, user.DiscordID, user.FirstName, user.LastName, user.Email, timezone, createdAt,
	)
	if err != nil {
		return fmt.Errorf("error saving user: %w", err)
	}
	return nil
}

// GetOrCreateUser retrieves a user by Discord ID or creates a new one
func (d *DB) GetOrCreateUser(ctx context.Context, discordID string, username string) (*models.User, error) {
	// Try to get existing user
	query := `
		SELECT id, discord_id, first_name, last_name, email, timezone, created_at
		FROM users
		WHERE discord_id = $1`

	user := &models.User{}
	err := d.QueryRow(ctx, query, discordID).Scan(
		&user.ID,
		&user.DiscordID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.Timezone,
		&user.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		// Create new user with UTC timezone by default
		user = &models.User{
			ID:        uuid.New(),
			DiscordID: discordID,
			FirstName: username,
			Timezone:  "UTC",
			CreatedAt: time.Now(),
		}

		insertQuery := `
			INSERT INTO users (id, discord_id, first_name, timezone, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (discord_id) DO NOTHING`

		_, err = d.Exec(ctx, insertQuery,
			user.ID,
			user.DiscordID,
			user.FirstName,
			user.Timezone,
			user.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error creating user: %w", err)
		}
		// A concurrent insert may have won; read back the stored row.
		return d.GetOrCreateUser(ctx, discordID, username)
	}

	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	return user, nil
}

// GetServerSettings returns the company binding of a guild
func (d *DB) GetServerSettings(ctx context.Context, serverID string) (*models.ServerSettings, error) {
	settings := &models.ServerSettings{}
	err := d.QueryRow(ctx, `
		SELECT server_id, company_id, created_at
		FROM server_settings
		WHERE server_id = $1`,
		serverID,
	).Scan(&settings.ServerID, &settings.CompanyID, &settings.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting server settings: %w", err)
	}
	return settings, nil
}

// SetServerCompany binds a guild to a company, replacing any previous binding
func (d *DB) SetServerCompany(ctx context.Context, serverID string, companyID uuid.UUID) error {
	_, err := d.Exec(ctx, `
		INSERT INTO server_settings (server_id, company_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (server_id) DO UPDATE SET company_id = EXCLUDED.company_id`,
		serverID, companyID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("error saving server settings: %w", err)
	}
	return nil
}

func isOpenEntryViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation && pgErr.ConstraintName == openEntryIndex
	}
	return false
}

var _ db.Store = (*DB)(nil)
