// Package db defines the persistence contracts of the attendance core.
//
// Every time entry and daily statistics accessor takes the company id as a
// mandatory parameter, so an unscoped query cannot be expressed.
package db

import (
	"context"
	"errors"
	"time"

	"attendbot/internal/db/models"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrOpenEntryExists indicates a concurrent writer already holds the open
	// entry slot for a (user, company) pair.
	ErrOpenEntryExists = errors.New("open entry already exists")
)

// EntryFilter narrows a time entry listing. Zero values mean "no bound".
type EntryFilter struct {
	UserID *uuid.UUID
	From   *time.Time // inclusive lower bound on clock_in_at
	To     *time.Time // inclusive upper bound on clock_in_at
	Limit  int        // 0 returns every matching row
	Offset int
}

// TimeEntryStore persists attendance sessions.
type TimeEntryStore interface {
	// StartEntry closes every open entry of (entry.UserID, companyID) at
	// entry.ClockInAt and inserts entry, atomically. It returns the entries it
	// closed. ErrOpenEntryExists is returned when a concurrent writer inserted
	// an open entry between the two steps.
	StartEntry(ctx context.Context, companyID uuid.UUID, entry *models.TimeEntry) ([]*models.TimeEntry, error)
	// FindOpenEntry returns the most recent open entry of the pair, or
	// ErrNotFound.
	FindOpenEntry(ctx context.Context, companyID, userID uuid.UUID) (*models.TimeEntry, error)
	// CloseEntry persists clock-out fields of an entry that is still open.
	// ErrNotFound is returned when the entry was already closed.
	CloseEntry(ctx context.Context, companyID uuid.UUID, entry *models.TimeEntry) error
	// ListEntries returns one page of entries ordered by clock_in_at desc and
	// the total number of matching rows.
	ListEntries(ctx context.Context, companyID uuid.UUID, filter EntryFilter) ([]*models.TimeEntry, int, error)
	// DeleteEntries removes entries whose clock_in_at falls within the
	// optional bounds.
	DeleteEntries(ctx context.Context, companyID uuid.UUID, from, to *time.Time) (int64, error)
}

// DailyStatsStore persists daily attendance snapshots.
type DailyStatsStore interface {
	UpsertDailyStats(ctx context.Context, companyID uuid.UUID, stats *models.DailyStats) error
	// ListDailyStats returns at most limit snapshots whose day lies within
	// the optional inclusive bounds, most recent first.
	ListDailyStats(ctx context.Context, companyID uuid.UUID, from, to *time.Time, limit int) ([]*models.DailyStats, error)
}

// Directory resolves companies and users owned by other parts of the system.
type Directory interface {
	GetCompany(ctx context.Context, companyID uuid.UUID) (*models.Company, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// DirectoryWriter seeds the directory for deployments that do not share it
// with another service.
type DirectoryWriter interface {
	// SaveCompany creates or replaces a company and its member list.
	SaveCompany(ctx context.Context, company *models.Company) error
	// SaveUser creates or replaces a user.
	SaveUser(ctx context.Context, user *models.User) error
}

// BotStore holds the state only the Discord surface needs.
type BotStore interface {
	GetOrCreateUser(ctx context.Context, discordID, username string) (*models.User, error)
	GetServerSettings(ctx context.Context, serverID string) (*models.ServerSettings, error)
	SetServerCompany(ctx context.Context, serverID string, companyID uuid.UUID) error
}

// Store is the full backend contract implemented by postgres and sqlite.
type Store interface {
	TimeEntryStore
	DailyStatsStore
	Directory
	DirectoryWriter
	BotStore
	Close() error
}
