package models

import (
	"time"

	"github.com/google/uuid"
)

// Source is the client a clock event came from.
type Source string

const (
	SourceWeb    Source = "web"
	SourceMobile Source = "mobile"
	SourceKiosk  Source = "kiosk"
	SourceBot    Source = "bot"
)

type Location struct {
	Lat      float64  `json:"lat" validate:"gte=-90,lte=90"`
	Lng      float64  `json:"lng" validate:"gte=-180,lte=180"`
	Accuracy *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
}

// TimeEntry is one attendance session. It is open while ClockOutAt is nil.
type TimeEntry struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	UserID          uuid.UUID  `db:"user_id" json:"userId"`
	CompanyID       uuid.UUID  `db:"company_id" json:"companyId"`
	ClockInAt       time.Time  `db:"clock_in_at" json:"clockInAt"`
	ClockOutAt      *time.Time `db:"clock_out_at" json:"clockOutAt,omitempty"`
	DurationSeconds int64      `db:"duration_seconds" json:"durationSeconds"`
	Source          Source     `db:"source" json:"source,omitempty"`
	Location        *Location  `db:"location" json:"location,omitempty"`
	Notes           string     `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`

	// User is resolved from the user directory for display; nil when the
	// lookup failed.
	User *UserRef `db:"-" json:"user,omitempty"`
}

func (e *TimeEntry) Open() bool {
	return e.ClockOutAt == nil
}

// Close stamps the clock-out time and recomputes the duration in whole
// seconds, never negative.
func (e *TimeEntry) Close(at time.Time) {
	e.ClockOutAt = &at
	e.DurationSeconds = ElapsedSeconds(e.ClockInAt, at)
	e.UpdatedAt = at
}

// WorkedSeconds is the contribution of the entry to reports: the span between
// clock-in and clock-out when both exist, else the stored duration.
func (e *TimeEntry) WorkedSeconds() int64 {
	if e.ClockOutAt != nil && !e.ClockInAt.IsZero() {
		return ElapsedSeconds(e.ClockInAt, *e.ClockOutAt)
	}
	return e.DurationSeconds
}

// ElapsedSeconds floors end-start to whole seconds and clamps at zero.
func ElapsedSeconds(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
