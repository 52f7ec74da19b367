package models

import (
	"time"

	"github.com/google/uuid"
)

type AttendanceDetail struct {
	UserID     uuid.UUID  `json:"userId"`
	ClockInAt  time.Time  `json:"clockInAt"`
	ClockOutAt *time.Time `json:"clockOutAt,omitempty"`
	IsLate     bool       `json:"isLate"`
}

// DailyStats is the persisted attendance rollup of one company for one
// calendar day. Date is local midnight; (CompanyID, Date) is unique.
type DailyStats struct {
	CompanyID         uuid.UUID          `db:"company_id" json:"companyId"`
	Date              time.Time          `db:"date" json:"date"`
	TotalEmployees    int                `db:"total_employees" json:"totalEmployees"`
	PresentCount      int                `db:"present_count" json:"presentCount"`
	AbsentCount       int                `db:"absent_count" json:"absentCount"`
	LateCount         int                `db:"late_count" json:"lateCount"`
	AttendanceRate    int                `db:"attendance_rate" json:"attendanceRate"`
	AttendanceDetails []AttendanceDetail `db:"attendance_details" json:"attendanceDetails"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updatedAt"`
}

// DayKey is the storage key for a calendar day.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
