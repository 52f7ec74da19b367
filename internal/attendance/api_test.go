package attendance

import (
	"errors"
	"testing"
	"time"

	"attendbot/internal/apperr"
	"attendbot/internal/db/models"
)

func TestRequesterElevated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		roles []models.Role
		want  bool
	}{
		{roles: nil, want: false},
		{roles: []models.Role{models.RoleEmployee}, want: false},
		{roles: []models.Role{models.RoleEmployee, models.RoleHR}, want: true},
		{roles: []models.Role{models.RoleAdmin}, want: true},
		{roles: []models.Role{models.RoleSuperAdmin}, want: true},
	}
	for _, tt := range tests {
		if got := (Requester{Roles: tt.roles}).Elevated(); got != tt.want {
			t.Fatalf("Elevated(%v) = %v, want %v", tt.roles, got, tt.want)
		}
	}
}

func TestClockInForRequiresElevatedRole(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	employee := Requester{UserID: f.alice.ID.String(), Roles: []models.Role{models.RoleEmployee}}
	_, err := f.api.ClockInFor(f.ctx, employee, f.bob.ID.String(), f.companyID(), ClockDetails{})
	if !apperr.IsAuthorization(err) {
		t.Fatalf("err = %v, want authorization error", err)
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Metadata["action"] != "clock_in_for" {
		t.Fatalf("err = %#v, want action metadata", err)
	}

	// Acting for oneself never needs a role.
	if _, err := f.api.ClockInFor(f.ctx, employee, f.alice.ID.String(), f.companyID(), ClockDetails{}); err != nil {
		t.Fatalf("clock in for self: %v", err)
	}

	hr := Requester{UserID: f.owner.ID.String(), Roles: []models.Role{models.RoleHR}}
	entry, err := f.api.ClockInFor(f.ctx, hr, f.bob.ID.String(), f.companyID(), ClockDetails{Source: models.SourceKiosk})
	if err != nil {
		t.Fatalf("hr clock in for bob: %v", err)
	}
	if entry.UserID != f.bob.ID || entry.Source != models.SourceKiosk {
		t.Fatalf("entry = %+v", entry)
	}

	f.clock.Set(at(2024, time.January, 10, 12, 0))
	if _, err := f.api.ClockOutFor(f.ctx, employee, f.bob.ID.String(), f.companyID(), ClockDetails{}); !apperr.IsAuthorization(err) {
		t.Fatalf("err = %v, want authorization error", err)
	}
	out, err := f.api.ClockOutFor(f.ctx, hr, f.bob.ID.String(), f.companyID(), ClockDetails{})
	if err != nil {
		t.Fatalf("hr clock out for bob: %v", err)
	}
	if out.DurationSeconds != 4*3600 {
		t.Fatalf("duration = %d, want %d", out.DurationSeconds, 4*3600)
	}
}

func TestClearHistoryRequiresElevatedRole(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.clockIn(f.alice, at(2024, time.January, 10, 8, 0))

	employee := Requester{UserID: f.alice.ID.String()}
	if _, err := f.api.ClearHistory(f.ctx, employee, ClearQuery{CompanyID: f.companyID()}); !apperr.IsAuthorization(err) {
		t.Fatalf("err = %v, want authorization error", err)
	}

	outsider := f.saveUser("Mallory", "Admin", "mallory@example.com")
	admin := Requester{UserID: outsider.ID.String(), Roles: []models.Role{models.RoleAdmin}}
	if _, err := f.api.ClearHistory(f.ctx, admin, ClearQuery{CompanyID: f.companyID()}); !apperr.IsAuthorization(err) {
		t.Fatalf("err = %v, want authorization error for an admin of another company", err)
	}

	page, err := f.api.ListMine(f.ctx, employee, f.companyID(), ListQuery{})
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("total = %d, want 1", page.Total)
	}
}

func TestLinkCompanyRequiresElevatedMember(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	outsider := f.saveUser("Mallory", "Admin", "mallory@example.com")

	tests := []struct {
		name    string
		req     Requester
		company string
		check   func(error) bool
	}{
		{
			name:    "admin of another company",
			req:     Requester{UserID: outsider.ID.String(), Roles: []models.Role{models.RoleEmployee, models.RoleAdmin}},
			company: f.companyID(),
			check:   apperr.IsAuthorization,
		},
		{
			name:    "member without role",
			req:     Requester{UserID: f.alice.ID.String(), Roles: []models.Role{models.RoleEmployee}},
			company: f.companyID(),
			check:   apperr.IsAuthorization,
		},
		{
			name:    "malformed company",
			req:     Requester{UserID: f.owner.ID.String(), Roles: []models.Role{models.RoleAdmin}},
			company: "acme",
			check:   apperr.IsValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			company, err := f.api.LinkCompany(f.ctx, tt.req, tt.company)
			if !tt.check(err) {
				t.Fatalf("err = %v", err)
			}
			if company != nil {
				t.Fatalf("company = %+v, want nil so its name is not shown", company)
			}
		})
	}

	var appErr *apperr.Error
	_, err := f.api.LinkCompany(f.ctx, tests[0].req, f.companyID())
	if !errors.As(err, &appErr) || appErr.Metadata["user_id"] != outsider.ID.String() {
		t.Fatalf("err = %#v, want the non-member named", err)
	}

	hr := Requester{UserID: f.bob.ID.String(), Roles: []models.Role{models.RoleEmployee, models.RoleHR}}
	company, err := f.api.LinkCompany(f.ctx, hr, f.companyID())
	if err != nil {
		t.Fatalf("link as hr member: %v", err)
	}
	if company.ID != f.company.ID || company.Name != "Acme" {
		t.Fatalf("company = %+v", company)
	}
}

func TestAPIReadPaths(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := Requester{UserID: f.alice.ID.String()}
	if _, err := f.api.ClockIn(f.ctx, req, f.companyID(), ClockDetails{}); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	f.clock.Set(at(2024, time.January, 10, 9, 0))
	if _, err := f.api.ClockOut(f.ctx, req, f.companyID(), ClockDetails{}); err != nil {
		t.Fatalf("clock out: %v", err)
	}

	dash, err := f.api.Dashboard(f.ctx, req, f.companyID())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.PresentToday != 1 {
		t.Fatalf("present = %d, want 1", dash.PresentToday)
	}
	history, err := f.api.DashboardHistory(f.ctx, req, f.companyID(), nil, nil)
	if err != nil || len(history) != 1 {
		t.Fatalf("history = %v, %v", history, err)
	}
	page, err := f.api.ListCompany(f.ctx, req, f.companyID(), CompanyQuery{})
	if err != nil || page.Total != 1 {
		t.Fatalf("list company = %+v, %v", page, err)
	}
	report, err := f.api.Report(f.ctx, req, f.companyID(), ReportQuery{
		From: at(2024, time.January, 10, 0, 0),
		To:   at(2024, time.January, 10, 23, 0),
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(report.Users) != 1 || report.Users[0].TotalSeconds != 3600 {
		t.Fatalf("report = %+v", report.Users)
	}
}
