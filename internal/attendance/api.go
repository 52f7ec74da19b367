package attendance

import (
	"context"
	"time"

	"attendbot/internal/apperr"
	"attendbot/internal/db/models"
)

// Requester is the authenticated caller with the roles granted by the
// authorization collaborator.
type Requester struct {
	UserID string
	Roles  []models.Role
}

// Elevated reports whether the requester may act for other users.
func (r Requester) Elevated() bool {
	for _, role := range r.Roles {
		if role.Elevated() {
			return true
		}
	}
	return false
}

// API is the role-gated surface over Service. It performs the checks the
// engine leaves to its caller.
type API struct {
	svc *Service
}

func NewAPI(svc *Service) *API {
	return &API{svc: svc}
}

func (a *API) Service() *Service {
	return a.svc
}

func requireElevated(req Requester, action string) error {
	if req.Elevated() {
		return nil
	}
	return apperr.Unauthorized("elevated role required", map[string]string{
		"user_id": req.UserID,
		"action":  action,
	})
}

func (a *API) ClockIn(ctx context.Context, req Requester, companyID string, details ClockDetails) (*models.TimeEntry, error) {
	return a.svc.ClockIn(ctx, req.UserID, req.UserID, companyID, details)
}

func (a *API) ClockOut(ctx context.Context, req Requester, companyID string, details ClockDetails) (*models.TimeEntry, error) {
	return a.svc.ClockOut(ctx, req.UserID, req.UserID, companyID, details)
}

// ClockInFor clocks targetID in. Acting for someone else needs an elevated
// role.
func (a *API) ClockInFor(ctx context.Context, req Requester, targetID, companyID string, details ClockDetails) (*models.TimeEntry, error) {
	if targetID != req.UserID {
		if err := requireElevated(req, "clock_in_for"); err != nil {
			return nil, err
		}
	}
	return a.svc.ClockIn(ctx, req.UserID, targetID, companyID, details)
}

func (a *API) ClockOutFor(ctx context.Context, req Requester, targetID, companyID string, details ClockDetails) (*models.TimeEntry, error) {
	if targetID != req.UserID {
		if err := requireElevated(req, "clock_out_for"); err != nil {
			return nil, err
		}
	}
	return a.svc.ClockOut(ctx, req.UserID, targetID, companyID, details)
}

func (a *API) ListMine(ctx context.Context, req Requester, companyID string, q ListQuery) (*Page, error) {
	return a.svc.ListMine(ctx, req.UserID, companyID, q)
}

func (a *API) ListCompany(ctx context.Context, req Requester, companyID string, q CompanyQuery) (*Page, error) {
	return a.svc.ListCompany(ctx, req.UserID, companyID, q)
}

func (a *API) ClearHistory(ctx context.Context, req Requester, q ClearQuery) (*ClearResult, error) {
	if err := requireElevated(req, "clear_history"); err != nil {
		return nil, err
	}
	return a.svc.ClearHistory(ctx, req.UserID, q)
}

func (a *API) Dashboard(ctx context.Context, req Requester, companyID string) (*Dashboard, error) {
	return a.svc.Dashboard(ctx, req.UserID, companyID)
}

func (a *API) DashboardHistory(ctx context.Context, req Requester, companyID string, from, to *time.Time) ([]*models.DailyStats, error) {
	return a.svc.DailyStatsHistory(ctx, req.UserID, companyID, from, to)
}

// LinkCompany resolves the company a chat server is about to track. The
// requester needs an elevated role and must be the owner or a member of the
// company.
func (a *API) LinkCompany(ctx context.Context, req Requester, companyID string) (*models.Company, error) {
	if err := requireElevated(req, "link_company"); err != nil {
		return nil, err
	}
	company, _, err := a.svc.members.Require(ctx, companyID, req.UserID)
	if err != nil {
		return nil, err
	}
	return company, nil
}

func (a *API) Report(ctx context.Context, req Requester, companyID string, q ReportQuery) (*Report, error) {
	return a.svc.Report(ctx, req.UserID, companyID, q)
}
