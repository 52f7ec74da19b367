package attendance

import (
	"context"
	"fmt"
	"log"
	"time"

	"attendbot/internal/db/models"

	"golang.org/x/sync/errgroup"
)

// finishDashboard persists the snapshot and resolves the recent activity
// users. Both run concurrently; neither can fail the dashboard.
func (s *Service) finishDashboard(ctx context.Context, dash *Dashboard) {
	var g errgroup.Group
	g.Go(func() error {
		if err := s.persistSnapshot(ctx, dash.Snapshot); err != nil {
			dash.SnapshotError = err.Error()
		}
		return nil
	})
	g.Go(func() error {
		s.newUserCache().attach(ctx, dash.RecentActivity)
		return nil
	})
	_ = g.Wait()
}

// persistSnapshot upserts one DailyStats row. Failures are logged and
// returned for the caller to report.
func (s *Service) persistSnapshot(ctx context.Context, stats *models.DailyStats) error {
	ctx, span := s.startSpan(ctx, "persistSnapshot", stats.CompanyID.String())
	err := s.stats.UpsertDailyStats(ctx, stats.CompanyID, stats)
	if err != nil {
		err = fmt.Errorf("persist daily stats for %s: %w", models.DayKey(stats.Date), err)
		log.Printf("Snapshot failed for company %s: %v", stats.CompanyID, err)
	}
	endSpan(span, err)
	return err
}

// DailyStatsHistory reads previously persisted snapshots, most recent day
// first, bounded by the history limit. It never recomputes a day.
func (s *Service) DailyStatsHistory(ctx context.Context, requesterID, companyID string, from, to *time.Time) (history []*models.DailyStats, err error) {
	ctx, span := s.startSpan(ctx, "DailyStatsHistory", companyID)
	defer func() { endSpan(span, err) }()

	company, _, err := s.members.Require(ctx, companyID, requesterID)
	if err != nil {
		return nil, err
	}
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	if from != nil {
		day := s.startOfDay(*from)
		from = &day
	}
	if to != nil {
		day := s.startOfDay(*to)
		to = &day
	}

	history, err = s.stats.ListDailyStats(ctx, company.ID, from, to, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("list daily stats: %w", err)
	}
	for _, stats := range history {
		y, m, d := stats.Date.Date()
		stats.Date = time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	}
	if history == nil {
		history = []*models.DailyStats{}
	}
	return history, nil
}
