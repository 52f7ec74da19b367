package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"

	"attendbot/internal/apperr"
	"attendbot/internal/db"
	"attendbot/internal/db/models"

	"github.com/google/uuid"
)

// startAttempts bounds how often a clock-in retries after losing the open
// entry slot to a concurrent writer.
const startAttempts = 2

// ClockDetails carries the optional client data of a clock event.
type ClockDetails struct {
	Source   models.Source    `validate:"omitempty,oneof=web mobile kiosk bot"`
	Location *models.Location `validate:"omitempty"`
	Notes    string           `validate:"max=1000"`
}

// ClockIn opens a session for targetID. A session left open is closed at the
// new clock-in time, unless strict mode is on, in which case the call fails
// with a conflict. The caller must already have checked that actorID may act
// for targetID.
func (s *Service) ClockIn(ctx context.Context, actorID, targetID, companyID string, details ClockDetails) (entry *models.TimeEntry, err error) {
	ctx, span := s.startSpan(ctx, "ClockIn", companyID)
	defer func() { endSpan(span, err) }()

	company, ids, err := s.members.Require(ctx, companyID, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if err := s.validateStruct(details); err != nil {
		return nil, err
	}
	target := ids[1]

	for attempt := 1; attempt <= startAttempts; attempt++ {
		if s.strict {
			open, err := s.entries.FindOpenEntry(ctx, company.ID, target)
			if err == nil {
				return nil, apperr.WithMetadata(apperr.CodeConflict, "an open session already exists", map[string]string{
					"company_id": company.ID.String(),
					"user_id":    target.String(),
					"entry_id":   open.ID.String(),
				})
			}
			if !errors.Is(err, db.ErrNotFound) {
				return nil, fmt.Errorf("find open entry: %w", err)
			}
		}

		now := s.now()
		entry = &models.TimeEntry{
			ID:        uuid.New(),
			UserID:    target,
			CompanyID: company.ID,
			ClockInAt: now,
			Source:    details.Source,
			Location:  details.Location,
			Notes:     details.Notes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		closed, err := s.entries.StartEntry(ctx, company.ID, entry)
		if errors.Is(err, db.ErrOpenEntryExists) {
			log.Printf("Clock-in race for user %s in company %s (attempt %d)", target, company.ID, attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("start entry: %w", err)
		}

		for _, c := range closed {
			log.Printf("Auto-closed entry %s for user %s in company %s after %ds", c.ID, target, company.ID, c.DurationSeconds)
		}
		if user := s.newUserCache().get(ctx, target); user != nil {
			entry.User = user.Ref()
		}
		log.Printf("User %s clocked in to company %s (entry %s, actor %s)", target, company.ID, entry.ID, ids[0])
		return entry, nil
	}

	return nil, apperr.WithMetadata(apperr.CodeConflict, "concurrent clock-in, try again", map[string]string{
		"company_id": company.ID.String(),
		"user_id":    target.String(),
	})
}

// ClockOut closes the most recent open session of targetID. Notes replace the
// stored notes only when non-empty.
func (s *Service) ClockOut(ctx context.Context, actorID, targetID, companyID string, details ClockDetails) (entry *models.TimeEntry, err error) {
	ctx, span := s.startSpan(ctx, "ClockOut", companyID)
	defer func() { endSpan(span, err) }()

	company, ids, err := s.members.Require(ctx, companyID, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if err := s.validateStruct(details); err != nil {
		return nil, err
	}
	target := ids[1]
	noSession := func() error {
		return apperr.WithMetadata(apperr.CodeNotFound, "no open session", map[string]string{
			"company_id": company.ID.String(),
			"user_id":    target.String(),
		})
	}

	entry, err = s.entries.FindOpenEntry(ctx, company.ID, target)
	if errors.Is(err, db.ErrNotFound) {
		return nil, noSession()
	}
	if err != nil {
		return nil, fmt.Errorf("find open entry: %w", err)
	}

	entry.Close(s.now())
	if details.Notes != "" {
		entry.Notes = details.Notes
	}
	err = s.entries.CloseEntry(ctx, company.ID, entry)
	if errors.Is(err, db.ErrNotFound) {
		return nil, noSession()
	}
	if err != nil {
		return nil, fmt.Errorf("close entry: %w", err)
	}

	if user := s.newUserCache().get(ctx, target); user != nil {
		entry.User = user.Ref()
	}
	log.Printf("User %s clocked out of company %s (entry %s, %ds, actor %s)", target, company.ID, entry.ID, entry.DurationSeconds, ids[0])
	return entry, nil
}
