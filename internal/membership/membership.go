// Package membership answers whether users belong to a company. Every
// attendance operation passes through it before touching data.
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"attendbot/internal/apperr"
	"attendbot/internal/db"
	"attendbot/internal/db/models"

	"github.com/google/uuid"
)

// Authority checks company membership against the company directory.
type Authority struct {
	directory db.Directory
}

func New(directory db.Directory) *Authority {
	return &Authority{directory: directory}
}

// ParseID parses an identifier, reporting malformed input as a validation
// error naming the field.
func ParseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apperr.WithMetadata(apperr.CodeValidation,
			fmt.Sprintf("invalid %s", field),
			map[string]string{field: raw},
		)
	}
	return id, nil
}

// Company resolves a company by id.
func (a *Authority) Company(ctx context.Context, companyID uuid.UUID) (*models.Company, error) {
	company, err := a.directory.GetCompany(ctx, companyID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.WithMetadata(apperr.CodeNotFound, "company not found",
			map[string]string{"company_id": companyID.String()})
	}
	if err != nil {
		return nil, fmt.Errorf("resolve company %s: %w", companyID, err)
	}
	return company, nil
}

// IsMember reports whether userID is the owner or a member of companyID.
func (a *Authority) IsMember(ctx context.Context, userID, companyID string) (bool, error) {
	uid, err := ParseID("user_id", userID)
	if err != nil {
		return false, err
	}
	cid, err := ParseID("company_id", companyID)
	if err != nil {
		return false, err
	}
	company, err := a.Company(ctx, cid)
	if err != nil {
		return false, err
	}
	return company.HasMember(uid), nil
}

// Require resolves the company and checks that every user belongs to it.
// The first non-member fails the whole call with an authorization error.
func (a *Authority) Require(ctx context.Context, companyID string, userIDs ...string) (*models.Company, []uuid.UUID, error) {
	cid, err := ParseID("company_id", companyID)
	if err != nil {
		return nil, nil, err
	}
	users := make([]uuid.UUID, 0, len(userIDs))
	for _, raw := range userIDs {
		uid, err := ParseID("user_id", raw)
		if err != nil {
			return nil, nil, err
		}
		users = append(users, uid)
	}

	company, err := a.Company(ctx, cid)
	if err != nil {
		return nil, nil, err
	}
	for _, uid := range users {
		if !company.HasMember(uid) {
			return nil, nil, apperr.Unauthorized("user is not a member of this company", map[string]string{
				"company_id": cid.String(),
				"user_id":    uid.String(),
			})
		}
	}
	return company, users, nil
}
