package attendance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"attendbot/internal/db"
	"attendbot/internal/db/models"
	"attendbot/internal/membership"

	"golang.org/x/text/cases"
)

// ListQuery selects a page of entries by clock-in time. Zero Page and Limit
// take the defaults; Limit is capped at 100.
type ListQuery struct {
	From  *time.Time
	To    *time.Time
	Page  int
	Limit int
}

// CompanyQuery extends ListQuery with company-wide filters. Search matches
// the user's full name or email, case-insensitively.
type CompanyQuery struct {
	ListQuery
	TargetUserID string `validate:"omitempty,uuid"`
	Search       string `validate:"max=200"`
}

// ClearQuery bounds a history purge by clock-in time.
type ClearQuery struct {
	CompanyID string
	From      *time.Time
	To        *time.Time
}

type ClearResult struct {
	DeletedCount int64
}

// Page is one page of entries, newest first.
type Page struct {
	Items      []*models.TimeEntry
	Page       int
	Limit      int
	Total      int
	TotalPages int
	// Truncated is set when a search stopped at the search cap, so Total only
	// counts matches among the most recent entries.
	Truncated bool
}

func (p *Page) HasNext() bool {
	return p.Page < p.TotalPages
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func newPage(items []*models.TimeEntry, page, limit, total int) *Page {
	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	if items == nil {
		items = []*models.TimeEntry{}
	}
	return &Page{Items: items, Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// ListMine returns the requester's own entries in the company.
func (s *Service) ListMine(ctx context.Context, userID, companyID string, q ListQuery) (page *Page, err error) {
	ctx, span := s.startSpan(ctx, "ListMine", companyID)
	defer func() { endSpan(span, err) }()

	company, ids, err := s.members.Require(ctx, companyID, userID)
	if err != nil {
		return nil, err
	}
	if err := checkRange(q.From, q.To); err != nil {
		return nil, err
	}
	pageNum, limit := normalizePage(q.Page, q.Limit)

	items, total, err := s.entries.ListEntries(ctx, company.ID, db.EntryFilter{
		UserID: &ids[0],
		From:   q.From,
		To:     q.To,
		Limit:  limit,
		Offset: (pageNum - 1) * limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	s.newUserCache().attach(ctx, items)
	return newPage(items, pageNum, limit, total), nil
}

// ListCompany returns entries of every user in the company. With a search
// term, up to the search cap of candidate rows is loaded and filtered in
// memory on the resolved user, and pagination applies to the matches.
func (s *Service) ListCompany(ctx context.Context, requesterID, companyID string, q CompanyQuery) (page *Page, err error) {
	ctx, span := s.startSpan(ctx, "ListCompany", companyID)
	defer func() { endSpan(span, err) }()

	company, _, err := s.members.Require(ctx, companyID, requesterID)
	if err != nil {
		return nil, err
	}
	if err := s.validateStruct(q); err != nil {
		return nil, err
	}
	if err := checkRange(q.From, q.To); err != nil {
		return nil, err
	}
	pageNum, limit := normalizePage(q.Page, q.Limit)

	filter := db.EntryFilter{From: q.From, To: q.To}
	if q.TargetUserID != "" {
		target, err := membership.ParseID("target_user_id", q.TargetUserID)
		if err != nil {
			return nil, err
		}
		filter.UserID = &target
	}
	users := s.newUserCache()

	search := strings.TrimSpace(q.Search)
	if search == "" {
		filter.Limit = limit
		filter.Offset = (pageNum - 1) * limit
		items, total, err := s.entries.ListEntries(ctx, company.ID, filter)
		if err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		users.attach(ctx, items)
		return newPage(items, pageNum, limit, total), nil
	}

	filter.Limit = s.searchCap
	candidates, total, err := s.entries.ListEntries(ctx, company.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("list search candidates: %w", err)
	}
	truncated := total > len(candidates)
	if truncated {
		log.Printf("Search in company %s scanned %d of %d entries", company.ID, len(candidates), total)
	}

	users.prefetch(ctx, candidates)
	folder := cases.Fold()
	needle := folder.String(search)
	var matched []*models.TimeEntry
	for _, entry := range candidates {
		user := users.get(ctx, entry.UserID)
		if user == nil {
			log.Printf("Search skipped entry %s in company %s: user %s unresolved", entry.ID, company.ID, entry.UserID)
			continue
		}
		if strings.Contains(folder.String(user.FullName()), needle) ||
			strings.Contains(folder.String(user.Email), needle) {
			entry.User = user.Ref()
			matched = append(matched, entry)
		}
	}

	start := (pageNum - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	page = newPage(matched[start:end], pageNum, limit, len(matched))
	page.Truncated = truncated
	return page, nil
}

// ClearHistory deletes the company's entries whose clock-in falls within the
// optional bounds. Callers gate it behind an elevated role.
func (s *Service) ClearHistory(ctx context.Context, requesterID string, q ClearQuery) (result *ClearResult, err error) {
	ctx, span := s.startSpan(ctx, "ClearHistory", q.CompanyID)
	defer func() { endSpan(span, err) }()

	company, _, err := s.members.Require(ctx, q.CompanyID, requesterID)
	if err != nil {
		return nil, err
	}
	if err := checkRange(q.From, q.To); err != nil {
		return nil, err
	}
	deleted, err := s.entries.DeleteEntries(ctx, company.ID, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("delete entries: %w", err)
	}
	log.Printf("User %s cleared %d entries in company %s", requesterID, deleted, company.ID)
	return &ClearResult{DeletedCount: deleted}, nil
}
