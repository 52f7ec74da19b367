package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a coarse permission granted to a requester by the authorization
// collaborator.
type Role string

const (
	RoleEmployee   Role = "employee"
	RoleHR         Role = "hr"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Elevated reports whether the role may act on behalf of other users.
func (r Role) Elevated() bool {
	switch r {
	case RoleHR, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Company is the read-only view of a tenant used for membership checks.
type Company struct {
	ID        uuid.UUID   `db:"id"`
	Name      string      `db:"name"`
	OwnerID   uuid.UUID   `db:"owner_id"`
	MemberIDs []uuid.UUID `db:"member_ids"`
	CreatedAt time.Time   `db:"created_at"`
}

// HasMember reports whether userID is the owner or a member of the company.
func (c *Company) HasMember(userID uuid.UUID) bool {
	if c.OwnerID == userID {
		return true
	}
	for _, id := range c.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Employees returns the distinct owner and member ids.
func (c *Company) Employees() []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(c.MemberIDs)+1)
	var out []uuid.UUID
	add := func(id uuid.UUID) {
		if id == uuid.Nil || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	add(c.OwnerID)
	for _, id := range c.MemberIDs {
		add(id)
	}
	return out
}
