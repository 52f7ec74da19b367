package models

import (
	"time"

	"github.com/google/uuid"
)

// ServerSettings binds a Discord guild to the company its members clock into.
type ServerSettings struct {
	ServerID  string    `db:"server_id"`
	CompanyID uuid.UUID `db:"company_id"`
	CreatedAt time.Time `db:"created_at"`
}
