// Package seed loads companies and users from a YAML file into a store that
// owns its own directory.
package seed

import (
	"context"
	"fmt"
	"os"

	"attendbot/internal/db"
	"attendbot/internal/db/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Company struct {
	ID        string   `yaml:"id" validate:"required,uuid"`
	Name      string   `yaml:"name" validate:"required"`
	OwnerID   string   `yaml:"owner_id" validate:"required,uuid"`
	MemberIDs []string `yaml:"member_ids" validate:"dive,uuid"`
}

type User struct {
	ID        string `yaml:"id" validate:"required,uuid"`
	DiscordID string `yaml:"discord_id"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Email     string `yaml:"email" validate:"omitempty,email"`
	Timezone  string `yaml:"timezone"`
}

type File struct {
	Users     []User    `yaml:"users" validate:"dive"`
	Companies []Company `yaml:"companies" validate:"dive"`
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := validator.New().Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	return &f, nil
}

// Apply writes users first so company members resolve, then companies.
func Apply(ctx context.Context, w db.DirectoryWriter, f *File) error {
	for _, u := range f.Users {
		user := &models.User{
			ID:        uuid.MustParse(u.ID),
			DiscordID: u.DiscordID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
			Timezone:  u.Timezone,
		}
		if err := w.SaveUser(ctx, user); err != nil {
			return fmt.Errorf("save user %s: %w", u.ID, err)
		}
	}
	for _, c := range f.Companies {
		company := &models.Company{
			ID:      uuid.MustParse(c.ID),
			Name:    c.Name,
			OwnerID: uuid.MustParse(c.OwnerID),
		}
		for _, id := range c.MemberIDs {
			company.MemberIDs = append(company.MemberIDs, uuid.MustParse(id))
		}
		if err := w.SaveCompany(ctx, company); err != nil {
			return fmt.Errorf("save company %s: %w", c.ID, err)
		}
	}
	return nil
}
