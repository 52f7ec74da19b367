package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no explicit config path is given.
const DefaultPath = "config.yaml"

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Discord struct {
	Token    string `yaml:"token" env:"DISCORD_TOKEN"`
	ClientID string `yaml:"client_id" env:"DISCORD_CLIENT_ID"`
	// HRRoleName grants the hr role to guild members holding a role with
	// this name.
	HRRoleName string `yaml:"hr_role_name" env:"DISCORD_HR_ROLE"`
}

type Database struct {
	Driver   string `yaml:"driver" env:"DB_DRIVER" validate:"oneof=postgres sqlite"`
	Host     string `yaml:"host" env:"DB_HOST" validate:"required_if=Driver postgres"`
	Port     int    `yaml:"port" env:"DB_PORT" validate:"required_if=Driver postgres,gte=0,lte=65535"`
	User     string `yaml:"user" env:"DB_USER" validate:"required_if=Driver postgres"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"DB_NAME" validate:"required_if=Driver postgres"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS" validate:"min=1"`
	MinConns int32  `yaml:"min_conns" env:"DB_MIN_CONNS" validate:"min=0,ltefield=MaxConns"`
	// Path is the database file used by the sqlite driver.
	Path string `yaml:"path" env:"DB_PATH" validate:"required_if=Driver sqlite"`
}

// DSN returns the postgres connection URL.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type Attendance struct {
	// Timezone is the IANA zone used for calendar days and the late cutoff.
	Timezone string `yaml:"timezone" env:"ATTENDANCE_TIMEZONE" validate:"required"`
	// LateAfter is the local HH:MM after which a first clock-in counts as late.
	LateAfter      string `yaml:"late_after" env:"ATTENDANCE_LATE_AFTER" validate:"required,datetime=15:04"`
	SearchCap      int    `yaml:"search_cap" env:"ATTENDANCE_SEARCH_CAP" validate:"min=1"`
	HistoryLimit   int    `yaml:"history_limit" env:"ATTENDANCE_HISTORY_LIMIT" validate:"min=1"`
	RecentActivity int    `yaml:"recent_activity" env:"ATTENDANCE_RECENT_ACTIVITY" validate:"min=1"`
	// StrictClockIn rejects a clock-in while a session is open instead of
	// closing the dangling session.
	StrictClockIn bool `yaml:"strict_clock_in" env:"ATTENDANCE_STRICT_CLOCK_IN"`
}

// Location loads the configured timezone.
func (a Attendance) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid attendance timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

// LateCutoff returns the late threshold as an offset from local midnight.
func (a Attendance) LateCutoff() (time.Duration, error) {
	t, err := time.Parse("15:04", a.LateAfter)
	if err != nil {
		return 0, fmt.Errorf("invalid late_after %q: %w", a.LateAfter, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

type Telemetry struct {
	// OTLPEndpoint enables tracing when set, e.g. http://localhost:4318.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

type Config struct {
	Discord    Discord    `yaml:"discord"`
	Database   Database   `yaml:"database"`
	Attendance Attendance `yaml:"attendance"`
	Telemetry  Telemetry  `yaml:"telemetry"`
}

// Default returns the configuration used for every key the file and the
// environment leave unset.
func Default() Config {
	return Config{
		Database: Database{
			Driver:   DriverPostgres,
			Port:     5432,
			SSLMode:  "disable",
			MaxConns: 10,
			MinConns: 2,
		},
		Attendance: Attendance{
			Timezone:       "Local",
			LateAfter:      "09:00",
			SearchCap:      5000,
			HistoryLimit:   365,
			RecentActivity: 4,
		},
		Telemetry: Telemetry{
			ServiceName: "attendbot",
		},
	}
}

// Load reads path (DefaultPath when empty), expands ${VAR} placeholders,
// applies environment overrides and validates the result. A missing file is
// not an error: defaults plus environment are used instead.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		content := expandPlaceholders(string(data))
		if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, fmt.Errorf("error parsing config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and that the timezone and late cutoff
// parse.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Attendance.Location(); err != nil {
		return err
	}
	if _, err := c.Attendance.LateCutoff(); err != nil {
		return err
	}
	return nil
}

// expandPlaceholders replaces ${VAR} with the environment value of VAR.
// Unknown variables are left untouched so env tags can still fill them.
func expandPlaceholders(content string) string {
	for _, kv := range os.Environ() {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 {
			continue
		}
		content = strings.ReplaceAll(content, "${"+pair[0]+"}", pair[1])
	}
	return content
}
