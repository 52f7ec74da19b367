package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "attend")
	t.Setenv("DB_NAME", "attendance")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Port != 5432 {
		t.Fatalf("port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Attendance.LateAfter != "09:00" {
		t.Fatalf("late_after = %q, want 09:00", cfg.Attendance.LateAfter)
	}
	if cfg.Attendance.HistoryLimit != 365 {
		t.Fatalf("history_limit = %d, want 365", cfg.Attendance.HistoryLimit)
	}
}

func TestLoadExpandsPlaceholdersAndEnvOverrides(t *testing.T) {
	t.Setenv("ATTEND_TEST_TOKEN", "secret-token")
	t.Setenv("DB_PORT", "6543")
	path := writeConfig(t, `
discord:
  token: ${ATTEND_TEST_TOKEN}
  client_id: "42"
database:
  driver: postgres
  host: localhost
  port: 5432
  user: attend
  dbname: attendance
attendance:
  timezone: UTC
  late_after: "08:30"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discord.Token != "secret-token" {
		t.Fatalf("token = %q, want secret-token", cfg.Discord.Token)
	}
	if cfg.Database.Port != 6543 {
		t.Fatalf("port = %d, want env override 6543", cfg.Database.Port)
	}
	cutoff, err := cfg.Attendance.LateCutoff()
	if err != nil {
		t.Fatalf("late cutoff: %v", err)
	}
	if cutoff != 8*time.Hour+30*time.Minute {
		t.Fatalf("cutoff = %v, want 8h30m", cutoff)
	}
}

func TestLoadSQLiteRequiresPath(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
attendance:
  timezone: UTC
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for sqlite without path")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "bad timezone",
			body: "database:\n  driver: sqlite\n  path: a.db\nattendance:\n  timezone: Mars/Olympus\n",
			want: "timezone",
		},
		{
			name: "bad late cutoff",
			body: "database:\n  driver: sqlite\n  path: a.db\nattendance:\n  timezone: UTC\n  late_after: \"9am\"\n",
			want: "LateAfter",
		},
		{
			name: "bad driver",
			body: "database:\n  driver: mysql\n",
			want: "Driver",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	d := Database{Host: "h", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	if got := d.DSN(); got != "postgres://u:p@h:5432/n?sslmode=disable" {
		t.Fatalf("dsn = %q", got)
	}
}
