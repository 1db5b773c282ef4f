package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "DATABASE_URL", "REDIS_URL", "VOLUNTEER_DURATION", "SESSION_TTL", "JWT_SECRET", "ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_PRETTY"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "")
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q, want default", cfg.RedisURL)
	}
	if cfg.VolunteerDuration != 60*time.Second {
		t.Errorf("VolunteerDuration = %s, want 60s", cfg.VolunteerDuration)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %s, want 30m", cfg.SessionTTL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestParse_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "3000")
	t.Setenv("DATABASE_URL", "postgres://localhost/roomleader")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("VOLUNTEER_DURATION", "30s")
	t.Setenv("SESSION_TTL", "10m")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want %q", cfg.Port, "3000")
	}
	if cfg.DatabaseURL != "postgres://localhost/roomleader" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://cache:6379/2" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.VolunteerDuration != 30*time.Second {
		t.Errorf("VolunteerDuration = %s, want 30s", cfg.VolunteerDuration)
	}
	if cfg.SessionTTL != 10*time.Minute {
		t.Errorf("SessionTTL = %s, want 10m", cfg.SessionTTL)
	}
	if !cfg.LogPretty {
		t.Error("LogPretty should be true")
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOLUNTEER_DURATION", "abc")

	_, err := Parse()
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParse_TTLShorterThanPhase(t *testing.T) {
	clearEnv(t)
	t.Setenv("VOLUNTEER_DURATION", "2m")
	t.Setenv("SESSION_TTL", "1m")

	if _, err := Parse(); err == nil {
		t.Fatal("expected error when SESSION_TTL < VOLUNTEER_DURATION")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9090\nJWT_SECRET=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Cleanup(func() {
		os.Unsetenv("PORT")
		os.Unsetenv("JWT_SECRET")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want %q", cfg.Port, "9090")
	}
	if cfg.JWTSecret != "from-file" {
		t.Errorf("JWTSecret = %q, want %q", cfg.JWTSecret, "from-file")
	}
}
