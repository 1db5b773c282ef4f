package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port              string        `env:"PORT" envDefault:"8080"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	RedisURL          string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	VolunteerDuration time.Duration `env:"VOLUNTEER_DURATION" envDefault:"60s"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	JWTSecret         string        `env:"JWT_SECRET"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty         bool          `env:"LOG_PRETTY" envDefault:"false"`
}

// Load reads an optional .env file from the working directory and then
// parses the process environment. Variables already set in the environment
// win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.VolunteerDuration <= 0 {
		return Config{}, fmt.Errorf("VOLUNTEER_DURATION must be positive, got %s", cfg.VolunteerDuration)
	}
	if cfg.SessionTTL < cfg.VolunteerDuration {
		return Config{}, fmt.Errorf("SESSION_TTL (%s) must not be shorter than VOLUNTEER_DURATION (%s)", cfg.SessionTTL, cfg.VolunteerDuration)
	}
	return cfg, nil
}
