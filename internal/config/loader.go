package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "CLUBSCHED_"

// Config captures environment driven configuration values for the club scheduler.
type Config struct {
	HTTPPort             int
	SQLiteDSN            string
	JWTSecret            string
	MaxGenerationDays    int
	MaxStartDaysAhead    int
	MaxTotalParticipants int
	JobPollInterval      time.Duration
	JobMaxAttempts       int
	LogLevel             string
	LogFormat            string
}

// LoadWithDotEnv loads the given .env files into the process environment and
// then calls Load. Variables already set in the environment win. Missing
// files are skipped; with no paths, ".env" in the working directory is tried.
func LoadWithDotEnv(paths ...string) (Config, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return Load()
}

// Load parses configuration values from the current process environment.
//
// Optional fields fall back to defaults. Missing required values and values
// that fail to parse are reported together by variable name.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:             8080,
		SQLiteDSN:            "file:clubscheduler.db",
		MaxGenerationDays:    14,
		MaxStartDaysAhead:    365,
		MaxTotalParticipants: 500,
		JobPollInterval:      5 * time.Second,
		JobMaxAttempts:       3,
		LogLevel:             "info",
		LogFormat:            "json",
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 4)

	positiveInt := func(key string, target *int) {
		value := lookup(key)
		if value == "" {
			return
		}
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			invalid = append(invalid, envPrefix+key)
			return
		}
		*target = n
	}

	positiveInt("HTTP_PORT", &cfg.HTTPPort)
	positiveInt("MAX_GENERATION_DAYS", &cfg.MaxGenerationDays)
	positiveInt("MAX_START_DAYS_AHEAD", &cfg.MaxStartDaysAhead)
	positiveInt("MAX_TOTAL_PARTICIPANTS", &cfg.MaxTotalParticipants)
	positiveInt("JOB_MAX_ATTEMPTS", &cfg.JobMaxAttempts)

	if dsn := lookup("SQLITE_DSN"); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if secret := lookup("JWT_SECRET"); secret == "" {
		missing = append(missing, envPrefix+"JWT_SECRET")
	} else {
		cfg.JWTSecret = secret
	}

	if intervalValue := lookup("JOB_POLL_INTERVAL"); intervalValue != "" {
		interval, err := time.ParseDuration(intervalValue)
		if err != nil || interval <= 0 {
			invalid = append(invalid, envPrefix+"JOB_POLL_INTERVAL")
		} else {
			cfg.JobPollInterval = interval
		}
	}

	if level := strings.ToLower(lookup("LOG_LEVEL")); level != "" {
		switch level {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = level
		default:
			invalid = append(invalid, envPrefix+"LOG_LEVEL")
		}
	}

	if format := strings.ToLower(lookup("LOG_FORMAT")); format != "" {
		switch format {
		case "json", "text":
			cfg.LogFormat = format
		default:
			invalid = append(invalid, envPrefix+"LOG_FORMAT")
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func lookup(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}
