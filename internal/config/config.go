package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bananalabs-oss/potassium/config"
	"github.com/bananalabs-oss/retro/internal/retro"
)

type Config struct {
	Host           string
	Port           string
	DatabaseURL    string
	ServiceToken   string
	AllowedOrigins []string

	LogLevel  string
	LogFormat string

	Policy        retro.Policy
	SweepInterval time.Duration

	Argon2Memory      uint32
	Argon2Iterations  uint32
	Argon2Parallelism uint8

	WSRateLimit float64
	WSRateBurst int
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// DatabaseDisplay is DatabaseURL with any password masked, for logging.
func (c Config) DatabaseDisplay() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}

// Load reads the configuration from the environment. SERVICE_TOKEN is
// required; everything else has a default.
func Load() (Config, error) {
	cfg := Config{
		Host:         config.EnvOrDefault("HOST", "0.0.0.0"),
		Port:         config.EnvOrDefault("PORT", "8004"),
		DatabaseURL:  config.EnvOrDefault("DATABASE_URL", "sqlite://retro.db"),
		ServiceToken: config.RequireEnv("SERVICE_TOKEN"),
		LogLevel:     config.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:    config.EnvOrDefault("LOG_FORMAT", "json"),
	}
	cfg.AllowedOrigins = splitList(config.EnvOrDefault("ALLOWED_ORIGINS", "*"))

	var err error
	cfg.Policy = retro.DefaultPolicy()

	cfg.Policy.AllowDiscussionEdits, err = retro.ParseCardEditPolicy(config.EnvOrDefault("CARD_EDIT_POLICY", "creation-only"))
	if err != nil {
		return Config{}, err
	}
	cfg.Policy.RemoveOnDisconnect, err = retro.ParseDisconnectPolicy(config.EnvOrDefault("DISCONNECT_POLICY", "remove"))
	if err != nil {
		return Config{}, err
	}
	cfg.Policy.Retention, err = retro.ParseRetention(config.EnvOrDefault("ON_EMPTY_ROOM", "retain"))
	if err != nil {
		return Config{}, err
	}

	sweep := config.EnvOrDefault("ROOM_SWEEP_INTERVAL", "1m")
	cfg.SweepInterval, err = time.ParseDuration(sweep)
	if err != nil || cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("invalid ROOM_SWEEP_INTERVAL %q", sweep)
	}

	memory, err := parseUint("ARGON2_MEMORY_KB", "65536", 32)
	if err != nil {
		return Config{}, err
	}
	iterations, err := parseUint("ARGON2_ITERATIONS", "3", 32)
	if err != nil {
		return Config{}, err
	}
	parallelism, err := parseUint("ARGON2_PARALLELISM", "1", 8)
	if err != nil {
		return Config{}, err
	}
	cfg.Argon2Memory = uint32(memory)
	cfg.Argon2Iterations = uint32(iterations)
	cfg.Argon2Parallelism = uint8(parallelism)

	cfg.WSRateLimit, err = strconv.ParseFloat(config.EnvOrDefault("WS_RATE_LIMIT", "20"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid WS_RATE_LIMIT: %w", err)
	}
	burst, err := parseUint("WS_RATE_BURST", "40", 31)
	if err != nil {
		return Config{}, err
	}
	cfg.WSRateBurst = int(burst)

	return cfg, nil
}

func parseUint(key, fallback string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(config.EnvOrDefault(key, fallback), 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
