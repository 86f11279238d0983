package lockout

import (
	"os"
	"strconv"
	"strings"
	"time"

	"authgate/internal/observability"
)

const (
	defaultEnabled        = true
	defaultMaxAttempts    = 5
	defaultLockMinutes    = 15
	defaultResetOnSuccess = true
)

// Config holds the account-lockout thresholds. It is built once at startup
// and passed by value; nothing mutates it afterwards.
type Config struct {
	Enabled        bool
	MaxAttempts    int
	LockDuration   time.Duration
	ResetOnSuccess bool
}

func DefaultConfig() Config {
	return Config{
		Enabled:        defaultEnabled,
		MaxAttempts:    defaultMaxAttempts,
		LockDuration:   defaultLockMinutes * time.Minute,
		ResetOnSuccess: defaultResetOnSuccess,
	}
}

// LoadConfig reads lockout settings from the environment. Unparseable or
// non-positive values fall back to the defaults with a warning; a bad value
// is never fatal and never silently accepted.
func LoadConfig(logger *observability.Logger) Config {
	return Config{
		Enabled:        envBool(logger, "LOCKOUT_ENABLED", defaultEnabled),
		MaxAttempts:    envPositiveInt(logger, "LOCKOUT_MAX_ATTEMPTS", defaultMaxAttempts),
		LockDuration:   time.Duration(envPositiveInt(logger, "LOCKOUT_DURATION_MINUTES", defaultLockMinutes)) * time.Minute,
		ResetOnSuccess: envBool(logger, "LOCKOUT_RESET_ON_SUCCESS", defaultResetOnSuccess),
	}
}

func envBool(logger *observability.Logger, name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}

	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		logger.Warn("lockout_config_invalid", map[string]any{
			"key":      name,
			"value":    raw,
			"fallback": fallback,
		})
		return fallback
	}
}

func envPositiveInt(logger *observability.Logger, name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		logger.Warn("lockout_config_invalid", map[string]any{
			"key":      name,
			"value":    raw,
			"fallback": fallback,
		})
		return fallback
	}

	return parsed
}
