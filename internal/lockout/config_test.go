package lockout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"authgate/internal/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("LOCKOUT_ENABLED", "")
	t.Setenv("LOCKOUT_MAX_ATTEMPTS", "")
	t.Setenv("LOCKOUT_DURATION_MINUTES", "")
	t.Setenv("LOCKOUT_RESET_ON_SUCCESS", "")

	cfg := LoadConfig(observability.NewLogger())
	require.True(t, cfg.Enabled)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, 15*time.Minute, cfg.LockDuration)
	require.True(t, cfg.ResetOnSuccess)
}

func TestLoadConfig_ReadsEnvironment(t *testing.T) {
	t.Setenv("LOCKOUT_ENABLED", "false")
	t.Setenv("LOCKOUT_MAX_ATTEMPTS", "3")
	t.Setenv("LOCKOUT_DURATION_MINUTES", "30")
	t.Setenv("LOCKOUT_RESET_ON_SUCCESS", "no")

	cfg := LoadConfig(observability.NewLogger())
	require.False(t, cfg.Enabled)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 30*time.Minute, cfg.LockDuration)
	require.False(t, cfg.ResetOnSuccess)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("LOCKOUT_ENABLED", "banana")
	t.Setenv("LOCKOUT_MAX_ATTEMPTS", "-2")
	t.Setenv("LOCKOUT_DURATION_MINUTES", "soon")
	t.Setenv("LOCKOUT_RESET_ON_SUCCESS", "2")

	cfg := LoadConfig(observability.NewLogger())
	require.True(t, cfg.Enabled)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, 15*time.Minute, cfg.LockDuration)
	require.True(t, cfg.ResetOnSuccess)
}

func TestLoadConfig_ZeroIsNotPositive(t *testing.T) {
	t.Setenv("LOCKOUT_MAX_ATTEMPTS", "0")
	t.Setenv("LOCKOUT_DURATION_MINUTES", "0")

	cfg := LoadConfig(observability.NewLogger())
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, 15*time.Minute, cfg.LockDuration)
}
