package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "BACKEND_BASE_URL", "DEVICE_LAT", "DEVICE_LON", "STORE_BACKEND", "RETRY_MAX", "WEATHER_CACHE_TTL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 5*time.Second, cfg.Timeouts.Probe)
	require.Equal(t, 30*time.Second, cfg.Timeouts.Analysis)
	require.Equal(t, 8*time.Second, cfg.Timeouts.Weather)
	require.Equal(t, 20*time.Minute, cfg.Weather.CacheTTL)
	require.Equal(t, 60*time.Minute, cfg.Location.CacheTTL)
	require.Equal(t, 2, cfg.Weather.RetryMax)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Nil(t, cfg.Location.Device)
	require.InDelta(t, 14.6937, cfg.Location.Default.Lat, 1e-9)
}

func TestLoadDevicePosition(t *testing.T) {
	t.Setenv("DEVICE_LAT", "14.0")
	t.Setenv("DEVICE_LON", "-16.0")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Location.Device)
	require.Equal(t, 14.0, cfg.Location.Device.Lat)
	require.Equal(t, -16.0, cfg.Location.Device.Lon)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"bad duration":    {"WEATHER_TIMEOUT", "soon"},
		"bad backend":     {"STORE_BACKEND", "sqlite"},
		"valkey no addr":  {"STORE_BACKEND", "valkey"},
		"latitude range":  {"DEFAULT_LAT", "123"},
		"bad policy":      {"OUTBOX_POLICY", "grow"},
		"bad backend url": {"BACKEND_BASE_URL", "not a url"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("VALKEY_ADDR", "")
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			require.Error(t, err)
		})
	}
}
