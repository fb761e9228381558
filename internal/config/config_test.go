package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careviah/caregiver/internal/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caregiver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, "https://care-giver.devsinkenya.com", cfg.CareAPI.BaseURL)
	assert.Equal(t, 5, cfg.Schedule.GraceMinutes)
	assert.Equal(t, 10*time.Second, cfg.Schedule.PollInterval)
	assert.Equal(t, config.LocationReported, cfg.Location.Mode)
	assert.False(t, cfg.PubSub.Enabled())
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_FileOverlay(t *testing.T) {
	path := writeFile(t, `
environment: production
server:
  addr: 0.0.0.0:9090
  token: local-secret
care_api:
  base_url: https://care.example.test
  token_file: /run/secrets/care-token
schedule:
  time_zone: Africa/Nairobi
  grace_minutes: 10
  poll_interval: 30s
location:
  mode: static
  latitude: -1.2921
  longitude: 36.8219
pubsub:
  project_id: care-prod
  subscription: schedule-events
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr)
	assert.Equal(t, "local-secret", cfg.Server.Token)
	assert.Equal(t, "https://care.example.test", cfg.CareAPI.BaseURL)
	assert.Equal(t, "/run/secrets/care-token", cfg.CareAPI.TokenFile)
	assert.Equal(t, 10, cfg.Schedule.GraceMinutes)
	assert.Equal(t, 30*time.Second, cfg.Schedule.PollInterval)
	assert.Equal(t, config.LocationStatic, cfg.Location.Mode)
	assert.InDelta(t, 36.8219, cfg.Location.Longitude, 1e-9)
	assert.True(t, cfg.PubSub.Enabled())

	// Untouched fields keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.ReadyWindow)

	loc, err := cfg.TimeLocation()
	require.NoError(t, err)
	assert.Equal(t, "Africa/Nairobi", loc.String())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
server:
  addr: 0.0.0.0:9090
schedule:
  poll_interval: 30s
`)
	t.Setenv("APP_ADDR", "127.0.0.1:7000")
	t.Setenv("CAREGIVER_POLL_INTERVAL", "5s")
	t.Setenv("CARE_API_TOKEN", "abc")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("CAREGIVER_GRACE_MINUTES", "0")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Schedule.PollInterval)
	assert.Equal(t, "abc", cfg.CareAPI.Token)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0, cfg.Schedule.GraceMinutes)
}

func TestLoad_EmptyEnvIgnored(t *testing.T) {
	t.Setenv("APP_ADDR", "  ")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "reading config")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := config.Load(writeFile(t, "server: [unclosed"))
		assert.ErrorContains(t, err, "parsing config")
	})

	t.Run("bad env values are all reported", func(t *testing.T) {
		t.Setenv("CAREGIVER_POLL_INTERVAL", "often")
		t.Setenv("CAREGIVER_GRACE_MINUTES", "five")

		_, err := config.Load("")
		require.ErrorIs(t, err, config.ErrInvalidConfig)
		assert.ErrorContains(t, err, "CAREGIVER_POLL_INTERVAL")
		assert.ErrorContains(t, err, "CAREGIVER_GRACE_MINUTES")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults", func(*config.Config) {}, ""},
		{"no addr", func(c *config.Config) { c.Server.Addr = "" }, "server.addr"},
		{"negative grace", func(c *config.Config) { c.Schedule.GraceMinutes = -1 }, "grace_minutes"},
		{"zero poll interval", func(c *config.Config) { c.Schedule.PollInterval = 0 }, "poll_interval"},
		{"unknown zone", func(c *config.Config) { c.Schedule.TimeZone = "Mars/Olympus" }, "time_zone"},
		{"unknown location mode", func(c *config.Config) { c.Location.Mode = "gps" }, "location.mode"},
		{"static without valid coordinates", func(c *config.Config) {
			c.Location.Mode = config.LocationStatic
			c.Location.Latitude = 91
		}, "location"},
		{"sample ratio out of range", func(c *config.Config) { c.Telemetry.SampleRatio = 2 }, "sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, config.ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPhase(t *testing.T) {
	cfg := config.Default()
	cfg.Schedule.GraceMinutes = 7

	phase := cfg.Phase()
	assert.Equal(t, 7, phase.GraceMinutes)
	assert.Equal(t, 5*time.Minute, phase.ReadyWindow)
	assert.Equal(t, 30*time.Minute, phase.StartingSoon)
}
