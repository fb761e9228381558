// Package config loads caregiver agent settings from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/careviah/caregiver/internal/careapi"
	"github.com/careviah/caregiver/internal/geolocation"
	"github.com/careviah/caregiver/internal/schedule"
	"github.com/careviah/caregiver/internal/worker"
)

// Location modes.
const (
	LocationReported = "reported"
	LocationStatic   = "static"
	LocationNone     = "none"
)

// Config errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds every setting of the agent.
type Config struct {
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	Server    ServerConfig    `yaml:"server"`
	CareAPI   CareAPIConfig   `yaml:"care_api"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Location  LocationConfig  `yaml:"location"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Token           string        `yaml:"token"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CareAPIConfig configures the remote schedule API.
type CareAPIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	TokenFile  string        `yaml:"token_file"`
	Timeout    time.Duration `yaml:"timeout"`
	// MaxRetries bounds retries of idempotent reads. Zero disables them.
	MaxRetries uint64 `yaml:"max_retries"`
}

// ScheduleConfig holds the visit timing windows and polling cadence.
type ScheduleConfig struct {
	TimeZone     string        `yaml:"time_zone"`
	GraceMinutes int           `yaml:"grace_minutes"`
	ReadyWindow  time.Duration `yaml:"ready_window"`
	StartingSoon time.Duration `yaml:"starting_soon"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// LocationConfig selects where clock-in and clock-out positions come from.
type LocationConfig struct {
	Mode            string        `yaml:"mode"`
	Latitude        float64       `yaml:"latitude"`
	Longitude       float64       `yaml:"longitude"`
	MaxAge          time.Duration `yaml:"max_age"`
	Timeout         time.Duration `yaml:"timeout"`
	ProximityRadius float64       `yaml:"proximity_radius"`
}

// PubSubConfig enables push-triggered refreshes when both fields are set.
type PubSubConfig struct {
	ProjectID    string `yaml:"project_id"`
	Subscription string `yaml:"subscription"`
}

// Enabled reports whether a subscription is configured.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.Subscription != ""
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		CareAPI: CareAPIConfig{
			BaseURL:    careapi.DefaultBaseURL,
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Schedule: ScheduleConfig{
			TimeZone:     "Local",
			GraceMinutes: schedule.DefaultGraceMinutes,
			ReadyWindow:  schedule.DefaultReadyWindow,
			StartingSoon: schedule.DefaultStartingSoon,
			PollInterval: worker.DefaultPollInterval,
			PollTimeout:  worker.DefaultPollTimeout,
		},
		Location: LocationConfig{
			Mode:            LocationReported,
			MaxAge:          2 * time.Minute,
			Timeout:         geolocation.DefaultTimeout,
			ProximityRadius: schedule.DefaultProximityRadius,
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
			Insecure: true,
		},
	}
}

// Load builds the configuration. path names an optional YAML file; an
// empty path skips it. Environment variables override the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings for values the agent cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.CareAPI.BaseURL == "" {
		errs = append(errs, errors.New("care_api.base_url is required"))
	}
	if c.Schedule.GraceMinutes < 0 {
		errs = append(errs, errors.New("schedule.grace_minutes must not be negative"))
	}
	if c.Schedule.ReadyWindow < 0 {
		errs = append(errs, errors.New("schedule.ready_window must not be negative"))
	}
	if c.Schedule.PollInterval <= 0 {
		errs = append(errs, errors.New("schedule.poll_interval must be positive"))
	}
	if _, err := c.TimeLocation(); err != nil {
		errs = append(errs, fmt.Errorf("schedule.time_zone: %w", err))
	}

	switch c.Location.Mode {
	case LocationReported, LocationNone:
	case LocationStatic:
		pos := geolocation.Position{Latitude: c.Location.Latitude, Longitude: c.Location.Longitude}
		if err := pos.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("location: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("location.mode must be %s, %s or %s", LocationReported, LocationStatic, LocationNone))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// TimeLocation resolves the caregiver's time zone.
func (c Config) TimeLocation() (*time.Location, error) {
	if c.Schedule.TimeZone == "" || strings.EqualFold(c.Schedule.TimeZone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.TimeZone)
}

// Phase returns the visit timing windows.
func (c Config) Phase() schedule.PhaseConfig {
	return schedule.PhaseConfig{
		ReadyWindow:  c.Schedule.ReadyWindow,
		GraceMinutes: c.Schedule.GraceMinutes,
		StartingSoon: c.Schedule.StartingSoon,
	}
}

type lookupFunc func(key string) (string, bool)

// applyEnv overlays environment variables that are set.
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.setStr("APP_ENV", &c.Environment)
	e.setStr("LOG_LEVEL", &c.LogLevel)

	e.setStr("APP_ADDR", &c.Server.Addr)
	e.setStr("CAREGIVER_LOCAL_TOKEN", &c.Server.Token)
	e.setDuration("APP_READ_TIMEOUT", &c.Server.ReadTimeout)
	e.setDuration("APP_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	e.setDuration("APP_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	e.setStr("CARE_API_URL", &c.CareAPI.BaseURL)
	e.setStr("CARE_API_TOKEN", &c.CareAPI.Token)
	e.setStr("CARE_API_TOKEN_FILE", &c.CareAPI.TokenFile)
	e.setDuration("CARE_API_TIMEOUT", &c.CareAPI.Timeout)
	e.setUint("CARE_API_MAX_RETRIES", &c.CareAPI.MaxRetries)

	e.setStr("CAREGIVER_TZ", &c.Schedule.TimeZone)
	e.setInt("CAREGIVER_GRACE_MINUTES", &c.Schedule.GraceMinutes)
	e.setDuration("CAREGIVER_READY_WINDOW", &c.Schedule.ReadyWindow)
	e.setDuration("CAREGIVER_STARTING_SOON", &c.Schedule.StartingSoon)
	e.setDuration("CAREGIVER_POLL_INTERVAL", &c.Schedule.PollInterval)
	e.setDuration("CAREGIVER_POLL_TIMEOUT", &c.Schedule.PollTimeout)

	e.setStr("CAREGIVER_LOCATION_MODE", &c.Location.Mode)
	e.setFloat("CAREGIVER_LATITUDE", &c.Location.Latitude)
	e.setFloat("CAREGIVER_LONGITUDE", &c.Location.Longitude)
	e.setDuration("CAREGIVER_LOCATION_MAX_AGE", &c.Location.MaxAge)
	e.setDuration("CAREGIVER_LOCATION_TIMEOUT", &c.Location.Timeout)
	e.setFloat("CAREGIVER_PROXIMITY_RADIUS", &c.Location.ProximityRadius)

	e.setStr("PUBSUB_PROJECT_ID", &c.PubSub.ProjectID)
	e.setStr("PUBSUB_SUBSCRIPTION", &c.PubSub.Subscription)

	e.setBool("OTEL_ENABLED", &c.Telemetry.Enabled)
	e.setStr("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	e.setBool("OTEL_EXPORTER_OTLP_INSECURE", &c.Telemetry.Insecure)
	e.setFloat("OTEL_TRACES_SAMPLER_ARG", &c.Telemetry.SampleRatio)

	if len(e.errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(e.errs...))
	}
	return nil
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) setStr(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) setUint(key string, dst *uint64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}
