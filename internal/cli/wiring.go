package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/careviah/caregiver/internal/auth"
	"github.com/careviah/caregiver/internal/careapi"
	"github.com/careviah/caregiver/internal/config"
	"github.com/careviah/caregiver/internal/geolocation"
	"github.com/careviah/caregiver/internal/resilience"
	"github.com/careviah/caregiver/internal/schedule"
)

// tokenSource prefers the token file so a rotated token is picked up
// without a restart.
func tokenSource(cfg config.CareAPIConfig) auth.TokenSource {
	if cfg.TokenFile != "" {
		return auth.FileToken{Path: cfg.TokenFile}
	}
	return auth.StaticToken(cfg.Token)
}

// maxRetries maps the configured retry count onto the resilience client,
// where zero would mean "use the default".
func maxRetries(n uint64) int {
	if n == 0 {
		return resilience.NoRetries
	}
	return int(n)
}

func newCareClient(cfg config.Config, registry *resilience.Registry, log zerolog.Logger) (*careapi.Client, error) {
	loc, err := cfg.TimeLocation()
	if err != nil {
		return nil, err
	}

	httpClient := resilience.NewClient(resilience.ClientConfig{
		Name:       careapi.UpstreamName,
		Timeout:    cfg.CareAPI.Timeout,
		MaxRetries: maxRetries(cfg.CareAPI.MaxRetries),
		Registry:   registry,
		Logger:     log,
	})

	return careapi.NewClient(careapi.ClientConfig{
		BaseURL:    cfg.CareAPI.BaseURL,
		Tokens:     tokenSource(cfg.CareAPI),
		HTTPClient: httpClient,
		Location:   loc,
		Logger:     log,
	}), nil
}

func newStore(cfg config.Config, log zerolog.Logger) (*schedule.Store, error) {
	loc, err := cfg.TimeLocation()
	if err != nil {
		return nil, err
	}
	phase := cfg.Phase()
	return schedule.NewStore(schedule.StoreConfig{
		Phase:    &phase,
		Location: loc,
		Logger:   log,
	}), nil
}

// newLocator returns the position provider for transitions. reported is
// non-nil only in reported mode, where the local API feeds it.
func newLocator(cfg config.LocationConfig) (provider geolocation.Provider, reported *geolocation.Reported, err error) {
	switch cfg.Mode {
	case config.LocationReported:
		reported = geolocation.NewReported(cfg.MaxAge)
		return reported, reported, nil
	case config.LocationStatic:
		return geolocation.NewStatic(geolocation.Position{Latitude: cfg.Latitude, Longitude: cfg.Longitude}), nil, nil
	case config.LocationNone:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown location mode %q", cfg.Mode)
	}
}
