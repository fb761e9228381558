package resilience_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careviah/caregiver/internal/resilience"
)

func TestRegistry_ClientRegistersItself(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("care-api")
	cfg.Registry = registry

	resilience.NewClient(cfg)

	assert.Equal(t, 1, registry.Len())

	health := registry.Health("care-api")
	require.NotNil(t, health)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.True(t, health.IsHealthy())
	assert.Equal(t, resilience.HealthHealthy, health.Status())
	assert.Nil(t, health.LastSuccessAt)
}

func TestRegistry_RecordsRequestOutcomes(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := fastConfig("care-api")
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	do := func() {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, http.NoBody)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	do()
	health := registry.Health("care-api")
	require.NotNil(t, health.LastFailureAt)
	assert.Contains(t, health.LastError, "500")
	assert.Nil(t, health.LastSuccessAt)

	fail.Store(false)
	do()
	health = registry.Health("care-api")
	require.NotNil(t, health.LastSuccessAt)
}

func TestRegistry_Unregister(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("care-api")
	cfg.Registry = registry
	resilience.NewClient(cfg)

	registry.Unregister("care-api")

	assert.Equal(t, 0, registry.Len())
	assert.Nil(t, registry.Health("care-api"))
}

func TestRegistry_UnknownNameIsIgnored(t *testing.T) {
	registry := resilience.NewRegistry()

	registry.RecordSuccess("missing")
	registry.RecordFailure("missing", errors.New("boom"))

	assert.Nil(t, registry.Health("missing"))
}

func TestRegistry_AllHealthSorted(t *testing.T) {
	registry := resilience.NewRegistry()
	for _, name := range []string{"status", "care-api"} {
		cfg := resilience.DefaultClientConfig(name)
		cfg.Registry = registry
		resilience.NewClient(cfg)
	}

	all := registry.AllHealth()
	require.Len(t, all, 2)
	assert.Equal(t, "care-api", all[0].Name)
	assert.Equal(t, "status", all[1].Name)
}

func TestUpstreamHealth_Status(t *testing.T) {
	tests := []struct {
		state gobreaker.State
		want  string
	}{
		{gobreaker.StateClosed, resilience.HealthHealthy},
		{gobreaker.StateHalfOpen, resilience.HealthDegraded},
		{gobreaker.StateOpen, resilience.HealthUnhealthy},
	}

	for _, tt := range tests {
		h := &resilience.UpstreamHealth{CircuitState: tt.state}
		assert.Equal(t, tt.want, h.Status())
	}
}
