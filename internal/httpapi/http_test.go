package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recon_automation/internal/apperrors"
	"recon_automation/internal/config"
	"recon_automation/internal/events"
	"recon_automation/internal/metrics"
	"recon_automation/internal/store"
)

type stubStore struct {
	healthErr error
	headers   []store.Header
}

func (s *stubStore) Health(context.Context) error { return s.healthErr }

func (s *stubStore) RecentHeaders(_ context.Context, limit int) ([]store.Header, error) {
	if limit < len(s.headers) {
		return s.headers[:limit], nil
	}
	return s.headers, nil
}

func setupTest(t *testing.T, st *stubStore) (*http.ServeMux, *events.Bus) {
	t.Helper()
	cfg := config.Config{
		Environment: "test",
		Vendors:     map[string]bool{"Gryff": true, "Slyth": false},
		Load:        config.ProcessConfig{Name: config.ProcessLoad},
		Update:      config.ProcessConfig{Name: config.ProcessUpdate},
	}
	bus := events.NewBus(10)
	mux := http.NewServeMux()
	NewRouter(cfg, st, bus, metrics.New(), nil).Register(mux)
	return mux, bus
}

func TestHealthEndpoint(t *testing.T) {
	mux, _ := setupTest(t, &stubStore{})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/health", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	mux, _ = setupTest(t, &stubStore{healthErr: apperrors.StoreUnavailable(errors.New("refused"), "ping")})
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStatusEndpoint(t *testing.T) {
	mux, bus := setupTest(t, &stubStore{headers: []store.Header{{ID: 2, Vendor: "Raven"}, {ID: 1, Vendor: "Gryff"}}})
	bus.Publish(map[string]string{"file_name": "Gryff_daily_report_20240327.txt", "status": "Success"})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Processes []string            `json:"processes"`
		Vendors   []string            `json:"vendors"`
		Outcomes  []map[string]string `json:"outcomes"`
		Headers   []store.Header      `json:"headers"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, []string{config.ProcessLoad, config.ProcessUpdate}, body.Processes)
	assert.Equal(t, []string{"Gryff"}, body.Vendors)
	require.Len(t, body.Outcomes, 1)
	assert.Equal(t, "Success", body.Outcomes[0]["status"])
	assert.Len(t, body.Headers, 2)
}

func TestHeadersEndpointLimit(t *testing.T) {
	mux, _ := setupTest(t, &stubStore{headers: []store.Header{{ID: 3}, {ID: 2}, {ID: 1}}})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/headers?limit=2", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list []store.Header
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	assert.Len(t, list, 2)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ops/headers?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	mux, _ := setupTest(t, &stubStore{})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}
