package deye

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshp123/deyehome/internal/config"
	"github.com/joshp123/deyehome/internal/core"
	"github.com/joshp123/deyehome/internal/logging"
)

func TestPluginAccountsEndpoint(t *testing.T) {
	p, ok := NewPlugin(&config.DeyeConfig{BaseURL: config.DefaultDeyeBaseURL, PollIntervalSeconds: 5}, logging.Discard())
	require.True(t, ok)
	require.Equal(t, core.HealthHealthy, p.Health())

	mux := http.NewServeMux()
	p.RegisterHTTP(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deye/accounts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Health   string `json:"health"`
		Accounts []any  `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "HEALTHY", body.Health)
	require.Empty(t, body.Accounts)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/deye/accounts", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBrokenPluginReportsError(t *testing.T) {
	p, ok := NewPlugin(&config.DeyeConfig{PollIntervalSeconds: 5}, logging.Discard())
	require.True(t, ok)
	require.Equal(t, core.HealthError, p.Health())
	require.NotEmpty(t, p.HealthMessage())

	mux := http.NewServeMux()
	p.RegisterHTTP(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deye/accounts", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	_, ok = NewPlugin(nil, logging.Discard())
	require.False(t, ok)
}
