package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudwatch/internal/config"
	"fraudwatch/internal/flags"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "test",
		LogLevel:     "error",
		KafkaBrokers: "", // no broker in unit tests
		ScorerMode:   config.ScorerModeStub,
		PollInterval: 10 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	s, err := New(testConfig(), opts...)
	require.NoError(t, err)
	return s
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Checks["flag_store"])
	assert.Equal(t, "healthy", resp.Checks["state_store"])
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessEndpoint_NotReadyBeforeRun(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDHeader_Preserved(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("X-Request-ID", "upstream-id-42")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, "upstream-id-42", w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fraudwatch_")
}

func TestEndToEnd_EventToFlagToREST(t *testing.T) {
	store := flags.NewMemoryStore()
	s := newTestServer(t, WithFlagStore(store))

	// High amount + first-seen country and device trips the rule ensemble
	// (and the stub scorer above its threshold).
	payload := []byte(`{
		"txn_id": "txn-e2e-1",
		"user_id": "user-e2e",
		"amount": 2500,
		"currency": "USD",
		"country": "BR",
		"device_id": "dev-x",
		"timestamp": "2026-08-28T12:00:00Z"
	}`)

	out, err := s.Pipeline().Process(context.Background(), payload)
	require.NoError(t, err)
	require.True(t, out.Flagged)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/flags", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Flags []flags.FraudFlag `json:"flags"`
		Count int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "txn-e2e-1", resp.Flags[0].TxnID)

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transactions/txn-e2e-1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var txn flags.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txn))
	assert.Equal(t, "user-e2e", txn.UserID)
	assert.True(t, txn.Features.NewCountry)
	assert.True(t, txn.Features.NewDevice)
}

func TestTransactionNotFound(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transactions/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
