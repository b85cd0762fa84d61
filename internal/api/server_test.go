package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-oracle/internal/detector"
	"sentinel-oracle/internal/metrics"
	"sentinel-oracle/internal/status"
)

func seededStore(t *testing.T) *status.Store {
	t.Helper()
	store := status.NewStore([]string{"BTC/USD", "ETH/USD"}, 50)
	at := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	z := 0.4
	require.NoError(t, store.Publish(context.Background(), detector.Verdict{
		Asset: "BTC/USD", Price: 65000, ZScore: &z, Reason: "normal: z-score 0.40 within threshold 2.50", Timestamp: at,
	}))

	spike := 3.4
	require.NoError(t, store.Publish(context.Background(), detector.Verdict{
		Asset: "ETH/USD", Price: 4200, ZScore: &spike, IsAnomalous: true, Severity: detector.SeverityCritical,
		Reason: "spike: z-score 3.40 exceeds threshold 2.50", Timestamp: at,
	}))
	store.SetFlagged("ETH/USD", true)
	return store
}

func newTestServer(t *testing.T) *Server {
	return New(Options{}, seededStore(t), metrics.New(), zerolog.Nop())
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStatusAll(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status          string                        `json:"status"`
		Assets          map[string]status.AssetStatus `json:"assets"`
		SupportedAssets []string                      `json:"supported_assets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, body.SupportedAssets)
	require.Contains(t, body.Assets, "ETH/USD")
	assert.True(t, body.Assets["ETH/USD"].Flagged)
	assert.Equal(t, 1, body.Assets["ETH/USD"].AnomalyCount)
}

func TestStatusSingleAsset(t *testing.T) {
	s := newTestServer(t)
	for _, target := range []string{"/api/status/ETH/USD", "/api/status/ETH%2FUSD"} {
		rec := do(t, s, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rec.Code, target)

		var st status.AssetStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.Equal(t, "ETH/USD", st.Asset)
		require.NotNil(t, st.LastVerdict)
		assert.Equal(t, 4200.0, st.LastVerdict.Price)
	}

	rec := do(t, s, http.MethodGet, "/api/status/DOGE/USD", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPriceHistory(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/price-history?asset=BTC/USD", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Asset  string              `json:"asset"`
		Prices []status.PricePoint `json:"prices"`
		Count  int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTC/USD", body.Asset)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 65000.0, body.Prices[0].Price)

	rec = do(t, s, http.MethodGet, "/api/price-history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"asset":"BTC/USD"`))

	rec = do(t, s, http.MethodGet, "/api/price-history?asset=DOGE/USD", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/chat", []byte(`{"message":"Is it safe?","asset":"ETH/USD"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var body chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ETH/USD", body.Asset)
	assert.True(t, body.IsAnomalous)
	assert.True(t, body.Flagged)
	assert.Contains(t, body.Response, "HIGH RISK")

	rec = do(t, s, http.MethodPost, "/api/chat", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/chat", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRespondRules(t *testing.T) {
	snap := seededStore(t).Snapshot()

	cases := []struct {
		msg, asset, want string
	}{
		{"how is it doing", "ETH/USD", "ALERT: I detected an anomaly in ETH/USD"},
		{"status?", "BTC/USD", "Everything looks normal for BTC/USD. Price is $65000.00 with a z-score of 0.40"},
		{"any risk", "BTC/USD", "LOW RISK"},
		{"explain", "ETH/USD", "3.40 standard deviations"},
		{"explain", "BTC/USD", "within normal ranges"},
		{"eth?", "ETH/USD", "The current ETH/USD price is $4200.00. Last updated: 2025-10-01T12:00:00Z"},
		{"hello", "BTC/USD", "I monitor 2 assets: BTC/USD, ETH/USD"},
		{"help", "BTC/USD", "Risk assessment"},
		{"overview please", "BTC/USD", "- ETH/USD: $4200.00 - Anomalous (flagged on-chain)"},
		{"zzz", "BTC/USD", "I'm monitoring BTC/USD. Current price: $65000.00"},
	}
	for _, tc := range cases {
		got := Respond(tc.msg, tc.asset, snap)
		assert.Contains(t, got, tc.want, "message %q", tc.msg)
	}
}

func TestRespondUnknownAsset(t *testing.T) {
	got := Respond("status", "DOGE/USD", nil)
	assert.Contains(t, got, "Everything looks normal for DOGE/USD. Price is $0.00")
}
