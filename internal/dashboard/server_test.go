package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/metrics"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/pipeline"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

type fakeSource struct {
	snap     *pipeline.Snapshot
	triggers int
}

func (f *fakeSource) Latest() *pipeline.Snapshot { return f.snap }

func (f *fakeSource) Trigger() bool {
	f.triggers++
	return f.triggers == 1
}

func rate(apy float64) model.ExchangeRate {
	return model.ExchangeRate{Rate: model.Float(apy / 1095), IntervalHours: 8, APY: model.Float(apy)}
}

func testSnapshot() *pipeline.Snapshot {
	return &pipeline.Snapshot{
		CycleID:     uuid.New(),
		GeneratedAt: time.Now().UTC(),
		Rows: []model.AggregatedRow{
			{
				Symbol:         "BTCUSDT",
				Rates:          map[model.ExchangeID]model.ExchangeRate{model.Aster: rate(30), model.Binance: rate(10), model.Backpack: rate(20)},
				Spread:         20,
				TopExchange:    model.Aster,
				TopAPY:         30,
				SecondExchange: model.Backpack,
				SecondAPY:      20,
				TopSpread:      10,
			},
			{
				Symbol:         "ETHUSDT",
				Rates:          map[model.ExchangeID]model.ExchangeRate{model.Aster: rate(5), model.Lighter: rate(55)},
				Spread:         50,
				TopExchange:    model.Lighter,
				TopAPY:         55,
				SecondExchange: model.Aster,
				SecondAPY:      5,
				TopSpread:      50,
			},
		},
		Skipped:  []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT", "FUSDT"},
		Statuses: []pipeline.Status{{Exchange: model.Aster, OK: true, Items: 2}, {Exchange: model.EdgeX, Error: "blocked"}},
	}
}

func newTestServer(t *testing.T, source *fakeSource) (*Server, *gin.Engine) {
	t.Helper()
	srv, err := NewServer(config.DashboardConfig{Enabled: true, MetricsHistory: 10, LogHistory: 10}, logger.Logger(), source)
	require.NoError(t, err)
	require.NotNil(t, srv)
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter()
	require.NoError(t, err)
	return srv, router
}

func get(t *testing.T, router http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(method, target, nil))
	body := map[string]any{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body), res.Body.String())
	return res, body
}

func symbolsOf(body map[string]any) []string {
	var out []string
	for _, r := range body["rows"].([]any) {
		out = append(out, r.(map[string]any)["symbol"].(string))
	}
	return out
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                               "0.0.0.0:8080",
		"  :9090  ":                      "0.0.0.0:9090",
		"localhost":                      "localhost:8080",
		"0.0.0.0:80":                     "0.0.0.0:80",
		"[::1]:443":                      "[::1]:443",
		"::1":                            "[::1]:8080",
		"*:8080":                         "0.0.0.0:8080",
		"http://13.200.112.203:8080":     "13.200.112.203:8080",
		"https://13.200.112.203":         "13.200.112.203:8080",
		"http://:7070":                   "0.0.0.0:7070",
		"tcp://localhost:5050":           "localhost:5050",
		"https://dashboard.example.com/": "dashboard.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true, Address: ":9000"}, logger.Logger(), &fakeSource{})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", srv.Address())
	srv.cleanup()

	srv, err = NewServer(config.DashboardConfig{}, logger.Logger(), &fakeSource{})
	assert.NoError(t, err)
	assert.Nil(t, srv, "disabled dashboard")

	_, err = NewServer(config.DashboardConfig{Enabled: true}, logger.Logger(), nil)
	assert.Error(t, err)
}

func TestRowsBeforeFirstCycle(t *testing.T) {
	_, router := newTestServer(t, &fakeSource{})
	res, body := get(t, router, http.MethodGet, "/api/rows")
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
	assert.Equal(t, "no snapshot yet", body["error"])
}

func TestRowsSortedBySpreadByDefault(t *testing.T) {
	source := &fakeSource{snap: testSnapshot()}
	_, router := newTestServer(t, source)

	res, body := get(t, router, http.MethodGet, "/api/rows")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, symbolsOf(body))
	assert.Equal(t, 2.0, body["count"])

	_, body = get(t, router, http.MethodGet, "/api/rows?sort=symbol")
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbolsOf(body))

	assert.Equal(t, "BTCUSDT", source.snap.Rows[0].Symbol, "the snapshot itself is never reordered")
}

func TestRowsFilteredByExchanges(t *testing.T) {
	_, router := newTestServer(t, &fakeSource{snap: testSnapshot()})

	res, body := get(t, router, http.MethodGet, "/api/rows?exchanges=Binance,bp")
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, []string{"BTCUSDT"}, symbolsOf(body))

	row := body["rows"].([]any)[0].(map[string]any)
	assert.Equal(t, "BP", row["top_exchange"])
	assert.InDelta(t, 10.0, row["spread"], 1e-9)
	assert.Len(t, row["rates"], 2)
}

func TestRowsRejectsBadQuery(t *testing.T) {
	_, router := newTestServer(t, &fakeSource{snap: testSnapshot()})

	res, _ := get(t, router, http.MethodGet, "/api/rows?exchanges=ftx")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res, _ = get(t, router, http.MethodGet, "/api/rows?sort=volume")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestStatus(t *testing.T) {
	_, router := newTestServer(t, &fakeSource{})
	_, body := get(t, router, http.MethodGet, "/api/status")
	assert.Equal(t, false, body["ready"])

	_, router = newTestServer(t, &fakeSource{snap: testSnapshot()})
	_, body = get(t, router, http.MethodGet, "/api/status")
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, 6.0, body["skipped_count"])
	assert.Len(t, body["skipped_sample"], 5)
	assert.Len(t, body["statuses"], 2)
}

func TestRefreshTriggersCycle(t *testing.T) {
	source := &fakeSource{}
	_, router := newTestServer(t, source)

	res, body := get(t, router, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusAccepted, res.Code)
	assert.Equal(t, true, body["queued"])

	_, body = get(t, router, http.MethodPost, "/api/refresh")
	assert.Equal(t, false, body["queued"])
	assert.Equal(t, 2, source.triggers)
}

func TestMetricsEndpointEmitsStoredMetrics(t *testing.T) {
	srv, router := newTestServer(t, &fakeSource{})

	metrics.EmitMetric(logger.Logger(), "fetcher", "fetch_items", 5, metrics.Gauge, logger.Fields{"exchange": "Aster"})
	metrics.EmitMetric(logger.Logger(), "pipeline", "rows", 2, metrics.Gauge, nil)
	require.NotEmpty(t, srv.metricStore.snapshot())

	res, body := get(t, router, http.MethodGet, "/api/metrics?component=fetcher")
	require.Equal(t, http.StatusOK, res.Code)
	stored := body["metrics"].([]any)
	require.Len(t, stored, 1)
	assert.Equal(t, "fetch_items", stored[0].(map[string]any)["name"])
}

func TestLogsEndpoint(t *testing.T) {
	srv, router := newTestServer(t, &fakeSource{})
	srv.log.WithComponent("fetcher").Warn("exchange fetch failed")

	res, body := get(t, router, http.MethodGet, "/api/logs?level=warn&component=fetcher")
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotEmpty(t, body["logs"])

	res, _ = get(t, router, http.MethodGet, "/api/logs?level=loud")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHealthz(t *testing.T) {
	_, router := newTestServer(t, &fakeSource{})
	res, body := get(t, router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "ok", body["status"])
}
