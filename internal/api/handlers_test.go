package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/taxinput/internal/api"
	"github.com/noah-isme/taxinput/internal/health"
	"github.com/noah-isme/taxinput/internal/obs"
	"github.com/noah-isme/taxinput/internal/ratelimit"
	"github.com/noah-isme/taxinput/internal/record"
)

type errorResponse struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type computeResponse struct {
	Data struct {
		Chargeable float64 `json:"chargeable_income"`
		TaxPayable float64 `json:"tax_payable"`
		Breakdown  []struct {
			Lower   float64 `json:"lower"`
			Rate    float64 `json:"rate"`
			Taxable float64 `json:"taxable"`
			Tax     float64 `json:"tax"`
		} `json:"breakdown"`
	} `json:"data"`
}

type recordsResponse struct {
	Data       []record.Record `json:"data"`
	Pagination struct {
		Page       int `json:"page"`
		PerPage    int `json:"per_page"`
		TotalItems int `json:"total_items"`
	} `json:"pagination"`
}

func newRouter(t *testing.T, store *record.CSVStore, limiter ratelimit.Allower) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	return api.NewRouter(api.RouterConfig{
		Handler:  api.NewHandler(api.HandlerConfig{Records: store, Logger: zerolog.Nop()}),
		Health:   health.Handler{Records: store, Users: store},
		Logger:   zerolog.Nop(),
		Metrics:  obs.NewHTTPMetrics("taxinput_test", nil, reg),
		Gatherer: reg,
		Limiter:  limiter,
	})
}

func newStore(t *testing.T) *record.CSVStore {
	t.Helper()
	store, err := record.NewCSVStore(filepath.Join(t.TempDir(), "tax_records.csv"))
	require.NoError(t, err)
	return store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestComputeAcceptsStringsAndNumbers(t *testing.T) {
	router := newRouter(t, newStore(t), nil)

	for _, body := range []string{
		`{"income": "60000", "relief": "9000"}`,
		`{"income": 60000, "relief": 9000}`,
		`{"income": " 60000 ", "relief": 9e3}`,
	} {
		rec := do(t, router, http.MethodPost, "/api/v1/tax/compute", body)
		require.Equal(t, http.StatusOK, rec.Code, body)
		var resp computeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, 51000.0, resp.Data.Chargeable)
		require.Equal(t, 1610.0, resp.Data.TaxPayable)
		require.Len(t, resp.Data.Breakdown, 5)
		require.Equal(t, 0.06, resp.Data.Breakdown[3].Rate)
		require.Equal(t, 900.0, resp.Data.Breakdown[3].Tax)
	}
}

func TestComputeRejectsInvalidInput(t *testing.T) {
	router := newRouter(t, newStore(t), nil)

	cases := map[string]string{
		`{"income": "abc", "relief": "0"}`:  "income",
		`{"income": "1000", "relief": "x"}`: "relief",
		`{"relief": "0"}`:                   "income",
		`{"income": "NaN", "relief": "0"}`:  "income",
		`{"income": -5, "relief": 0}`:       "income",
	}
	for body, field := range cases {
		rec := do(t, router, http.MethodPost, "/api/v1/tax/compute", body)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, body)
		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "INVALID_INPUT", resp.Error.Code)
		require.Equal(t, field, resp.Error.Details["field"], body)
	}

	rec := do(t, router, http.MethodPost, "/api/v1/tax/compute", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBrackets(t *testing.T) {
	router := newRouter(t, newStore(t), nil)
	rec := do(t, router, http.MethodGet, "/api/v1/tax/brackets", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []struct {
			Lower float64  `json:"lower"`
			Upper *float64 `json:"upper"`
			Rate  float64  `json:"rate"`
			Base  float64  `json:"base"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 10)
	require.NotNil(t, resp.Data[0].Upper)
	require.Equal(t, 5000.0, *resp.Data[0].Upper)
	last := resp.Data[len(resp.Data)-1]
	require.Nil(t, last.Upper)
	require.Equal(t, 2000000.0, last.Lower)
	require.Equal(t, 0.30, last.Rate)
	require.Equal(t, 528400.0, last.Base)
}

func TestRecords(t *testing.T) {
	store := newStore(t)
	router := newRouter(t, store, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/records", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.Equal(t, "NO_RECORDS", errResp.Error.Code)

	ctx := context.Background()
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, ic := range []string{"980101014321", "750505105555", "980101014321"} {
		_, err := store.Append(ctx, record.Record{ICNumber: ic, Income: float64(10000 * (i + 1)), ComputedAt: at})
		require.NoError(t, err)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/records?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp recordsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.Equal(t, 3, resp.Pagination.TotalItems)
	require.Equal(t, 2, resp.Pagination.PerPage)

	rec = do(t, router, http.MethodGet, "/api/v1/records?limit=2&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = recordsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.Equal(t, 30000.0, resp.Data[0].Income)

	rec = do(t, router, http.MethodGet, "/api/v1/records?ic=980101014321", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = recordsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.Equal(t, at, resp.Data[0].ComputedAt)

	rec = do(t, router, http.MethodGet, "/api/v1/records?ic=980101-01-4321", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = recordsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)

	rec = do(t, router, http.MethodGet, "/api/v1/records?ic=000000000000", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordsPaginationBounds(t *testing.T) {
	store := newStore(t)
	router := newRouter(t, store, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, record.Record{ICNumber: "980101014321", Income: float64(10000 * (i + 1))})
		require.NoError(t, err)
	}

	cases := []struct {
		name    string
		query   string
		perPage int
		items   int
	}{
		{name: "offset past int range", query: "page=2305843009213693953&limit=5", perPage: 5, items: 0},
		{name: "offset wrapping to zero", query: "page=4611686018427387905&limit=4", perPage: 4, items: 0},
		{name: "limit capped", query: "page=1&limit=9223372036854775807", perPage: 100, items: 3},
		{name: "huge page and limit", query: "page=9223372036854775807&limit=9223372036854775807", perPage: 100, items: 0},
		{name: "page just past end", query: "page=2&limit=3", perPage: 3, items: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/api/v1/records?"+tc.query, "")
			require.Equal(t, http.StatusOK, rec.Code)
			var resp recordsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Len(t, resp.Data, tc.items)
			require.Equal(t, tc.perPage, resp.Pagination.PerPage)
			require.Equal(t, 3, resp.Pagination.TotalItems)
		})
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	router := newRouter(t, newStore(t), nil)

	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health/live", "").Code)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health/ready", "").Code)

	do(t, router, http.MethodGet, "/api/v1/tax/brackets", "")
	rec := do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "taxinput_test_http_requests_total")
}

func TestRateLimitedAPI(t *testing.T) {
	limiter, err := ratelimit.NewMemoryLimiter("1-M")
	require.NoError(t, err)
	router := newRouter(t, newStore(t), limiter)

	first := do(t, router, http.MethodGet, "/api/v1/tax/brackets", "")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := do(t, router, http.MethodGet, "/api/v1/tax/brackets", "")
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health/live", "").Code)
}

func TestComputeRejectsOversizedBody(t *testing.T) {
	router := newRouter(t, newStore(t), nil)
	body := `{"income": "` + strings.Repeat("1", 8<<10) + `", "relief": "0"}`
	rec := do(t, router, http.MethodPost, "/api/v1/tax/compute", body)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
