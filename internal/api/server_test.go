package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/prefixsearch"
	"github.com/remiges-tech/prefixsearch/internal/catalog"
	"github.com/remiges-tech/prefixsearch/internal/config"
	"github.com/remiges-tech/prefixsearch/internal/health"
	"github.com/remiges-tech/prefixsearch/internal/metrics"
	"github.com/remiges-tech/prefixsearch/providers"
	"github.com/remiges-tech/prefixsearch/providers/memory"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// downProvider fails every read.
type downProvider struct {
	*memory.Provider
}

func (downProvider) Snapshot(context.Context, string) (providers.Snapshot, error) {
	return nil, errors.New("connection refused")
}

type fixture struct {
	handler http.Handler
	engine  prefixsearch.AutoComplete
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, provider providers.Provider, src catalog.Source) fixture {
	t.Helper()
	engine := prefixsearch.NewWithProvider(provider, prefixsearch.Options{Logger: quiet})
	t.Cleanup(func() { _ = engine.Close() })

	checker := health.NewChecker(0, quiet)
	checker.Register("index", health.PingCheck(engine, false))

	m := metrics.New()
	srv := NewServer(config.Default().Server, "/metrics", Deps{
		Engine:  engine,
		Catalog: src,
		Health:  checker,
		Metrics: m,
		Logger:  quiet,
	})
	return fixture{handler: srv.Handler(), engine: engine, metrics: m}
}

func (f fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeSearch(t *testing.T, rec *httptest.ResponseRecorder) SearchResponse {
	t.Helper()
	var resp SearchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func seed(t *testing.T, engine prefixsearch.AutoComplete, pairs ...string) {
	t.Helper()
	for i := 0; i < len(pairs); i += 2 {
		require.NoError(t, engine.IndexProduct(context.Background(), pairs[i], pairs[i+1]))
	}
}

func TestSearchGet(t *testing.T) {
	f := newFixture(t, memory.New(memory.Config{}), nil)
	seed(t, f.engine, "Apple", "p1", "Applesauce", "p2", "Banana", "p3")

	for _, target := range []string{
		"/api/v1/search?prefix=app",
		"/api/v1/search?q=app",
		"/api/autocomplete?q=app",
	} {
		t.Run(target, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, target, "")
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decodeSearch(t, rec)
			assert.Equal(t, []prefixsearch.Item{{ID: "p1", Name: "APPLE"}, {ID: "p2", Name: "APPLESAUCE"}}, resp.Items)
			assert.False(t, resp.HasMore)
			assert.Empty(t, resp.Error)
		})
	}
}

func TestSearchPagination(t *testing.T) {
	f := newFixture(t, memory.New(memory.Config{}), nil)
	seed(t, f.engine, "Apple", "p1", "Applesauce", "p2", "Apricot", "p3")

	rec := f.do(t, http.MethodPost, "/api/v1/search", `{"prefix":"ap","limit":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeSearch(t, rec)
	assert.True(t, first.HasMore)
	assert.Equal(t, 2, first.NextOffset)

	rec = f.do(t, http.MethodGet, "/api/v1/search?prefix=ap&limit=2&offset=2", "")
	second := decodeSearch(t, rec)
	assert.Equal(t, []prefixsearch.Item{{ID: "p3", Name: "APRICOT"}}, second.Items)
	assert.False(t, second.HasMore)
}

func TestSearchToleratesBadNumbers(t *testing.T) {
	f := newFixture(t, memory.New(memory.Config{}), nil)
	seed(t, f.engine, "Apple", "p1")

	rec := f.do(t, http.MethodGet, "/api/v1/search?prefix=a&limit=lots&offset=-4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeSearch(t, rec).Items, 1)
}

func TestSearchStoreUnavailable(t *testing.T) {
	f := newFixture(t, downProvider{memory.New(memory.Config{})}, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/search?prefix=app", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var raw map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&raw))
	assert.Equal(t, []any{}, raw["items"])
	assert.Equal(t, false, raw["hasMore"])
	assert.Equal(t, "search index unavailable", raw["error"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchesTotal.WithLabelValues(metrics.OutcomeError)))
}

func TestIndexAndRemove(t *testing.T) {
	f := newFixture(t, memory.New(memory.Config{}), nil)

	rec := f.do(t, http.MethodPut, "/api/v1/index", `{"name":"Desk Lamp","id":"p1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/products?name=desk%20lamp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var products ProductsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&products))
	assert.Equal(t, ProductsResponse{Name: "DESK LAMP", IDs: []string{"p1"}}, products)

	rec = f.do(t, http.MethodDelete, "/api/v1/index", `{"name":"desk lamp","id":"p1"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/search?prefix=desk", "")
	assert.Empty(t, decodeSearch(t, rec).Items)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IndexOpsTotal.WithLabelValues("remove", "ok")))
}

func TestIndexValidation(t *testing.T) {
	f := newFixture(t, memory.New(memory.Config{}), nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty body", "", http.StatusBadRequest},
		{"bad json", "{", http.StatusBadRequest},
		{"missing id", `{"name":"Lamp"}`, http.StatusBadRequest},
		{"blank name", `{"name":"  ","id":"p1"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, "/api/v1/index", tt.body)
			assert.Equal(t, tt.want, rec.Code)

			var body ErrorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.want, body.Error.Status)
			assert.NotEmpty(t, body.Error.RequestID)
		})
	}
}

func TestRebuildFromBody(t *testing.T) {
	f := newFixture(t, memory.New(memory.Config{}), nil)
	seed(t, f.engine, "Old Thing", "p0")

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(RebuildRequest{Products: []prefixsearch.Product{
		{ID: "p1", Name: "Apple"}, {ID: "p2", Name: "Apricot"},
	}}))

	rec := f.do(t, http.MethodPost, "/api/v1/rebuild", buf.String())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"products":2,"source":"body"}`, rec.Body.String())

	assert.Empty(t, decodeSearch(t, f.do(t, http.MethodGet, "/api/v1/search?prefix=old", "")).Items)
	assert.Len(t, decodeSearch(t, f.do(t, http.MethodGet, "/api/v1/search?prefix=ap", "")).Items, 2)
}

func TestRebuildFromCatalogAndDetail(t *testing.T) {
	src := catalog.NewStatic([]catalog.Detail{
		{ID: "p1", Name: "Desk", Price: "120.00"},
		{ID: "p2", Name: "Desk Lamp", Price: "19.99"},
	})
	f := newFixture(t, memory.New(memory.Config{}), src)

	rec := f.do(t, http.MethodPost, "/api/v1/rebuild?source=catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSearch(t, f.do(t, http.MethodGet, "/api/v1/search?prefix=desk", ""))
	assert.Equal(t, []prefixsearch.Item{{ID: "p2", Name: "DESK LAMP"}, {ID: "p1", Name: "DESK"}}, resp.Items)

	rec = f.do(t, http.MethodGet, "/api/v1/products/p2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d catalog.Detail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.Equal(t, "19.99", d.Price)

	rec = f.do(t, http.MethodGet, "/api/v1/products/p404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCatalogNotConfigured(t *testing.T) {
	f := newFixture(t, memory.New(memory.Config{}), nil)

	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/api/v1/products/p1", "").Code)
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodPost, "/api/v1/rebuild?source=catalog", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/v1/rebuild?source=ftp", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, memory.New(memory.Config{}), nil)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health/ready", "").Code)

	f.do(t, http.MethodGet, "/api/v1/products/p1", "")
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/v1/products/{id}"`)
}

func TestReadyReportsDownStore(t *testing.T) {
	closed := memory.New(memory.Config{})
	require.NoError(t, closed.Close())
	f := newFixture(t, closed, nil)

	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/health/ready", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, memory.New(memory.Config{}), nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/index", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIError(t *testing.T) {
	cause := errors.New("underlying")
	err := NewAPIError(http.StatusBadGateway, "upstream failed", cause)

	assert.Equal(t, "api error 502: upstream failed: underlying", err.Error())
	assert.ErrorIs(t, err, cause)

	status, message := statusOf(err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "upstream failed", message)
}
