// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/subrss/internal/config"
	"github.com/autobrr/subrss/internal/database"
	"github.com/autobrr/subrss/internal/domain"
	"github.com/autobrr/subrss/internal/models"
	"github.com/autobrr/subrss/internal/services/rss"
)

type routeKey struct {
	Method string
	Path   string
}

func TestAllEndpointsDocumented(t *testing.T) {
	server := NewServer(newTestDependencies(t))
	router, err := server.Handler()
	require.NoError(t, err)

	actualRoutes := collectRouterRoutes(t, router)
	documentedRoutes := loadDocumentedRoutes(t)

	undocumented := diffRoutes(actualRoutes, documentedRoutes)
	if len(undocumented) > 0 {
		t.Fatalf("found %d undocumented API endpoints:\n%s", len(undocumented), formatRoutes(undocumented))
	}

	missingHandlers := diffRoutes(documentedRoutes, actualRoutes)
	if len(missingHandlers) > 0 {
		t.Fatalf("found %d documented endpoints without handlers:\n%s", len(missingHandlers), formatRoutes(missingHandlers))
	}

	t.Logf("checked %d API routes registered in chi", len(actualRoutes))
	t.Logf("OpenAPI spec documents %d API routes", len(documentedRoutes))
}

type fakeRunner struct {
	running atomic.Bool
	calls   atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, triggeredBy string) (*rss.Result, error) {
	f.calls.Add(1)
	return &rss.Result{Run: &models.RSSRun{ID: 1, TriggeredBy: triggeredBy, Status: models.RSSRunStatusSuccess}}, nil
}

func (f *fakeRunner) Status() rss.Status {
	return rss.Status{Running: f.running.Load()}
}

func newTestDependencies(t *testing.T) *Dependencies {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	registry := prometheus.NewRegistry()
	rss.NewMetrics(registry)

	return &Dependencies{
		Config: &config.AppConfig{
			Config: &domain.Config{
				MetricsEnabled: true,
				Sites: []domain.SiteConfig{
					{Name: "alpha", RSSURL: "https://alpha.example/rss", Cookie: "uid=1; pass=secret", Priority: 1},
					{Name: "beta", RSSURL: "https://beta.example/rss"},
				},
			},
		},
		Version:           "test",
		RunContext:        context.Background(),
		RSSService:        &fakeRunner{},
		SubscriptionStore: models.NewSubscriptionStore(db),
		DownloadStore:     models.NewDownloadStore(db),
		LibraryStore:      models.NewLibraryStore(db),
		RunStore:          models.NewRSSRunStore(db),
		HistoryStore:      models.NewRSSHistoryStore(db),
		Metrics:           registry,
	}
}

func newTestServer(t *testing.T, deps *Dependencies) *httptest.Server {
	t.Helper()

	router, err := NewServer(deps).Handler()
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestSubscriptionLifecycle(t *testing.T) {
	srv := newTestServer(t, newTestDependencies(t))

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/subscriptions", `{"kind":"tv","name":"Example Show","season":"s01","sites":["alpha"]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created models.Subscription
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, "S01", created.Season)
	assert.Equal(t, models.SubscriptionStateRunning, created.State)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/subscriptions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []models.Subscription
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed, 1)

	stateURL := fmt.Sprintf("%s/api/subscriptions/%d/state", srv.URL, created.ID)
	resp, body = doJSON(t, http.MethodPut, stateURL, `{"state":"paused"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var paused models.Subscription
	require.NoError(t, json.Unmarshal(body, &paused))
	assert.Equal(t, models.SubscriptionStatePaused, paused.State)

	resp, _ = doJSON(t, http.MethodPut, stateURL, `{"state":"archived"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/subscriptions/%d/downloads", srv.URL, created.ID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	itemURL := fmt.Sprintf("%s/api/subscriptions/%d", srv.URL, created.ID)
	resp, _ = doJSON(t, http.MethodDelete, itemURL, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, itemURL, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, itemURL, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	srv := newTestServer(t, newTestDependencies(t))

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed_json", body: `{"kind":`, want: http.StatusBadRequest},
		{name: "unknown_kind", body: `{"kind":"music","name":"x"}`, want: http.StatusBadRequest},
		{name: "movie_with_season", body: `{"kind":"movie","name":"Heat","season":"S01"}`, want: http.StatusBadRequest},
		{name: "valid_movie", body: `{"kind":"movie","name":"Heat","year":1995}`, want: http.StatusCreated},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/subscriptions", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(body))
		})
	}
}

func TestLibraryAdd(t *testing.T) {
	deps := newTestDependencies(t)
	srv := newTestServer(t, deps)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/library", `{"items":[{"kind":"movie","tmdbId":"949","title":"Heat","year":1995}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"added":1}`, string(body))

	has, err := deps.LibraryStore.(*models.LibraryStore).HasMovie(context.Background(), "949")
	require.NoError(t, err)
	assert.True(t, has)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/library", `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/library", `{"items":[{"kind":"tv"}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSitesRedactCookies(t *testing.T) {
	srv := newTestServer(t, newTestDependencies(t))

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/sites", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sites []domain.SiteConfig
	require.NoError(t, json.Unmarshal(body, &sites))
	require.Len(t, sites, 2)
	assert.True(t, domain.IsRedactedString(sites[0].Cookie))
	assert.Empty(t, sites[1].Cookie)
	assert.NotContains(t, string(body), "secret")
}

func TestTriggerRun(t *testing.T) {
	deps := newTestDependencies(t)
	runner := deps.RSSService.(*fakeRunner)
	srv := newTestServer(t, deps)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/rss/run?wait=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var result rss.Result
	require.NoError(t, json.Unmarshal(body, &result))
	require.NotNil(t, result.Run)
	assert.Equal(t, "api", result.Run.TriggeredBy)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/rss/run", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"status":"queued"}`, string(body))
	require.Eventually(t, func() bool { return runner.calls.Load() == 2 }, time.Second, 10*time.Millisecond)

	runner.running.Store(true)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/rss/run", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, int32(2), runner.calls.Load())

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/rss/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"running":true}`, string(body))
}

func TestRunsAndHistoryListing(t *testing.T) {
	deps := newTestDependencies(t)
	ctx := context.Background()

	_, err := deps.RunStore.(*models.RSSRunStore).CreateRun(ctx, &models.RSSRun{TriggeredBy: "scheduler", Status: models.RSSRunStatusRunning})
	require.NoError(t, err)
	require.NoError(t, deps.HistoryStore.(*models.RSSHistoryStore).Record(ctx, &models.RSSHistoryEntry{
		Enclosure: "https://alpha.example/dl/1",
		Title:     "Example.Show.S01E01.1080p",
		Site:      "alpha",
	}))

	srv := newTestServer(t, deps)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/rss/runs?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []models.RSSRun
	require.NoError(t, json.Unmarshal(body, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "scheduler", runs[0].TriggeredBy)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/rss/history", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []models.RSSHistoryEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "alpha", entries[0].Site)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		srv := newTestServer(t, newTestDependencies(t))
		resp, body := doJSON(t, http.MethodGet, srv.URL+"/metrics", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "subrss_rss_run_active")
	})

	t.Run("disabled", func(t *testing.T) {
		deps := newTestDependencies(t)
		deps.Config.Config.MetricsEnabled = false
		srv := newTestServer(t, deps)
		resp, _ := doJSON(t, http.MethodGet, srv.URL+"/metrics", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func collectRouterRoutes(t *testing.T, r chi.Routes) map[routeKey]struct{} {
	t.Helper()

	routes := make(map[routeKey]struct{})
	err := chi.Walk(r, func(method string, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		method = strings.ToUpper(method)
		if !isComparableMethod(method) {
			return nil
		}

		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			return nil
		}

		routes[routeKey{Method: method, Path: normalizedPath}] = struct{}{}
		return nil
	})
	require.NoError(t, err)

	return routes
}

func loadDocumentedRoutes(t *testing.T) map[routeKey]struct{} {
	t.Helper()

	require.NotEmpty(t, openAPISpec, "OpenAPI spec should be embedded")

	var spec map[string]any
	require.NoError(t, yaml.Unmarshal(openAPISpec, &spec))

	pathsNode, ok := spec["paths"].(map[string]any)
	require.True(t, ok, "OpenAPI spec missing paths section")

	routes := make(map[routeKey]struct{})

	for path, pathItem := range pathsNode {
		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			continue
		}

		methods, ok := pathItem.(map[string]any)
		if !ok {
			continue
		}

		for method := range methods {
			upperMethod := strings.ToUpper(method)
			if !isComparableMethod(upperMethod) {
				continue
			}

			routes[routeKey{Method: upperMethod, Path: normalizedPath}] = struct{}{}
		}
	}

	return routes
}

func normalizeRoutePath(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	if strings.Contains(path, "/*") {
		return "", false
	}

	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	if path == "/api/openapi.yaml" {
		return "", false
	}

	if !strings.HasPrefix(path, "/api") && !strings.HasPrefix(path, "/health") {
		return "", false
	}

	return path, true
}

func isComparableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func diffRoutes(left, right map[routeKey]struct{}) []routeKey {
	diff := make([]routeKey, 0)
	for route := range left {
		if _, exists := right[route]; !exists {
			diff = append(diff, route)
		}
	}

	sort.Slice(diff, func(i, j int) bool {
		if diff[i].Path == diff[j].Path {
			return diff[i].Method < diff[j].Method
		}
		return diff[i].Path < diff[j].Path
	})

	return diff
}

func formatRoutes(routes []routeKey) string {
	lines := make([]string, len(routes))
	for i, route := range routes {
		lines[i] = fmt.Sprintf("%s %s", route.Method, route.Path)
	}
	return strings.Join(lines, "\n")
}
