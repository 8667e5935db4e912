package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variantlab/trafficsplit/internal/config"
	"github.com/variantlab/trafficsplit/internal/store"
	"github.com/variantlab/trafficsplit/internal/types"
)

const testExperiments = `{
	"experiments": [
		{
			"id": "signup-flow",
			"variants": [
				{"selector": "v=control", "name": "control", "weight": 50},
				{"selector": "v=compact", "name": "compact", "weight": 50}
			]
		},
		{
			"id": "banner",
			"variants": [
				{"selector": "banner=on", "name": "banner-on", "weight": 100}
			]
		}
	]
}`

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	experimentsPath := filepath.Join(dir, "experiments.json")
	require.NoError(t, os.WriteFile(experimentsPath, []byte(testExperiments), 0o644))

	cfg := &config.Config{
		Port:            "8080",
		GinMode:         gin.TestMode,
		DataDir:         dir,
		ExperimentsFile: experimentsPath,
		RetentionDays:   90,
		StatsCacheTTL:   time.Minute,
		CacheTTL:        time.Minute,
		CORSOrigins:     []string{"*"},
	}

	registry, err := config.LoadRegistry(experimentsPath)
	require.NoError(t, err)

	db, err := store.NewDB(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	server := newServer(cfg, registry, db)
	return server, server.setupRouter()
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func getJSON(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	_, router := newTestServer(t)

	w := getJSON(router, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 2, body["experiments"])
}

func TestEvaluateForcedSelector(t *testing.T) {
	server, router := newTestServer(t)

	w := postJSON(router, "/evaluate", types.EvaluateRequest{
		ExperimentID: "signup-flow",
		URL:          "https://example.com/signup?v=compact",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.EvaluateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Skipped)
	assert.Equal(t, "compact", resp.Variant)
	assert.Equal(t, "forced", resp.Source)

	total, err := server.repo.TotalEvents()
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestEvaluateAutomationSkipsWithoutStoring(t *testing.T) {
	server, router := newTestServer(t)

	w := postJSON(router, "/evaluate", types.EvaluateRequest{
		ExperimentID: "signup-flow",
		URL:          "https://example.com/signup?automation=true&v=compact",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.EvaluateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Skipped)
	assert.Empty(t, resp.Variant)

	total, err := server.repo.TotalEvents()
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestEvaluateAutomatedFlagSkips(t *testing.T) {
	_, router := newTestServer(t)

	w := postJSON(router, "/evaluate", types.EvaluateRequest{
		ExperimentID: "signup-flow",
		URL:          "https://example.com/signup",
		Automated:    true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.EvaluateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Skipped)
}

func TestEvaluateSingleVariantStoresEachView(t *testing.T) {
	server, router := newTestServer(t)

	for i := 0; i < 5; i++ {
		w := postJSON(router, "/evaluate", types.EvaluateRequest{
			ExperimentID: "banner",
			URL:          "https://example.com/home",
		})
		require.Equal(t, http.StatusOK, w.Code)

		var resp types.EvaluateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "banner-on", resp.Variant)
		assert.Equal(t, "random", resp.Source)
	}

	total, err := server.repo.TotalEvents()
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
}

func TestEvaluateUnknownExperiment(t *testing.T) {
	_, router := newTestServer(t)

	w := postJSON(router, "/evaluate", types.EvaluateRequest{
		ExperimentID: "missing",
		URL:          "https://example.com/",
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["category"])
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestEvaluateRejectsInvalidBody(t *testing.T) {
	_, router := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewReader([]byte(`{"experiment_id": "signup-flow"}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// The handler writes the error envelope itself, exactly once
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "validation", body["category"])
	assert.EqualValues(t, http.StatusBadRequest, body["http_status"])
}

func TestEvaluateRejectsNonJSONContentType(t *testing.T) {
	_, router := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewReader([]byte("experiment_id=signup-flow")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestEventIngestAndStats(t *testing.T) {
	_, router := newTestServer(t)

	for i := 0; i < 3; i++ {
		w := postJSON(router, "/events", types.EventRequest{
			ExperimentID: "signup-flow",
			Variant:      "control",
			Source:       "random",
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var resp types.EventResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.ID)
	}

	w := postJSON(router, "/events", types.EventRequest{
		ExperimentID: "signup-flow",
		Variant:      "compact",
		Source:       "forced",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = getJSON(router, "/experiments/signup-flow/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var dist struct {
		ExperimentID string `json:"experiment_id"`
		Total        int64  `json:"total"`
		Variants     []struct {
			Variant string `json:"variant"`
			Forced  int64  `json:"forced"`
			Random  int64  `json:"random"`
			Total   int64  `json:"total"`
		} `json:"variants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dist))
	assert.Equal(t, "signup-flow", dist.ExperimentID)
	assert.EqualValues(t, 4, dist.Total)
}

func TestEventIngestRejectsUnknownSource(t *testing.T) {
	_, router := newTestServer(t)

	w := postJSON(router, "/events", types.EventRequest{
		ExperimentID: "signup-flow",
		Variant:      "control",
		Source:       "guessed",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndGetExperiments(t *testing.T) {
	_, router := newTestServer(t)

	w := getJSON(router, "/experiments")
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Experiments []types.ExperimentResponse `json:"experiments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Experiments, 2)
	assert.Equal(t, "signup-flow", list.Experiments[0].ID)

	w = getJSON(router, "/experiments/banner")
	require.Equal(t, http.StatusOK, w.Code)

	var exp types.ExperimentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exp))
	assert.Equal(t, "banner", exp.ID)
	require.Len(t, exp.Variants, 1)
	assert.Equal(t, 100, exp.Variants[0].Weight)

	w = getJSON(router, "/experiments/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecentEventsEndpoint(t *testing.T) {
	_, router := newTestServer(t)

	for i := 0; i < 3; i++ {
		w := postJSON(router, "/evaluate", types.EvaluateRequest{
			ExperimentID: "banner",
			URL:          "https://example.com/home",
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := getJSON(router, "/experiments/banner/events?limit=2")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Events []store.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Events, 2)
}

func TestAdminReloadRequiresToken(t *testing.T) {
	dir := t.TempDir()
	experimentsPath := filepath.Join(dir, "experiments.json")
	require.NoError(t, os.WriteFile(experimentsPath, []byte(testExperiments), 0o644))

	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		GinMode:         gin.TestMode,
		DataDir:         dir,
		ExperimentsFile: experimentsPath,
		RetentionDays:   90,
		StatsCacheTTL:   time.Minute,
		CacheTTL:        time.Minute,
		CORSOrigins:     []string{"*"},
		AdminJWTSecret:  "test-admin-secret",
	}

	registry, err := config.LoadRegistry(experimentsPath)
	require.NoError(t, err)
	db, err := store.NewDB(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	server := newServer(cfg, registry, db)
	router := server.setupRouter()

	w := postJSON(router, "/admin/experiments/reload", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := server.tokens.GenerateToken("ops")
	require.NoError(t, err)

	body, _ := json.Marshal(gin.H{})
	req := httptest.NewRequest(http.MethodPost, "/admin/experiments/reload", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp["experiments"])
}

func TestMetricsEndpointCountsEvaluations(t *testing.T) {
	_, router := newTestServer(t)

	w := postJSON(router, "/evaluate", types.EvaluateRequest{
		ExperimentID: "banner",
		URL:          "https://example.com/home",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = getJSON(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	var metrics map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.EqualValues(t, 1, metrics["evaluations"])
	assert.EqualValues(t, 1, metrics["events_stored"])
}
