package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/intenthub/internal/diagnostics"
	"github.com/ajitpratap0/intenthub/internal/embedder"
	"github.com/ajitpratap0/intenthub/internal/models"
	"github.com/ajitpratap0/intenthub/internal/predictor"
	"github.com/ajitpratap0/intenthub/internal/routestore"
	"github.com/ajitpratap0/intenthub/internal/synchronizer"
	"github.com/ajitpratap0/intenthub/internal/vectorindex"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testHarness struct {
	server     *Server
	store      *routestore.RouteStore
	index      vectorindex.VectorIndex
	synchroniz *synchronizer.Synchronizer
}

func newTestHarness(t *testing.T, apiKey, predictKey string) *testHarness {
	t.Helper()
	logger := discardLogger()
	journal := filepath.Join(t.TempDir(), "routes.json")

	store, err := routestore.New(journal, logger)
	require.NoError(t, err)

	index := vectorindex.NewMemoryIndex()
	emb := embedder.NewHashEmbedder(32)

	pred := predictor.New(index, emb, store, logger)
	sync := synchronizer.New(store, index, emb, logger)
	diag := diagnostics.New(store, emb, logger)

	srv := NewServer(store, pred, sync, diag, nil, logger, apiKey, predictKey)
	return &testHarness{server: srv, store: store, index: index, synchroniz: sync}
}

func doRequest(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h := newTestHarness(t, "secret", "predict-secret")
	rec := doRequest(t, h.server.Handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string          `json:"status"`
		Components map[string]bool `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Components["route_store"])
	assert.False(t, body.Components["llm_advisor"], "no advisor was wired in this harness")
}

func TestLogin_ReturnsConfiguredAPIKey(t *testing.T) {
	h := newTestHarness(t, "secret", "")
	rec := doRequest(t, h.server.Handler(), http.MethodPost, "/auth/login", "", loginRequest{Username: "alice", Password: "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "secret", body["api_key"])
}

func TestLogin_RejectsEmptyCredentials(t *testing.T) {
	h := newTestHarness(t, "secret", "")
	rec := doRequest(t, h.server.Handler(), http.MethodPost, "/auth/login", "", loginRequest{Username: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRoute_RequiresAPIKey(t *testing.T) {
	h := newTestHarness(t, "secret", "")
	route := models.Route{Name: "billing", Utterances: []string{"how much do I owe"}, ScoreThreshold: 0.7}

	rec := doRequest(t, h.server.Handler(), http.MethodPost, "/routes", "", route)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h.server.Handler(), http.MethodPost, "/routes", "wrong-key", route)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h.server.Handler(), http.MethodPost, "/routes", "secret", route)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, "billing", created.Name)
}

func TestCreateRoute_RejectsInvalidBody(t *testing.T) {
	h := newTestHarness(t, "", "")
	rec := doRequest(t, h.server.Handler(), http.MethodPost, "/routes", "", models.Route{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouteCRUD_FullLifecycle(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	route := models.Route{Name: "billing", Utterances: []string{"how much do I owe"}, ScoreThreshold: 0.5}
	rec := doRequest(t, mux, http.MethodPost, "/routes", "", route)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	path := "/routes/" + itoa(created.ID)

	rec = doRequest(t, mux, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	updated := created
	updated.Description = "billing intents"
	rec = doRequest(t, mux, http.MethodPut, path, "", updated)
	require.Equal(t, http.StatusOK, rec.Code)
	var afterUpdate models.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &afterUpdate))
	assert.Equal(t, "billing intents", afterUpdate.Description)
	assert.Equal(t, created.CreatedAt, afterUpdate.CreatedAt)

	rec = doRequest(t, mux, http.MethodDelete, path, "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, mux, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchRoutes_MatchesSubstring(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	rec := doRequest(t, mux, http.MethodPost, "/routes", "", models.Route{Name: "billing", Utterances: []string{"how much do I owe"}, ScoreThreshold: 0.5})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(t, mux, http.MethodPost, "/routes", "", models.Route{Name: "weather", Utterances: []string{"what is the forecast"}, ScoreThreshold: 0.5})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, mux, http.MethodGet, "/routes/search?q=bill", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Routes []models.Route `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Routes, 1)
	assert.Equal(t, "billing", body.Routes[0].Name)
}

func TestNegativeSamples_ReplacesListAndThreshold(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	rec := doRequest(t, mux, http.MethodPost, "/routes", "", models.Route{Name: "billing", Utterances: []string{"how much do I owe"}, ScoreThreshold: 0.5})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	threshold := 0.9
	rec = doRequest(t, mux, http.MethodPost, "/routes/"+itoa(created.ID)+"/negative-samples", "", negativeSamplesRequest{
		NegativeSamples:   []string{"cancel my subscription"},
		NegativeThreshold: &threshold,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, []string{"cancel my subscription"}, updated.NegativeSamples)
	assert.Equal(t, 0.9, updated.NegativeThreshold)
}

func TestPredict_UsesSeparateKeyFromManagement(t *testing.T) {
	h := newTestHarness(t, "admin-secret", "predict-secret")
	mux := h.server.Handler()

	route := models.Route{Name: "billing", Utterances: []string{"how much do I owe on my account"}, ScoreThreshold: 0.1}
	rec := doRequest(t, mux, http.MethodPost, "/routes", "admin-secret", route)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/reindex", "admin-secret", reindexRequest{})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/predict", "admin-secret", predictRequest{Text: "how much do I owe"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "the management key must not unlock /predict")

	rec = doRequest(t, mux, http.MethodPost, "/predict", "predict-secret", predictRequest{Text: "how much do I owe"})
	require.Equal(t, http.StatusOK, rec.Code)

	var matches []models.RouteMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "billing", matches[0].Name)
}

func TestPredict_EmptyTextIsBadRequest(t *testing.T) {
	h := newTestHarness(t, "", "")
	rec := doRequest(t, h.server.Handler(), http.MethodPost, "/predict", "", predictRequest{Text: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredict_NoMatchReturnsFallbackList(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	route := models.Route{Name: "billing", Utterances: []string{"how much do I owe"}, ScoreThreshold: 0.999}
	rec := doRequest(t, mux, http.MethodPost, "/routes", "", route)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(t, mux, http.MethodPost, "/reindex", "", reindexRequest{})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/predict", "", predictRequest{Text: "completely unrelated text"})
	require.Equal(t, http.StatusOK, rec.Code)

	var matches []models.RouteMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, models.FallbackRouteID, matches[0].ID)
	assert.Nil(t, matches[0].Score)
}

func TestReindex_ForceFullSelectsMode(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	rec := doRequest(t, mux, http.MethodPost, "/reindex", "", reindexRequest{ForceFull: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.SyncReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, models.SyncModeForcedFull, report.Mode)
}

func TestDiagnosticsOverlap_ReachableAfterCreatingOverlappingRoutes(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	a := models.Route{Name: "billing", Utterances: []string{"how much do I owe", "what is my balance"}, ScoreThreshold: 0.1}
	b := models.Route{Name: "payments", Utterances: []string{"how much do I owe", "what is my balance"}, ScoreThreshold: 0.1}
	for _, r := range []models.Route{a, b} {
		rec := doRequest(t, mux, http.MethodPost, "/routes", "", r)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(t, mux, http.MethodGet, "/diagnostics/overlap", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.OverlapReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEmpty(t, report.Overlaps)
}

func TestDiagnosticsUMAP_ReturnsOnePointPerUtterance(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	route := models.Route{Name: "billing", Utterances: []string{"how much do I owe", "what is my balance"}, ScoreThreshold: 0.5}
	rec := doRequest(t, mux, http.MethodPost, "/routes", "", route)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, mux, http.MethodGet, "/diagnostics/umap?n_neighbors=5&min_dist=0.2&seed=7", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Points []models.ProjectionPoint `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Points, 2)
}

func TestDiagnosticsApplyRepair_ReplacesUtterancesOnly(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	rec := doRequest(t, mux, http.MethodPost, "/routes", "", models.Route{
		Name:            "billing",
		Utterances:      []string{"how much do I owe"},
		NegativeSamples: []string{"cancel please"},
		ScoreThreshold:  0.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(t, mux, http.MethodPost, "/diagnostics/apply-repair", "", applyRepairRequest{
		RouteID:    created.ID,
		Utterances: []string{"what do I owe this month"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, []string{"what do I owe this month"}, updated.Utterances)
	assert.Equal(t, []string{"cancel please"}, updated.NegativeSamples, "apply-repair must not touch negative_samples")
}

func TestErrorResponse_IncludesDetailField(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	rec := doRequest(t, mux, http.MethodGet, "/routes/999", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "error")
	assert.Contains(t, body, "detail")
	assert.NotEmpty(t, body["detail"])
}

func TestGenerateUtterances_NoAdvisorConfiguredReturnsInternalError(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	route := models.Route{Name: "billing", Utterances: []string{"how much do I owe"}, ScoreThreshold: 0.5}
	rec := doRequest(t, mux, http.MethodPost, "/routes", "", route)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Route
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(t, mux, http.MethodPost, "/routes/generate-utterances", "", generateUtterancesRequest{ID: created.ID, Count: 3})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSettings_GetReturnsThresholdsAndPostIsUnimplemented(t *testing.T) {
	h := newTestHarness(t, "", "")
	mux := h.server.Handler()

	rec := doRequest(t, mux, http.MethodGet, "/settings", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "region_threshold_significant")
	assert.Contains(t, body, "instance_threshold_ambiguous")

	rec = doRequest(t, mux, http.MethodPost, "/settings", "", map[string]any{"region_threshold_significant": 0.5})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
