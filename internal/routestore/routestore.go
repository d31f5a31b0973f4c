// Package routestore holds the authoritative set of routes in memory and
// journals every mutation to disk so the process can restart without
// losing route definitions.
package routestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/intenthub/internal/apperr"
	"github.com/ajitpratap0/intenthub/internal/metrics"
	"github.com/ajitpratap0/intenthub/internal/models"
)

// RouteStore is the single-writer, many-reader authority for routes.
// Writes go through mu so only one mutation happens at a time; reads go
// through the atomic.Pointer so a reader never blocks on a writer and
// never observes a half-built map.
type RouteStore struct {
	mu          sync.Mutex
	routes      atomic.Pointer[map[int64]*models.Route]
	nextID      atomic.Int64
	version     atomic.Int64
	journalPath string
	logger      *slog.Logger
}

// New loads journalPath if it exists and tolerates its absence, the same
// way config loading tolerates a missing config file: a fresh deployment
// has no journal yet, and that is not an error.
func New(journalPath string, logger *slog.Logger) (*RouteStore, error) {
	const op = "routestore.New"
	if logger == nil {
		logger = slog.Default()
	}
	s := &RouteStore{journalPath: journalPath, logger: logger}

	empty := make(map[int64]*models.Route)
	s.routes.Store(&empty)

	raw, err := os.ReadFile(journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("no route journal found, starting empty", "path", journalPath)
			return s, nil
		}
		return nil, apperr.BackendUnavailable(op, fmt.Errorf("reading journal %s: %w", journalPath, err))
	}

	var routes []models.Route
	if err := json.Unmarshal(raw, &routes); err != nil {
		return nil, apperr.BackendUnavailable(op, fmt.Errorf("parsing journal %s: %w", journalPath, err))
	}

	loaded := make(map[int64]*models.Route, len(routes))
	var maxID int64
	for i := range routes {
		r := routes[i]
		loaded[r.ID] = &r
		if r.ID > maxID {
			maxID = r.ID
		}
	}
	s.routes.Store(&loaded)
	s.nextID.Store(maxID)
	logger.Info("loaded route journal", "path", journalPath, "routes", len(loaded))
	return s, nil
}

// Version is a monotonic counter bumped on every successful mutation. The
// diagnostics engine compares it against the version its cached report
// was computed at to decide whether the cache is still current.
func (s *RouteStore) Version() int64 { return s.version.Load() }

func (s *RouteStore) Get(id int64) (*models.Route, error) {
	const op = "routestore.Get"
	m := *s.routes.Load()
	r, ok := m[id]
	if !ok {
		return nil, apperr.NotFoundMsg(op, fmt.Sprintf("route %d not found", id))
	}
	cp := *r
	return &cp, nil
}

func (s *RouteStore) List() []models.Route {
	m := *s.routes.Load()
	out := make([]models.Route, 0, len(m))
	for _, r := range m {
		out = append(out, *r)
	}
	return out
}

// Search returns every route whose name, description, or any utterance
// contains query as a literal, case-sensitive substring.
func (s *RouteStore) Search(query string) []models.Route {
	m := *s.routes.Load()
	out := make([]models.Route, 0)
	for _, r := range m {
		if routeMatches(r, query) {
			out = append(out, *r)
		}
	}
	return out
}

func routeMatches(r *models.Route, query string) bool {
	if strings.Contains(r.Name, query) || strings.Contains(r.Description, query) {
		return true
	}
	for _, u := range r.Utterances {
		if strings.Contains(u, query) {
			return true
		}
	}
	return false
}

// Create validates route, assigns it a fresh id, and persists the result
// before making it visible to readers.
func (s *RouteStore) Create(route models.Route) (*models.Route, error) {
	const op = "routestore.Create"
	if err := route.Validate(); err != nil {
		return nil, apperr.Validation(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	route.ID = s.nextID.Add(1)
	now := time.Now().UTC()
	route.CreatedAt = now
	route.UpdatedAt = now

	if err := s.mutate(func(m map[int64]*models.Route) {
		m[route.ID] = &route
	}); err != nil {
		return nil, err
	}
	metrics.Inc(metrics.RouteCreatedTotal)

	cp := route
	return &cp, nil
}

// Update replaces the route at id with updated's fields, keeping id and
// CreatedAt intact. The route must already exist.
func (s *RouteStore) Update(id int64, updated models.Route) (*models.Route, error) {
	const op = "routestore.Update"
	if err := updated.Validate(); err != nil {
		return nil, apperr.Validation(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := (*s.routes.Load())[id]
	if !ok {
		return nil, apperr.NotFoundMsg(op, fmt.Sprintf("route %d not found", id))
	}

	updated.ID = id
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	if err := s.mutate(func(m map[int64]*models.Route) {
		m[id] = &updated
	}); err != nil {
		return nil, err
	}
	metrics.Inc(metrics.RouteUpdatedTotal)

	cp := updated
	return &cp, nil
}

// ReplaceNegativeSamples swaps id's negative_samples list, and its
// negative_threshold when newThreshold is non-nil, leaving every other
// field untouched.
func (s *RouteStore) ReplaceNegativeSamples(id int64, negativeSamples []string, newThreshold *float64) (*models.Route, error) {
	const op = "routestore.ReplaceNegativeSamples"
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := (*s.routes.Load())[id]
	if !ok {
		return nil, apperr.NotFoundMsg(op, fmt.Sprintf("route %d not found", id))
	}

	updated := *existing
	updated.NegativeSamples = negativeSamples
	if newThreshold != nil {
		updated.NegativeThreshold = *newThreshold
	}
	if err := updated.Validate(); err != nil {
		return nil, apperr.Validation(op, err)
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := s.mutate(func(m map[int64]*models.Route) {
		m[id] = &updated
	}); err != nil {
		return nil, err
	}
	metrics.Inc(metrics.RouteUpdatedTotal)

	cp := updated
	return &cp, nil
}

// ReplaceUtterances swaps id's utterances list, leaving negative_samples
// and every other field untouched. Used by diagnostics repair application,
// which only ever proposes new positive examples.
func (s *RouteStore) ReplaceUtterances(id int64, utterances []string) (*models.Route, error) {
	const op = "routestore.ReplaceUtterances"
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := (*s.routes.Load())[id]
	if !ok {
		return nil, apperr.NotFoundMsg(op, fmt.Sprintf("route %d not found", id))
	}

	updated := *existing
	updated.Utterances = utterances
	if err := updated.Validate(); err != nil {
		return nil, apperr.Validation(op, err)
	}
	updated.UpdatedAt = time.Now().UTC()

	if err := s.mutate(func(m map[int64]*models.Route) {
		m[id] = &updated
	}); err != nil {
		return nil, err
	}
	metrics.Inc(metrics.RouteUpdatedTotal)

	cp := updated
	return &cp, nil
}

func (s *RouteStore) Delete(id int64) error {
	const op = "routestore.Delete"
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := (*s.routes.Load())[id]; !ok {
		return apperr.NotFoundMsg(op, fmt.Sprintf("route %d not found", id))
	}

	if err := s.mutate(func(m map[int64]*models.Route) {
		delete(m, id)
	}); err != nil {
		return err
	}
	metrics.Inc(metrics.RouteDeletedTotal)
	return nil
}

// mutate must be called with mu held. It copies the current map, applies
// fn, persists the new state to the journal, and only then swaps the
// atomic pointer so readers never see a state that failed to persist.
func (s *RouteStore) mutate(fn func(map[int64]*models.Route)) error {
	const op = "routestore.mutate"
	old := *s.routes.Load()
	next := make(map[int64]*models.Route, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	fn(next)

	if err := s.persist(next); err != nil {
		return apperr.BackendUnavailable(op, err)
	}

	s.routes.Store(&next)
	s.version.Add(1)
	return nil
}

// persist writes the journal atomically: write to a temp file in the same
// directory, fsync, then rename over the journal path. A crash mid-write
// leaves the old journal intact since rename is atomic on the same
// filesystem. The journal itself is a bare JSON array of routes; nextID is
// re-derived from the max route id on load, and version is process-local
// bookkeeping that resets with the process (the diagnostics cache it
// invalidates resets right along with it).
func (s *RouteStore) persist(m map[int64]*models.Route) error {
	if s.journalPath == "" {
		return nil
	}

	routes := make([]models.Route, 0, len(m))
	for _, r := range m {
		routes = append(routes, *r)
	}

	raw, err := json.MarshalIndent(routes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling journal: %w", err)
	}

	dir := filepath.Dir(s.journalPath)
	tmp, err := os.CreateTemp(dir, ".routestore-journal-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp journal: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp journal: %w", err)
	}

	if err := os.Rename(tmpPath, s.journalPath); err != nil {
		return fmt.Errorf("renaming journal into place: %w", err)
	}
	return nil
}
