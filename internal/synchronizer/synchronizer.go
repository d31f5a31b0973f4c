// Package synchronizer reconciles the routes held by RouteStore into the
// vector index that the predictor queries. It is the only writer to the
// vector index: nothing else upserts or deletes a point.
package synchronizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ajitpratap0/intenthub/internal/apperr"
	"github.com/ajitpratap0/intenthub/internal/embedder"
	"github.com/ajitpratap0/intenthub/internal/metrics"
	"github.com/ajitpratap0/intenthub/internal/models"
	"github.com/ajitpratap0/intenthub/internal/routestore"
	"github.com/ajitpratap0/intenthub/internal/vectorindex"
)

const defaultBatchSize = 32

// Synchronizer mirrors RouteStore's authoritative route set into a
// VectorIndex, running either an incremental diff against its own
// in-memory snapshot of the last sync, or a forced full reconciliation
// against whatever the index actually holds.
type Synchronizer struct {
	store     *routestore.RouteStore
	index     vectorindex.VectorIndex
	embedder  embedder.Embedder
	batchSize int
	logger    *slog.Logger

	runMu sync.Mutex // held for the duration of a Run, rejects overlapping runs

	snapMu     sync.Mutex
	lastPoints map[string]vectorindex.Point // point id -> point, as of the last successful run
	lastSynced int64                        // RouteStore version as of the last successful run
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithBatchSize caps how many points are embedded and upserted per call,
// matching the configured embedding batch size.
func WithBatchSize(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func New(store *routestore.RouteStore, index vectorindex.VectorIndex, emb embedder.Embedder, logger *slog.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		store:      store,
		index:      index,
		embedder:   emb,
		batchSize:  defaultBatchSize,
		logger:     logger,
		lastPoints: make(map[string]vectorindex.Point),
		lastSynced: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reconciles the vector index to match RouteStore's current state.
// incremental mode only embeds and upserts utterances new since the last
// run and deletes points for utterances removed since; forced_full also
// lists the index's actual contents and repairs any drift found there.
func (s *Synchronizer) Run(ctx context.Context, mode string) (*models.SyncReport, error) {
	const op = "synchronizer.Run"

	if !s.runMu.TryLock() {
		return nil, apperr.ConflictStateMsg(op, "a synchronization run is already in progress")
	}
	defer s.runMu.Unlock()

	if mode != models.SyncModeIncremental && mode != models.SyncModeForcedFull {
		return nil, apperr.ValidationMsg(op, fmt.Sprintf("unknown sync mode %q", mode))
	}

	if err := s.index.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	routes := s.store.List()
	desired := desiredPoints(routes)

	baseline := s.snapshotBaseline()
	if mode == models.SyncModeForcedFull {
		indexed, err := s.listAllIndexed(ctx)
		if err != nil {
			return nil, err
		}
		baseline = indexed
	}

	toUpsert, toDelete := diff(baseline, desired)

	if err := s.embedAndUpsert(ctx, toUpsert); err != nil {
		return nil, err
	}
	if len(toDelete) > 0 {
		ids := make([]string, 0, len(toDelete))
		for id := range toDelete {
			ids = append(ids, id)
		}
		if err := s.index.Delete(ctx, ids); err != nil {
			return nil, err
		}
	}

	metrics.Inc(metrics.SyncRunsTotal)
	metrics.Add(metrics.SyncPointsUpserted, int64(len(toUpsert)))
	metrics.Add(metrics.SyncPointsDeleted, int64(len(toDelete)))

	s.snapMu.Lock()
	s.lastPoints = desired
	s.lastSynced = s.store.Version()
	s.snapMu.Unlock()

	var totalPoints int64
	for _, r := range routes {
		totalPoints += int64(len(r.Utterances))
	}

	return &models.SyncReport{
		RoutesCount: int64(len(routes)),
		TotalPoints: totalPoints,
		Mode:        mode,
	}, nil
}

func (s *Synchronizer) snapshotBaseline() map[string]vectorindex.Point {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	out := make(map[string]vectorindex.Point, len(s.lastPoints))
	for k, v := range s.lastPoints {
		out[k] = v
	}
	return out
}

func (s *Synchronizer) listAllIndexed(ctx context.Context) (map[string]vectorindex.Point, error) {
	out := make(map[string]vectorindex.Point)
	cursor := ""
	for {
		points, next, err := s.index.List(ctx, cursor, 1000)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			out[p.ID] = p
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// embedAndUpsert embeds and upserts toUpsert in chunks of s.batchSize, so a
// large reconciliation never sends one unbounded embedding request. Each
// chunk is atomic per the embedder's own contract; a failure partway
// through leaves earlier chunks already upserted, which is safe because
// upserting the same point id twice is a no-op.
func (s *Synchronizer) embedAndUpsert(ctx context.Context, toUpsert []vectorindex.Point) error {
	const op = "synchronizer.embedAndUpsert"
	for start := 0; start < len(toUpsert); start += s.batchSize {
		end := start + s.batchSize
		if end > len(toUpsert) {
			end = len(toUpsert)
		}
		chunk := toUpsert[start:end]

		texts := make([]string, len(chunk))
		for i, p := range chunk {
			texts[i] = p.Utterance
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return apperr.BackendUnavailable(op, err)
		}
		if len(vectors) != len(chunk) {
			return apperr.BackendUnavailable(op, fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(chunk)))
		}

		for i := range chunk {
			chunk[i].Vector = vectors[i]
		}

		if err := s.index.Upsert(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// desiredPoints computes the full set of points RouteStore's current
// routes imply, keyed by deterministic point id. Both positive utterances
// and negative samples are indexed: the predictor needs negative samples
// embedded too, to veto a route when the query's nearest negative sample
// of that route scores at or above the route's negative threshold.
func desiredPoints(routes []models.Route) map[string]vectorindex.Point {
	out := make(map[string]vectorindex.Point)
	for _, r := range routes {
		for _, u := range r.Utterances {
			id := vectorindex.PointID(r.ID, false, u)
			out[id] = vectorindex.Point{ID: id, RouteID: r.ID, Utterance: u, Negative: false}
		}
		for _, n := range r.NegativeSamples {
			id := vectorindex.PointID(r.ID, true, n)
			out[id] = vectorindex.Point{ID: id, RouteID: r.ID, Utterance: n, Negative: true}
		}
	}
	return out
}

// diff computes which points in desired are missing from baseline (or
// need to exist because baseline's view is stale) and which points in
// baseline no longer belong in desired.
func diff(baseline, desired map[string]vectorindex.Point) (toUpsert []vectorindex.Point, toDelete map[string]vectorindex.Point) {
	toDelete = make(map[string]vectorindex.Point)
	for id, p := range desired {
		if _, ok := baseline[id]; !ok {
			toUpsert = append(toUpsert, p)
		}
	}
	for id, p := range baseline {
		if _, ok := desired[id]; !ok {
			toDelete[id] = p
		}
	}
	return toUpsert, toDelete
}
