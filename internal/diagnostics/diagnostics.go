// Package diagnostics finds routes that are hard for the predictor to
// tell apart: regions of embedding space where two routes' utterances sit
// close together, and the specific utterance pairs responsible.
package diagnostics

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/intenthub/internal/config"
	"github.com/ajitpratap0/intenthub/internal/embedder"
	"github.com/ajitpratap0/intenthub/internal/llmadvisor"
	"github.com/ajitpratap0/intenthub/internal/metrics"
	"github.com/ajitpratap0/intenthub/internal/models"
	"github.com/ajitpratap0/intenthub/internal/routestore"
)

// defaultRegionThreshold gates whether a route pair is reported at all.
// defaultInstanceThreshold gates which individual utterance pairs within
// a reported pair are listed as conflicts. They are deliberately two
// separate knobs: a pair can sit in a shared region of embedding space
// (worth reporting) without any single utterance pair being an outright
// duplicate, and vice versa.
const (
	defaultRegionThreshold   = 0.85
	defaultInstanceThreshold = 0.92

	// regionSampleSize caps how many of a route's utterances (the ones
	// closest to its own centroid) contribute to its region score
	// against another route, so one noisy outlier utterance can't drag
	// a whole route's score around.
	regionSampleSize = 8

	// maxInstanceConflictsPerPair caps how many utterance pairs are
	// surfaced for a single ordered route pair, ranked by similarity.
	maxInstanceConflictsPerPair = 10
)

// Engine computes overlap reports and 2-D projections over the current
// route set, and can optionally ask an Advisor for repair suggestions.
type Engine struct {
	store    *routestore.RouteStore
	embedder embedder.Embedder
	advisor  *llmadvisor.Advisor
	logger   *slog.Logger

	// regionThreshold and instanceThreshold store math.Float64bits so the
	// config watcher can hot-reload them lock-free.
	regionThreshold   atomic.Uint64
	instanceThreshold atomic.Uint64

	cacheMu       sync.Mutex
	cachedReport  *models.OverlapReport
	cachedVersion int64
	cacheValid    bool
}

type Option func(*Engine)

func WithRegionThreshold(t float64) Option {
	return func(e *Engine) { e.setRegionThreshold(t) }
}

func WithInstanceThreshold(t float64) Option {
	return func(e *Engine) { e.setInstanceThreshold(t) }
}

func (e *Engine) setRegionThreshold(t float64)   { e.regionThreshold.Store(math.Float64bits(t)) }
func (e *Engine) setInstanceThreshold(t float64) { e.instanceThreshold.Store(math.Float64bits(t)) }

func (e *Engine) getRegionThreshold() float64   { return math.Float64frombits(e.regionThreshold.Load()) }
func (e *Engine) getInstanceThreshold() float64 { return math.Float64frombits(e.instanceThreshold.Load()) }

// RegionThreshold and InstanceThreshold expose the engine's current
// thresholds for read-only surfaces like GET /settings.
func (e *Engine) RegionThreshold() float64   { return e.getRegionThreshold() }
func (e *Engine) InstanceThreshold() float64 { return e.getInstanceThreshold() }

// Rebind applies hot-reloaded thresholds without requiring a restart.
func (e *Engine) Rebind(cfg *config.Config) {
	e.setRegionThreshold(cfg.Diagnostics.RegionThreshold)
	e.setInstanceThreshold(cfg.Diagnostics.InstanceThreshold)
}

// WithAdvisor wires an LLMAdvisor for RepairSuggestions. Without it,
// RepairSuggestions returns nil and no error.
func WithAdvisor(a *llmadvisor.Advisor) Option {
	return func(e *Engine) { e.advisor = a }
}

func New(store *routestore.RouteStore, emb embedder.Embedder, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    store,
		embedder: emb,
		logger:   logger,
	}
	e.setRegionThreshold(defaultRegionThreshold)
	e.setInstanceThreshold(defaultInstanceThreshold)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type routeVectors struct {
	route      models.Route
	utterances []string
	vectors    [][]float32
}

func (e *Engine) embedAllRoutes(ctx context.Context, routes []models.Route) ([]routeVectors, error) {
	var allTexts []string
	bounds := make([]int, 0, len(routes)+1)
	bounds = append(bounds, 0)
	for _, r := range routes {
		allTexts = append(allTexts, r.Utterances...)
		bounds = append(bounds, len(allTexts))
	}

	vectors, err := e.embedder.EmbedBatch(ctx, allTexts)
	if err != nil {
		return nil, err
	}

	out := make([]routeVectors, len(routes))
	for i, r := range routes {
		out[i] = routeVectors{
			route:      r,
			utterances: r.Utterances,
			vectors:    vectors[bounds[i]:bounds[i+1]],
		}
	}
	return out, nil
}

// DetectOverlaps scans every pair of routes for regions of embedding space
// where their utterances sit close together. The result is symmetric: if
// route A overlaps route B, both A's and B's entries in the report list
// the other.
//
// When refresh is false, a cached report is returned as long as no route
// has been created, updated, or deleted since it was computed. refresh
// true always recomputes and replaces the cache.
func (e *Engine) DetectOverlaps(ctx context.Context, refresh bool) (*models.OverlapReport, error) {
	if !refresh {
		if cached, ok := e.cachedIfFresh(); ok {
			return cached, nil
		}
	}

	metrics.Inc(metrics.DiagnosticsRunsTotal)
	routes := e.store.List()
	withVecs, err := e.embedAllRoutes(ctx, routes)
	if err != nil {
		return nil, err
	}

	regionThreshold := e.getRegionThreshold()
	instanceThreshold := e.getInstanceThreshold()

	report := &models.OverlapReport{Overlaps: make(map[int64][]models.RouteOverlap)}

	for i := 0; i < len(withVecs); i++ {
		for j := i + 1; j < len(withVecs); j++ {
			a, b := withVecs[i], withVecs[j]

			regionAB := regionScore(a, b)
			regionBA := regionScore(b, a)
			pairScore := math.Max(regionAB, regionBA)
			if pairScore < regionThreshold {
				continue
			}

			conflictsAB := instanceConflicts(a, b, instanceThreshold)
			conflictsBA := instanceConflicts(b, a, instanceThreshold)

			report.Overlaps[a.route.ID] = append(report.Overlaps[a.route.ID], models.RouteOverlap{
				TargetRouteID:     b.route.ID,
				TargetRouteName:   b.route.Name,
				RegionSimilarity:  pairScore,
				InstanceConflicts: conflictsAB,
			})
			report.Overlaps[b.route.ID] = append(report.Overlaps[b.route.ID], models.RouteOverlap{
				TargetRouteID:     a.route.ID,
				TargetRouteName:   a.route.Name,
				RegionSimilarity:  pairScore,
				InstanceConflicts: conflictsBA,
			})
		}
	}

	e.cacheMu.Lock()
	e.cachedReport = report
	e.cachedVersion = e.store.Version()
	e.cacheValid = true
	e.cacheMu.Unlock()

	return report, nil
}

// cachedIfFresh returns the cached report if one exists and no RouteStore
// mutation has happened since it was computed.
func (e *Engine) cachedIfFresh() (*models.OverlapReport, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if !e.cacheValid || e.cachedVersion != e.store.Version() {
		return nil, false
	}
	return e.cachedReport, true
}

// regionScore measures how much of from's embedding mass sits inside to's
// region of the embedding space. It samples from's utterances closest to
// from's own centroid (capped at regionSampleSize, so one outlier phrase
// can't dominate), and for each sampled utterance takes the similarity to
// its nearest neighbor in to. The score is the mean of those per-sample
// maxima.
func regionScore(from, to routeVectors) float64 {
	if len(from.vectors) == 0 || len(to.vectors) == 0 {
		return 0
	}

	sample := topByCentroidProximity(from.vectors, regionSampleSize)

	var sum float64
	for _, idx := range sample {
		var best float64
		for _, tv := range to.vectors {
			if sim := cosineSimilarity(from.vectors[idx], tv); sim > best {
				best = sim
			}
		}
		sum += best
	}
	return sum / float64(len(sample))
}

// topByCentroidProximity returns the indices of up to n vectors, chosen by
// descending cosine similarity to the mean of all the vectors given.
func topByCentroidProximity(vectors [][]float32, n int) []int {
	if n > len(vectors) {
		n = len(vectors)
	}
	centroid := centroidOf(vectors)

	type scored struct {
		idx int
		sim float64
	}
	ranked := make([]scored, len(vectors))
	for i, v := range vectors {
		ranked[i] = scored{idx: i, sim: cosineSimilarity(v, centroid)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })

	indices := make([]int, n)
	for i := 0; i < n; i++ {
		indices[i] = ranked[i].idx
	}
	return indices
}

func centroidOf(vectors [][]float32) []float32 {
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	centroid := make([]float32, dim)
	for i, s := range sum {
		centroid[i] = float32(s / float64(len(vectors)))
	}
	return centroid
}

// instanceConflicts lists the utterance pairs responsible for a region
// overlap: for each utterance in a, its single nearest utterance in b, kept
// only if that similarity clears threshold. The result is sorted by
// similarity descending and capped at maxInstanceConflictsPerPair.
func instanceConflicts(a, b routeVectors, threshold float64) []models.InstanceConflict {
	var conflicts []models.InstanceConflict
	for i, av := range a.vectors {
		bestJ := -1
		var bestSim float64
		for j, bv := range b.vectors {
			sim := cosineSimilarity(av, bv)
			if sim > bestSim {
				bestSim = sim
				bestJ = j
			}
		}
		if bestJ == -1 || bestSim < threshold {
			continue
		}
		conflicts = append(conflicts, models.InstanceConflict{
			Source:     a.utterances[i],
			Target:     b.utterances[bestJ],
			Similarity: bestSim,
		})
	}

	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Similarity > conflicts[j].Similarity })
	if len(conflicts) > maxInstanceConflictsPerPair {
		conflicts = conflicts[:maxInstanceConflictsPerPair]
	}
	return conflicts
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
