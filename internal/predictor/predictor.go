// Package predictor resolves a free-text utterance to a route by nearest-
// neighbor search in embedding space, admitting a route only if its
// positive score clears score_threshold and no negative sample vetoes it.
package predictor

import (
	"context"
	"log/slog"
	"sort"

	"github.com/ajitpratap0/intenthub/internal/apperr"
	"github.com/ajitpratap0/intenthub/internal/embedder"
	"github.com/ajitpratap0/intenthub/internal/metrics"
	"github.com/ajitpratap0/intenthub/internal/models"
	"github.com/ajitpratap0/intenthub/internal/routestore"
	"github.com/ajitpratap0/intenthub/internal/vectorindex"
)

const defaultSearchLimit = 50

// Predictor is the component behind the /predict endpoint.
type Predictor struct {
	index       vectorindex.VectorIndex
	embedder    embedder.Embedder
	store       *routestore.RouteStore
	searchLimit uint64
	fallback    models.RouteMatch
	logger      *slog.Logger
}

// Option configures a Predictor.
type Option func(*Predictor)

func WithSearchLimit(k uint64) Option {
	return func(p *Predictor) { p.searchLimit = k }
}

// WithFallback sets the route returned when no route is admitted. The
// default fallback carries models.FallbackRouteID and the name "none".
func WithFallback(id int64, name string) Option {
	return func(p *Predictor) { p.fallback = models.FallbackMatch(id, name) }
}

func New(index vectorindex.VectorIndex, emb embedder.Embedder, store *routestore.RouteStore, logger *slog.Logger, opts ...Option) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Predictor{
		index:       index,
		embedder:    emb,
		store:       store,
		searchLimit: defaultSearchLimit,
		fallback:    models.FallbackMatch(models.FallbackRouteID, "none"),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict embeds utterance, retrieves its nearest positive neighbors across
// all routes to find each route's max positive score, then for every route
// that clears score_threshold and carries a negative_threshold, looks up
// that route's own nearest negative sample directly to decide the veto.
// Admits every route whose thresholds are satisfied, sorted by descending
// score (ties broken by ascending route id). Returns a single fallback
// match if no route is admitted; the result is never empty.
func (p *Predictor) Predict(ctx context.Context, utterance string) ([]models.RouteMatch, error) {
	const op = "predictor.Predict"
	metrics.Inc(metrics.PredictTotal)
	if utterance == "" {
		return nil, apperr.ValidationMsg(op, "utterance must not be empty")
	}

	vector, err := p.embedder.Embed(ctx, utterance)
	if err != nil {
		return nil, err
	}

	positiveFilter := &vectorindex.SearchFilter{Negative: boolPtr(false)}
	scored, err := p.index.Search(ctx, vector, p.searchLimit, positiveFilter)
	if err != nil {
		return nil, err
	}

	positiveMax := make(map[int64]float64)
	for _, sp := range scored {
		if sp.Score > positiveMax[sp.RouteID] {
			positiveMax[sp.RouteID] = sp.Score
		}
	}

	routes := p.store.List()
	var admitted []models.RouteMatch
	vetoed := false
	for i := range routes {
		r := routes[i]
		score, ok := positiveMax[r.ID]
		if !ok || score < r.ScoreThreshold {
			continue
		}
		if r.NegativeThreshold > 0 {
			negScore, err := p.negativeMaxScore(ctx, vector, r.ID)
			if err != nil {
				return nil, err
			}
			if negScore >= r.NegativeThreshold {
				vetoed = true
				continue
			}
		}
		s := score
		admitted = append(admitted, models.RouteMatch{ID: r.ID, Name: r.Name, Score: &s})
	}

	if len(admitted) == 0 {
		if vetoed {
			metrics.Inc(metrics.PredictVetoedTotal)
		}
		metrics.Inc(metrics.PredictFallbackTotal)
		return []models.RouteMatch{p.fallback}, nil
	}

	sort.Slice(admitted, func(i, j int) bool {
		if *admitted[i].Score != *admitted[j].Score {
			return *admitted[i].Score > *admitted[j].Score
		}
		return admitted[i].ID < admitted[j].ID
	})
	return admitted, nil
}

// negativeMaxScore looks up routeID's closest negative sample directly,
// scoped to that one route, rather than relying on it surviving in the
// shared top-searchLimit pool shared across every route's positives.
func (p *Predictor) negativeMaxScore(ctx context.Context, vector []float32, routeID int64) (float64, error) {
	filter := &vectorindex.SearchFilter{RouteID: &routeID, Negative: boolPtr(true)}
	scored, err := p.index.Search(ctx, vector, 1, filter)
	if err != nil {
		return 0, err
	}
	if len(scored) == 0 {
		return 0, nil
	}
	return scored[0].Score, nil
}

func boolPtr(v bool) *bool { return &v }
