package diagnostics

import (
	"context"
	"math"
	"sort"

	"github.com/ajitpratap0/intenthub/internal/models"
)

const (
	projectionIterations   = 200
	projectionLearningRate = 0.05

	// DefaultNNeighbors and DefaultMinDist mirror the defaults UMAP itself
	// ships with, so a caller that omits both query parameters gets a
	// picture shaped the way the name promises.
	DefaultNNeighbors = 15
	DefaultMinDist    = 0.1
	DefaultSeed       = 0x9e3779b97f4a7c15
)

// splitMix64 is a minimal, fast, fully deterministic PRNG used only to
// pick starting coordinates for the projection below. Its output must
// never change between runs, since two runs over the same routes should
// produce the same picture.
type splitMix64 struct{ state uint64 }

func newSplitMix64(seed uint64) *splitMix64 { return &splitMix64{state: seed} }

func (s *splitMix64) next() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// nextFloat returns a value in [-1, 1).
func (s *splitMix64) nextFloat() float64 {
	return (float64(s.next()>>11)/float64(1<<53))*2 - 1
}

type point2D struct {
	x, y float64
}

// nearestNeighborSets returns, for each point, the set of its k most
// similar other points.
func nearestNeighborSets(similarity [][]float64, k int) []map[int]bool {
	n := len(similarity)
	if k > n-1 {
		k = n - 1
	}
	sets := make([]map[int]bool, n)
	for i := 0; i < n; i++ {
		type cand struct {
			idx int
			sim float64
		}
		cands := make([]cand, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i {
				cands = append(cands, cand{idx: j, sim: similarity[i][j]})
			}
		}
		sort.Slice(cands, func(a, b int) bool { return cands[a].sim > cands[b].sim })
		set := make(map[int]bool, k)
		for idx := 0; idx < k && idx < len(cands); idx++ {
			set[cands[idx].idx] = true
		}
		sets[i] = set
	}
	return sets
}

// Project2D lays out every route's utterances in 2 dimensions so the high
// similarity pairs DetectOverlaps finds can be looked at directly. It is a
// force-directed layout, not the real UMAP algorithm, but it borrows
// UMAP's two knobs: nNeighbors limits each point's attractive pull to its
// nNeighbors closest points (fewer neighbors makes tighter, more local
// clusters), and minDist floors how close two points are allowed to get,
// so near-duplicate utterances don't collapse onto a single pixel. seed
// drives the deterministic starting layout; the same route set and seed
// always produce the same picture.
func (e *Engine) Project2D(ctx context.Context, nNeighbors int, minDist float64, seed uint64) ([]models.ProjectionPoint, error) {
	if nNeighbors <= 0 {
		nNeighbors = DefaultNNeighbors
	}
	if minDist <= 0 {
		minDist = DefaultMinDist
	}

	routes := e.store.List()
	withVecs, err := e.embedAllRoutes(ctx, routes)
	if err != nil {
		return nil, err
	}

	type entry struct {
		routeID   int64
		routeName string
		utterance string
		vector    []float32
	}
	var entries []entry
	for _, rv := range withVecs {
		for i, u := range rv.utterances {
			entries = append(entries, entry{
				routeID:   rv.route.ID,
				routeName: rv.route.Name,
				utterance: u,
				vector:    rv.vectors[i],
			})
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}

	rng := newSplitMix64(seed)
	positions := make([]point2D, len(entries))
	for i := range positions {
		positions[i] = point2D{x: rng.nextFloat(), y: rng.nextFloat()}
	}

	n := len(entries)
	similarity := make([][]float64, n)
	for i := range similarity {
		similarity[i] = make([]float64, n)
		for j := range similarity[i] {
			if i == j {
				continue
			}
			similarity[i][j] = cosineSimilarity(entries[i].vector, entries[j].vector)
		}
	}

	neighbors := nearestNeighborSets(similarity, nNeighbors)

	for iter := 0; iter < projectionIterations; iter++ {
		forces := make([]point2D, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				dx := positions[j].x - positions[i].x
				dy := positions[j].y - positions[i].y
				dist := math.Hypot(dx, dy)
				if dist < 1e-9 {
					dist = 1e-9
				}
				if !neighbors[i][j] {
					// Not one of i's nearest neighbors: only push apart,
					// never pull together, so distant clusters stay distant.
					if dist < 1 {
						delta := dist - 1
						forces[i].x += (dx / dist) * delta
						forces[i].y += (dy / dist) * delta
					}
					continue
				}
				// Desired distance shrinks as similarity grows, floored at
				// minDist so near-duplicates don't collapse to one point.
				desired := math.Max(minDist, 1-similarity[i][j])
				delta := dist - desired
				forces[i].x += (dx / dist) * delta
				forces[i].y += (dy / dist) * delta
			}
		}
		for i := range positions {
			positions[i].x += forces[i].x * projectionLearningRate
			positions[i].y += forces[i].y * projectionLearningRate
		}
	}

	out := make([]models.ProjectionPoint, n)
	for i, e := range entries {
		out[i] = models.ProjectionPoint{
			X:         positions[i].x,
			Y:         positions[i].y,
			RouteID:   e.routeID,
			RouteName: e.routeName,
			Utterance: e.utterance,
		}
	}
	return out, nil
}
