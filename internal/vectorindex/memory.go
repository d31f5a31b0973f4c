package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory VectorIndex for tests and local development.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]Point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]Point)}
}

func (m *MemoryIndex) EnsureCollection(_ context.Context) error { return nil }

func (m *MemoryIndex) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		m.points[p.ID] = p
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, limit uint64, filter *SearchFilter) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]ScoredPoint, 0, len(m.points))
	for _, p := range m.points {
		if !matchesFilter(p, filter) {
			continue
		}
		results = append(results, ScoredPoint{
			RouteID:   p.RouteID,
			Utterance: p.Utterance,
			Negative:  p.Negative,
			Score:     cosineSimilarity(vector, p.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if uint64(len(results)) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

func (m *MemoryIndex) List(_ context.Context, cursor string, limit uint64) ([]Point, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if cursor != "" {
		idx := sort.SearchStrings(ids, cursor)
		if idx < len(ids) && ids[idx] == cursor {
			ids = ids[idx+1:]
		} else {
			ids = ids[idx:]
		}
	}

	var nextCursor string
	if limit > 0 && uint64(len(ids)) > limit {
		ids = ids[:limit]
		nextCursor = ids[len(ids)-1]
	}

	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		p := m.points[id]
		out = append(out, Point{ID: p.ID, RouteID: p.RouteID, Utterance: p.Utterance, Negative: p.Negative})
	}
	return out, nextCursor, nil
}

func (m *MemoryIndex) Stats(_ context.Context) (map[int64]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[int64]int64)
	for _, p := range m.points {
		counts[p.RouteID]++
	}
	return counts, nil
}

func (m *MemoryIndex) Close() error { return nil }

func matchesFilter(p Point, filter *SearchFilter) bool {
	if filter == nil {
		return true
	}
	if filter.RouteID != nil && p.RouteID != *filter.RouteID {
		return false
	}
	if filter.Negative != nil && p.Negative != *filter.Negative {
		return false
	}
	return true
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
