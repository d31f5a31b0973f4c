// Package vectorindex provides nearest-neighbor search over route
// utterance embeddings, backed by Qdrant in production and an in-memory
// fake for tests.
package vectorindex

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// pointNamespace anchors the deterministic point-id hash. Any fixed UUID
// works here; what matters is that it never changes, since changing it
// would orphan every previously-synced point.
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// PointID deterministically derives a vector-index point id from a
// (route id, negative, utterance) triple. Synchronizer relies on this
// being stable across runs: re-upserting the same triple is a no-op, not
// a duplicate. negative distinguishes a route's positive utterances from
// its negative samples, since the same text could in principle appear in
// both sets of one route.
func PointID(routeID int64, negative bool, utterance string) string {
	key := fmt.Sprintf("%d:%v:%s", routeID, negative, utterance)
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// Point is one utterance embedding tagged with its owning route. Negative
// marks a negative (counter-example) sample rather than a positive
// utterance; the predictor only admits a route on positive matches but
// uses negative matches to veto.
type Point struct {
	ID        string
	RouteID   int64
	Utterance string
	Negative  bool
	Vector    []float32
}

// ScoredPoint is a single nearest-neighbor search result.
type ScoredPoint struct {
	RouteID   int64
	Utterance string
	Negative  bool
	Score     float64
}

// SearchFilter narrows a Search to a subset of indexed points. A nil field
// means unconstrained on that dimension. RouteID scopes the search to one
// route's points; Negative scopes it to either that route's positive
// utterances or its negative samples.
type SearchFilter struct {
	RouteID  *int64
	Negative *bool
}

// VectorIndex is the nearest-neighbor search backend the predictor and
// synchronizer depend on.
type VectorIndex interface {
	// EnsureCollection creates the backing collection if it does not
	// already exist. Idempotent.
	EnsureCollection(ctx context.Context) error

	// Upsert writes points, overwriting any existing point with the same ID.
	Upsert(ctx context.Context, points []Point) error

	// Search returns the top-limit nearest points to vector, ordered by
	// descending score. filter, when non-nil, restricts the candidate set
	// before ranking; a nil filter searches across all routes.
	Search(ctx context.Context, vector []float32, limit uint64, filter *SearchFilter) ([]ScoredPoint, error)

	// Delete removes points by id. Deleting a nonexistent id is a no-op.
	Delete(ctx context.Context, ids []string) error

	// List scrolls all points in the index, paginated by opaque cursor.
	// An empty nextCursor means no more pages.
	List(ctx context.Context, cursor string, limit uint64) (points []Point, nextCursor string, err error)

	// Stats returns the number of points currently indexed per route.
	Stats(ctx context.Context) (map[int64]int64, error)

	Close() error
}
