// Package models defines the core data types shared across Intent Hub's
// components: routes, predictions, and diagnostics results.
package models

import "time"

// FallbackRouteID is reserved for the synthetic "no route matched" result.
// It is never assigned to a stored Route.
const FallbackRouteID int64 = 0

// Route is a named intent: a set of example utterances (and optional
// negative counter-examples) that the predictor matches free-text queries
// against.
type Route struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	Utterances        []string  `json:"utterances"`
	NegativeSamples   []string  `json:"negative_samples,omitempty"`
	ScoreThreshold    float64   `json:"score_threshold"`
	NegativeThreshold float64   `json:"negative_threshold,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate checks the invariants from the data model: no empty/duplicate
// utterances, no overlap between utterances and negative samples, and
// thresholds within their valid ranges. It does not check id uniqueness,
// which is RouteStore's responsibility.
func (r *Route) Validate() error {
	if r.Name == "" {
		return errValidation("name is required")
	}
	if len(r.Utterances) == 0 {
		return errValidation("at least one utterance is required")
	}
	if r.ScoreThreshold < 0 || r.ScoreThreshold > 1 {
		return errValidation("score_threshold must be in [0, 1]")
	}
	if r.NegativeThreshold != 0 && (r.NegativeThreshold < 0.8 || r.NegativeThreshold > 1) {
		return errValidation("negative_threshold must be in [0.8, 1]")
	}

	seen := make(map[string]struct{}, len(r.Utterances))
	for _, u := range r.Utterances {
		if u == "" {
			return errValidation("utterances must not be empty strings")
		}
		if _, dup := seen[u]; dup {
			return errValidation("duplicate utterance: " + u)
		}
		seen[u] = struct{}{}
	}

	negSeen := make(map[string]struct{}, len(r.NegativeSamples))
	for _, n := range r.NegativeSamples {
		if n == "" {
			return errValidation("negative_samples must not be empty strings")
		}
		if _, dup := negSeen[n]; dup {
			return errValidation("duplicate negative sample: " + n)
		}
		negSeen[n] = struct{}{}
		if _, clash := seen[n]; clash {
			return errValidation("negative sample overlaps an utterance: " + n)
		}
	}

	return nil
}

// errValidation is a tiny local helper so route.go doesn't need to import
// internal/apperr (which itself depends on nothing from models); the real
// ValidationError wrapping happens at the RouteStore/API boundary.
type validationMsg string

func (v validationMsg) Error() string { return string(v) }

func errValidation(msg string) error { return validationMsg(msg) }

// RouteMatch is one element of a prediction result.
type RouteMatch struct {
	ID    int64    `json:"id"`
	Name  string   `json:"name"`
	Score *float64 `json:"score"`
}

// FallbackMatch is returned by the predictor when no route is admitted.
func FallbackMatch(id int64, name string) RouteMatch {
	return RouteMatch{ID: id, Name: name, Score: nil}
}

// InstanceConflict is a single cross-route utterance pair whose similarity
// exceeds the instance threshold.
type InstanceConflict struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Similarity float64 `json:"similarity"`
}

// RouteOverlap describes how much a source route's region overlaps a target
// route's region, plus the specific conflicting utterance pairs.
type RouteOverlap struct {
	TargetRouteID     int64              `json:"target_route_id"`
	TargetRouteName   string             `json:"target_route_name"`
	RegionSimilarity  float64            `json:"region_similarity"`
	InstanceConflicts []InstanceConflict `json:"instance_conflicts"`
}

// OverlapReport maps a source route id to its list of overlaps.
type OverlapReport struct {
	Overlaps map[int64][]RouteOverlap `json:"overlaps"`
}

// ProjectionPoint is a single utterance placed in 2-D space for visualization.
type ProjectionPoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	RouteID   int64   `json:"route_id"`
	RouteName string  `json:"route_name"`
	Utterance string  `json:"utterance"`
}

// RepairSuggestion is LLMAdvisor's advisory output for disentangling two
// overlapping routes. The engine neither validates nor applies it.
type RepairSuggestion struct {
	Rationalization       string   `json:"rationalization"`
	NewUtterances         []string `json:"new_utterances"`
	ConflictingUtterances []string `json:"conflicting_utterances"`
}

// SyncReport is the observable outcome of a Synchronizer run.
type SyncReport struct {
	RoutesCount int64  `json:"routes_count"`
	TotalPoints int64  `json:"total_points"`
	Mode        string `json:"mode"`
}

const (
	SyncModeIncremental = "incremental"
	SyncModeForcedFull  = "forced_full"
)
