package diagnostics

import (
	"context"

	"github.com/ajitpratap0/intenthub/internal/models"
)

// RepairSuggestions finds overlapping route pairs and, when an Advisor is
// configured, asks it how to disentangle each pair. Pairs are considered
// once (A,B) not twice (A,B) and (B,A); the result is keyed by the lower
// of the two route ids for a stable, de-duplicated return shape.
func (e *Engine) RepairSuggestions(ctx context.Context) (map[int64]*models.RepairSuggestion, error) {
	report, err := e.DetectOverlaps(ctx, false)
	if err != nil {
		return nil, err
	}
	if e.advisor == nil {
		return nil, nil
	}

	routes := e.store.List()
	byID := make(map[int64]models.Route, len(routes))
	for _, r := range routes {
		byID[r.ID] = r
	}

	seen := make(map[[2]int64]bool)
	out := make(map[int64]*models.RepairSuggestion)

	for routeID, overlaps := range report.Overlaps {
		for _, ov := range overlaps {
			key := pairKey(routeID, ov.TargetRouteID)
			if seen[key] {
				continue
			}
			seen[key] = true

			routeA, okA := byID[routeID]
			routeB, okB := byID[ov.TargetRouteID]
			if !okA || !okB {
				continue
			}

			suggestion, err := e.advisor.SuggestRepair(ctx, routeA, routeB, ov.InstanceConflicts)
			if err != nil {
				return nil, err
			}
			if suggestion != nil {
				out[key[0]] = suggestion
			}
		}
	}

	return out, nil
}

// Repair asks the Advisor for a suggestion on one specific route pair,
// without recomputing or returning the rest of the overlap report. The
// pair need not currently clear the region threshold; sourceID's and
// targetID's own utterances are compared directly.
func (e *Engine) Repair(ctx context.Context, sourceID, targetID int64) (*models.RepairSuggestion, error) {
	if e.advisor == nil {
		return nil, nil
	}

	source, err := e.store.Get(sourceID)
	if err != nil {
		return nil, err
	}
	target, err := e.store.Get(targetID)
	if err != nil {
		return nil, err
	}

	withVecs, err := e.embedAllRoutes(ctx, []models.Route{*source, *target})
	if err != nil {
		return nil, err
	}

	conflicts := instanceConflicts(withVecs[0], withVecs[1], e.getInstanceThreshold())
	return e.advisor.SuggestRepair(ctx, *source, *target, conflicts)
}

func pairKey(a, b int64) [2]int64 {
	if a < b {
		return [2]int64{a, b}
	}
	return [2]int64{b, a}
}
