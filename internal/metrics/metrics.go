// Package metrics provides application-level counters using stdlib expvar.
// Counters are exported on the GET /debug/vars endpoint that the API
// server mounts with expvar.Handler.
package metrics

import "expvar"

// Operation counters.
var (
	PredictTotal         = expvar.NewInt("intenthub_predict_total")
	PredictFallbackTotal = expvar.NewInt("intenthub_predict_fallback_total")
	PredictVetoedTotal   = expvar.NewInt("intenthub_predict_vetoed_total")
	RouteCreatedTotal    = expvar.NewInt("intenthub_route_created_total")
	RouteUpdatedTotal    = expvar.NewInt("intenthub_route_updated_total")
	RouteDeletedTotal    = expvar.NewInt("intenthub_route_deleted_total")
	SyncRunsTotal        = expvar.NewInt("intenthub_sync_runs_total")
	SyncPointsUpserted   = expvar.NewInt("intenthub_sync_points_upserted_total")
	SyncPointsDeleted    = expvar.NewInt("intenthub_sync_points_deleted_total")
	DiagnosticsRunsTotal = expvar.NewInt("intenthub_diagnostics_runs_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }

// Add adds delta to the given counter.
func Add(counter *expvar.Int, delta int64) { counter.Add(delta) }
