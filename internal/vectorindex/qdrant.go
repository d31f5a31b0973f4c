package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ajitpratap0/intenthub/internal/apperr"
)

const (
	qdrantDialTimeout  = 10 * time.Second
	qdrantReadTimeout  = 10 * time.Second
	qdrantWriteTimeout = 30 * time.Second

	payloadFieldRouteID   = "route_id"
	payloadFieldUtterance = "utterance"
	payloadFieldNegative  = "negative"
)

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

// QdrantIndex implements VectorIndex using Qdrant's gRPC API.
type QdrantIndex struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection pb.CollectionsClient
	collName   string
	dimension  uint64
	logger     *slog.Logger
}

// NewQdrantIndex dials Qdrant and verifies connectivity with a lightweight
// RPC before returning.
func NewQdrantIndex(host string, port int, collection string, dimension uint64, useTLS bool, logger *slog.Logger) (*QdrantIndex, error) {
	const op = "vectorindex.NewQdrantIndex"
	addr := fmt.Sprintf("%s:%d", host, port)

	var opts []grpc.DialOption
	if !useTLS {
		logger.Warn("qdrant connection using insecure credentials (no TLS)")
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, apperr.BackendUnavailable(op, fmt.Errorf("connecting to qdrant at %s: %w", addr, err))
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), qdrantDialTimeout)
	defer dialCancel()
	if _, err := pb.NewCollectionsClient(conn).List(dialCtx, &pb.ListCollectionsRequest{}); err != nil {
		_ = conn.Close()
		return nil, apperr.BackendUnavailable(op, fmt.Errorf("verifying qdrant connection at %s: %w", addr, err))
	}

	logger.Info("connected to qdrant", "addr", addr, "collection", collection)

	return &QdrantIndex{
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: pb.NewCollectionsClient(conn),
		collName:   collection,
		dimension:  dimension,
		logger:     logger,
	}, nil
}

func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	const op = "vectorindex.EnsureCollection"
	rctx, rcancel := withTimeout(ctx, qdrantReadTimeout)
	defer rcancel()
	resp, err := q.collection.List(rctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return apperr.BackendUnavailable(op, fmt.Errorf("listing collections: %w", err))
	}

	for _, c := range resp.GetCollections() {
		if c.GetName() == q.collName {
			q.logger.Info("collection already exists", "name", q.collName)
			return nil
		}
	}

	wctx, wcancel := withTimeout(ctx, qdrantWriteTimeout)
	defer wcancel()
	_, err = q.collection.Create(wctx, &pb.CreateCollection{
		CollectionName: q.collName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     q.dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return apperr.BackendUnavailable(op, fmt.Errorf("creating collection %s: %w", q.collName, err))
	}

	q.logger.Info("created collection", "name", q.collName, "dimension", q.dimension)

	for _, field := range []string{payloadFieldRouteID} {
		ictx, icancel := withTimeout(ctx, qdrantWriteTimeout)
		_, err := q.points.CreateFieldIndex(ictx, &pb.CreateFieldIndexCollection{
			CollectionName: q.collName,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeInteger.Enum(),
		})
		icancel()
		if err != nil {
			q.logger.Warn("creating field index", "field", field, "error", err)
		}
	}

	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	const op = "vectorindex.Upsert"
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx, qdrantWriteTimeout)
	defer cancel()

	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		pbPoints[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}},
			},
			Payload: pointToPayload(p),
		}
	}

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collName,
		Points:         pbPoints,
	})
	if err != nil {
		return apperr.BackendUnavailable(op, fmt.Errorf("upserting %d points: %w", len(points), err))
	}
	q.logger.Debug("upserted points", "count", len(points))
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit uint64, filter *SearchFilter) ([]ScoredPoint, error) {
	const op = "vectorindex.Search"
	ctx, cancel := withTimeout(ctx, qdrantReadTimeout)
	defer cancel()

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collName,
		Vector:         vector,
		Limit:          limit,
		Filter:         searchFilterToQdrant(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, apperr.BackendUnavailable(op, fmt.Errorf("searching: %w", err))
	}

	results := make([]ScoredPoint, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		results = append(results, ScoredPoint{
			RouteID:   getIntValue(point.GetPayload(), payloadFieldRouteID),
			Utterance: getStringValue(point.GetPayload(), payloadFieldUtterance),
			Negative:  getBoolValue(point.GetPayload(), payloadFieldNegative),
			Score:     float64(point.GetScore()),
		})
	}
	return results, nil
}

func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	const op = "vectorindex.Delete"
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx, qdrantWriteTimeout)
	defer cancel()

	pbIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pbIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pbIDs},
			},
		},
	})
	if err != nil {
		return apperr.BackendUnavailable(op, fmt.Errorf("deleting %d points: %w", len(ids), err))
	}
	q.logger.Debug("deleted points", "count", len(ids))
	return nil
}

func (q *QdrantIndex) List(ctx context.Context, cursor string, limit uint64) ([]Point, string, error) {
	const op = "vectorindex.List"
	ctx, cancel := withTimeout(ctx, qdrantReadTimeout)
	defer cancel()

	limit32 := uint32(limit)
	req := &pb.ScrollPoints{
		CollectionName: q.collName,
		Limit:          &limit32,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: false}},
	}
	if cursor != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: cursor}}
	}

	resp, err := q.points.Scroll(ctx, req)
	if err != nil {
		return nil, "", apperr.BackendUnavailable(op, fmt.Errorf("scrolling points: %w", err))
	}

	points := make([]Point, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		points = append(points, Point{
			ID:        p.GetId().GetUuid(),
			RouteID:   getIntValue(p.GetPayload(), payloadFieldRouteID),
			Utterance: getStringValue(p.GetPayload(), payloadFieldUtterance),
			Negative:  getBoolValue(p.GetPayload(), payloadFieldNegative),
		})
	}

	var nextCursor string
	if npo := resp.GetNextPageOffset(); npo != nil {
		nextCursor = npo.GetUuid()
	}

	return points, nextCursor, nil
}

// Stats returns per-route point counts, fetched concurrently.
func (q *QdrantIndex) Stats(ctx context.Context) (map[int64]int64, error) {
	const op = "vectorindex.Stats"

	points, cursor, err := q.List(ctx, "", 1000)
	if err != nil {
		return nil, err
	}
	routeIDs := map[int64]struct{}{}
	for _, p := range points {
		routeIDs[p.RouteID] = struct{}{}
	}
	for cursor != "" {
		var more []Point
		more, cursor, err = q.List(ctx, cursor, 1000)
		if err != nil {
			return nil, err
		}
		for _, p := range more {
			routeIDs[p.RouteID] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(routeIDs))
	for id := range routeIDs {
		ids = append(ids, id)
	}

	counts := make([]int64, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			cctx, ccancel := withTimeout(gctx, qdrantReadTimeout)
			defer ccancel()
			resp, err := q.points.Count(cctx, &pb.CountPoints{
				CollectionName: q.collName,
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						{
							ConditionOneOf: &pb.Condition_Field{
								Field: &pb.FieldCondition{
									Key:   payloadFieldRouteID,
									Match: &pb.Match{MatchValue: &pb.Match_Integer{Integer: id}},
								},
							},
						},
					},
				},
				Exact: boolPtr(true),
			})
			if err != nil {
				q.logger.Warn("counting by route", "route_id", id, "error", err)
				return nil
			}
			counts[i] = int64(resp.GetResult().GetCount())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.BackendUnavailable(op, err)
	}

	out := make(map[int64]int64, len(ids))
	for i, id := range ids {
		out[id] = counts[i]
	}
	return out, nil
}

func (q *QdrantIndex) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func pointToPayload(p Point) map[string]*pb.Value {
	return map[string]*pb.Value{
		payloadFieldRouteID:   {Kind: &pb.Value_IntegerValue{IntegerValue: p.RouteID}},
		payloadFieldUtterance: {Kind: &pb.Value_StringValue{StringValue: p.Utterance}},
		payloadFieldNegative:  {Kind: &pb.Value_BoolValue{BoolValue: p.Negative}},
	}
}

func getStringValue(payload map[string]*pb.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func getIntValue(payload map[string]*pb.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		return v.GetIntegerValue()
	}
	return 0
}

func getBoolValue(payload map[string]*pb.Value, key string) bool {
	if v, ok := payload[key]; ok {
		return v.GetBoolValue()
	}
	return false
}

func boolPtr(v bool) *bool { return &v }

// searchFilterToQdrant translates a SearchFilter into a Qdrant filter. A nil
// filter, or one with both fields unset, returns nil so Search runs
// unconstrained across the whole collection.
func searchFilterToQdrant(filter *SearchFilter) *pb.Filter {
	if filter == nil {
		return nil
	}
	var must []*pb.Condition
	if filter.RouteID != nil {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   payloadFieldRouteID,
					Match: &pb.Match{MatchValue: &pb.Match_Integer{Integer: *filter.RouteID}},
				},
			},
		})
	}
	if filter.Negative != nil {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   payloadFieldNegative,
					Match: &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: *filter.Negative}},
				},
			},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}
