package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ramccor/recall/internal/obslog"
	"github.com/ramccor/recall/internal/recallerr"
)

// searchConcurrency bounds concurrent per-collection queries.
const searchConcurrency = 8

// collectionCacheTTL is the advisory cache lifetime before
// EnsureCollection re-verifies against the store.
const collectionCacheTTL = 5 * time.Minute

// payloadIDField preserves a caller-supplied id that isn't already a UUID
// in the payload, so it can be recovered from search results after the
// point is stored under a derived UUID.
const payloadIDField = "_original_id"

// Qdrant implements Store against a Qdrant vector database.
type Qdrant struct {
	client *qdrant.Client
	log    obslog.Logger

	mu    sync.Mutex
	known map[string]time.Time
}

// NewQdrant parses dsn ("host:port" or "https://host:port?api_key=...")
// and builds a client.
func NewQdrant(dsn string, log obslog.Logger) (*Qdrant, error) {
	if log == nil {
		log = obslog.NewZerologLogger("info")
	}
	host, port, apiKey, useTLS, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", recallerr.ErrStoreUnavailable, err)
	}
	return &Qdrant{client: client, log: log, known: make(map[string]time.Time)}, nil
}

func parseDSN(dsn string) (host string, port int, apiKey string, useTLS bool, err error) {
	if !strings.Contains(dsn, "://") {
		dsn = "http://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", 0, "", false, fmt.Errorf("vectorstore: parse dsn: %w", err)
	}
	host = u.Hostname()
	port = 6334
	if p := u.Port(); p != "" {
		if n, convErr := strconv.Atoi(p); convErr == nil {
			port = n
		}
	}
	apiKey = u.Query().Get("api_key")
	useTLS = u.Scheme == "https"
	return host, port, apiKey, useTLS, nil
}

func (q *Qdrant) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	if q.cacheFresh(collection) {
		return nil
	}
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("%w: %v", recallerr.ErrStoreUnavailable, err)
	}
	if exists {
		q.markKnown(collection)
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		if isAlreadyExists(err) {
			// Lost a create race with a concurrent writer; the collection
			// exists, which is all we need.
			q.markKnown(collection)
			return nil
		}
		return fmt.Errorf("%w: %v", recallerr.ErrStoreUnavailable, err)
	}
	q.markKnown(collection)
	return nil
}

func isAlreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

func (q *Qdrant) cacheFresh(collection string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.known[collection]
	return ok && time.Since(t) < collectionCacheTTL
}

func (q *Qdrant) markKnown(collection string) {
	q.mu.Lock()
	q.known[collection] = time.Now()
	q.mu.Unlock()
}

// invalidate drops a collection from the cache eagerly on any error
// suggesting the cached state is stale.
func (q *Qdrant) invalidate(collection string) {
	q.mu.Lock()
	delete(q.known, collection)
	q.mu.Unlock()
}

func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *Qdrant) Upsert(ctx context.Context, collection string, points []Point) error {
	qp := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		id := pointUUID(p.ID)
		payload := copyPayload(p.Payload)
		if id != p.ID {
			payload[payloadIDField] = p.ID
		}
		qp = append(qp, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectorsDense(p.Vector),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	wait := false
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qp,
		Wait:           &wait,
	})
	if err != nil {
		q.invalidate(collection)
		return fmt.Errorf("%w: %v", recallerr.ErrStoreUnavailable, err)
	}
	return nil
}

func copyPayload(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (q *Qdrant) SetPayload(ctx context.Context, collection, pointID string, fields map[string]any) error {
	id := pointUUID(pointID)
	_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: collection,
		Payload:        qdrant.NewValueMap(fields),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(id)),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", recallerr.ErrStoreUnavailable, err)
	}
	return nil
}

// Search executes per-collection queries concurrently under a bounded
// semaphore, merges the results, and trims to limit. A single failed
// collection is logged and omitted; the call fails only when every
// collection fails.
func (q *Qdrant) Search(ctx context.Context, collections []string, queryVector []float32, limit int, filter map[string]string, minScore float32) ([]ScoredPoint, error) {
	if len(collections) == 0 {
		return nil, recallerr.ErrNoCollections
	}

	sem := semaphore.NewWeighted(searchConcurrency)
	results := make([][]ScoredPoint, len(collections))
	failures := make([]error, len(collections))

	g, gctx := errgroup.WithContext(ctx)
	for i, coll := range collections {
		i, coll := i, coll
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			pts, err := q.searchOne(gctx, coll, queryVector, limit, filter, minScore)
			if err != nil {
				failures[i] = err
				q.log.Error("collection_search_failed", map[string]any{"collection": coll, "error": err.Error()})
				return nil
			}
			results[i] = pts
			return nil
		})
	}
	_ = g.Wait()

	allFailed := true
	var merged []ScoredPoint
	for i := range collections {
		if failures[i] == nil {
			allFailed = false
		}
		merged = append(merged, results[i]...)
	}
	if allFailed {
		return nil, fmt.Errorf("%w: all collections failed", recallerr.ErrStoreUnavailable)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (q *Qdrant) searchOne(ctx context.Context, collection string, vec []float32, limit int, filter map[string]string, minScore float32) ([]ScoredPoint, error) {
	qf := buildFilter(filter)
	lim := uint64(limit)
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &lim,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if minScore > 0 {
		req.ScoreThreshold = &minScore
	}
	resp, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredPoint, 0, len(resp))
	for _, p := range resp {
		payload := valueMapToAny(p.GetPayload())
		out = append(out, ScoredPoint{
			ID:         recoverID(payload, p.GetId()),
			Score:      p.GetScore(),
			Payload:    payload,
			Collection: collection,
		})
	}
	return out, nil
}

// valueMapToAny converts Qdrant's protobuf payload values back into plain Go
// values, the inverse of qdrant.NewValueMap.
func valueMapToAny(m map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		vals := kind.ListValue.GetValues()
		list := make([]any, 0, len(vals))
		for _, item := range vals {
			list = append(list, valueToAny(item))
		}
		return list
	case *qdrant.Value_StructValue:
		return valueMapToAny(kind.StructValue.GetFields())
	default:
		return nil
	}
}

func recoverID(payload map[string]any, id *qdrant.PointId) string {
	if v, ok := payload[payloadIDField]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return id.GetUuid()
}

// ListCollections enumerates collections from the store, optionally
// filtering to those ending in suffix (e.g. the active embedding provider's
// "_local"/"_remote").
func (q *Qdrant) ListCollections(ctx context.Context, suffix string) ([]string, error) {
	cols, err := q.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", recallerr.ErrStoreUnavailable, err)
	}
	if suffix == "" {
		return cols, nil
	}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if strings.HasSuffix(c, suffix) {
			out = append(out, c)
		}
	}
	return out, nil
}

func buildFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	var must []*qdrant.Condition
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}
