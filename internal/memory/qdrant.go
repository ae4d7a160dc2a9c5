package memory

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the optional ANN tier (spec.md §4.9/EXPANSION):
// absent configuration means VERITAS runs entirely on the in-process
// flatIndex, never a hard dependency.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dims       uint64
}

// ANNIndex is an optional accelerated nearest-neighbor tier backed by
// Qdrant, used in front of (never instead of) the per-user flatIndex:
// memory.Store treats a configured ANNIndex as a cache of candidate IDs
// and always re-validates ownership and re-scores against its own
// records before returning results.
type ANNIndex struct {
	client     *qdrant.Client
	collection string
	dims       uint64
	logger     *slog.Logger

	healthMu  sync.Mutex
	lastCheck time.Time
	lastErr   error
}

// parseQdrantURL extracts host, port, and TLS flag. The REST port 6333 is
// mapped to the gRPC port 6334, since operators commonly paste the REST
// endpoint from the Qdrant console.
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("memory: invalid qdrant URL: %q", rawURL)
	}
	useTLS = u.Scheme == "https"
	host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("memory: invalid port in qdrant URL: %q", portStr)
		}
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}
	return host, port, useTLS, nil
}

// NewANNIndex connects to Qdrant over gRPC. A connection failure here
// should be treated by the caller as "capability unavailable", not
// fatal: VERITAS degrades to the flat index.
func NewANNIndex(cfg QdrantConfig, logger *slog.Logger) (*ANNIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port, APIKey: cfg.APIKey, UseTLS: useTLS})
	if err != nil {
		return nil, fmt.Errorf("memory: connect to qdrant at %s:%d: %w", host, port, err)
	}
	return &ANNIndex{client: client, collection: cfg.Collection, dims: cfg.Dims, logger: logger}, nil
}

// EnsureCollection creates the collection (cosine distance, HNSW) if it
// does not already exist.
func (q *ANNIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("memory: check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	m := uint64(16)
	efConstruct := uint64(128)
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("memory: create collection %q: %w", q.collection, err)
	}
	keywordType := qdrant.FieldType_FieldTypeKeyword
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "user_id",
		FieldType:      &keywordType,
	}); err != nil {
		return fmt.Errorf("memory: create index on user_id: %w", err)
	}
	q.logger.Info("memory: created qdrant collection", "collection", q.collection, "dims", q.dims)
	return nil
}

// Search returns candidate record IDs for userID's embedding, scoped by
// a user_id payload filter (tenant isolation mirrors the flat index's
// ownership check). limit is over-fetched x3 so the caller's re-scoring
// against live records still has enough candidates after any have been
// evicted since the point was upserted.
func (q *ANNIndex) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]uuid.UUID, error) {
	fetchLimit := uint64(limit) * 3
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)}},
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("memory: qdrant query: %w", err)
	}
	out := make([]uuid.UUID, 0, len(scored))
	for _, sp := range scored {
		idStr := sp.Id.GetUuid()
		if idStr == "" {
			continue
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			q.logger.Warn("memory: invalid UUID in qdrant point ID", "id", idStr)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Upsert indexes one record's embedding for ANN search.
func (q *ANNIndex) Upsert(ctx context.Context, r Record) error {
	payload := map[string]any{"user_id": r.UserID, "kind": string(r.Kind)}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(r.ID.String()),
			Vectors: qdrant.NewVectorsDense(r.Embedding),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("memory: qdrant upsert point %s: %w", r.ID, err)
	}
	return nil
}

// DeleteByIDs removes points, used during eviction so the ANN tier never
// outlives the record it indexes.
func (q *ANNIndex) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id.String())
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{Points: &qdrant.PointsIdsList{Ids: pointIDs}},
		},
	})
	if err != nil {
		return fmt.Errorf("memory: qdrant delete %d points: %w", len(ids), err)
	}
	return nil
}

// Healthy reports reachability, caching the result for 5s so a busy
// Search path doesn't hammer the health endpoint.
func (q *ANNIndex) Healthy(ctx context.Context) error {
	q.healthMu.Lock()
	defer q.healthMu.Unlock()
	if time.Since(q.lastCheck) < 5*time.Second {
		return q.lastErr
	}
	_, err := q.client.HealthCheck(ctx)
	q.lastCheck = time.Now()
	if err != nil {
		q.lastErr = fmt.Errorf("memory: qdrant unhealthy: %w", err)
	} else {
		q.lastErr = nil
	}
	return q.lastErr
}

// Close shuts down the gRPC connection.
func (q *ANNIndex) Close() error { return q.client.Close() }
