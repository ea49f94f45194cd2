// Package vectorstore wraps Qdrant with lazy idempotent collection
// creation, a verified TTL cache of known collections, wait=false
// upserts, bounded concurrent multi-collection search, and payload-only
// updates for the metadata back-fill job.
package vectorstore

import "context"

// Point is what the store persists: a vector plus its chunk payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is one search result.
type ScoredPoint struct {
	ID         string
	Score      float32
	Payload    map[string]any
	Collection string
}

// Store is the capability the ingestion and retrieval engines depend on.
type Store interface {
	// EnsureCollection lazily creates a collection with the given vector
	// size and cosine distance if it does not already exist. Idempotent
	// against races: an "already exists" error from the backing store is
	// swallowed.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// Upsert writes points with wait=false.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search executes a nearest-neighbor query against each of the given
	// collections concurrently (bounded concurrency ≤ 8), merges results,
	// sorts by score descending, and trims to limit. A failed search
	// against one collection is logged and omitted; the call fails only if
	// every collection fails.
	Search(ctx context.Context, collections []string, queryVector []float32, limit int, filter map[string]string, minScore float32) ([]ScoredPoint, error)

	// SetPayload overwrites payload fields on an existing point without
	// touching its vector.
	SetPayload(ctx context.Context, collection, pointID string, fields map[string]any) error

	// ListCollections returns every collection name known to the store. If
	// suffix is non-empty, only names ending in it are returned. Used by
	// the retrieval engine's project="all" case and by the status
	// diagnostic's collection count.
	ListCollections(ctx context.Context, suffix string) ([]string, error)
}
