package retrieve

import (
	"context"
	"time"
)

// IngestStats is the subset of the ingestion engine's state the status
// diagnostic reports, kept as a small interface so this package never
// imports the ingest package.
type IngestStats interface {
	IndexedCount() int
	PendingCount() int
	LastCycleAge() time.Duration
	CPUPercent() float64
	MemoryMB() float64
}

// StatusResponse is the status operation's return value.
type StatusResponse struct {
	CollectionCount    int
	IndexedFiles       int
	PendingFiles       int
	IndexingPercentage float64
	CPUPercent         float64
	MemoryMB           float64
	EmbeddingProvider  string
	LastCycleAgeSeconds float64
}

// Status reports engine diagnostics. ingestStats is optional; a nil value
// (e.g. a retrieval-only deployment) yields zeros for the
// ingestion-sourced fields.
func (s *Service) Status(ctx context.Context, ingestStats IngestStats) (StatusResponse, error) {
	resp := StatusResponse{EmbeddingProvider: s.embedder.Name()}

	if cols, err := s.store.ListCollections(ctx, ""); err == nil {
		resp.CollectionCount = len(cols)
	}

	if ingestStats == nil {
		return resp, nil
	}
	indexed := ingestStats.IndexedCount()
	pending := ingestStats.PendingCount()
	resp.IndexedFiles = indexed
	resp.PendingFiles = pending
	if total := indexed + pending; total > 0 {
		resp.IndexingPercentage = 100 * float64(indexed) / float64(total)
	} else {
		resp.IndexingPercentage = 100
	}
	resp.CPUPercent = ingestStats.CPUPercent()
	resp.MemoryMB = ingestStats.MemoryMB()
	resp.LastCycleAgeSeconds = ingestStats.LastCycleAge().Seconds()
	return resp, nil
}
