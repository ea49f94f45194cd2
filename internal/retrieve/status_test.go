package retrieve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngestStats struct {
	indexed, pending int
	age               time.Duration
	cpu, mem          float64
}

func (f fakeIngestStats) IndexedCount() int           { return f.indexed }
func (f fakeIngestStats) PendingCount() int           { return f.pending }
func (f fakeIngestStats) LastCycleAge() time.Duration { return f.age }
func (f fakeIngestStats) CPUPercent() float64         { return f.cpu }
func (f fakeIngestStats) MemoryMB() float64           { return f.mem }

func TestStatus_WithIngestStats(t *testing.T) {
	store := newFakeStore()
	store.collections = []string{"conv_aaaaaaaa_local", "reflections"}
	svc := New(store, &fakeEmbedder{dim: 4}, DecayParams{}, "")

	resp, err := svc.Status(context.Background(), fakeIngestStats{indexed: 8, pending: 2, age: 5 * time.Second, cpu: 12.5, mem: 256})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.CollectionCount)
	assert.Equal(t, 8, resp.IndexedFiles)
	assert.Equal(t, 2, resp.PendingFiles)
	assert.InDelta(t, 80.0, resp.IndexingPercentage, 0.01)
	assert.Equal(t, 5.0, resp.LastCycleAgeSeconds)
}

func TestStatus_NilIngestStats(t *testing.T) {
	svc := New(newFakeStore(), &fakeEmbedder{dim: 4}, DecayParams{}, "")
	resp, err := svc.Status(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.IndexedFiles)
}
