package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramccor/recall/internal/chunk"
	"github.com/ramccor/recall/internal/config"
	"github.com/ramccor/recall/internal/project"
)

func TestBackfill_ReappliesMetadataWithoutReembedding(t *testing.T) {
	root := t.TempDir()
	body := `{"type":"user","id":"1","timestamp":"t","message":{"content":"please update the docker compose file"}}
{"type":"assistant","id":"2","timestamp":"t","message":{"content":[{"type":"text","text":"editing now"},{"type":"tool_use","name":"Edit","input":{"file_path":"docker-compose.yml"}}]}}
`
	path := writeConversation(t, filepath.Join(root, "-home-u-demo"), "bf1.jsonl", body)

	// Ingest normally first so the store holds a vectorized point.
	store := newMemStore()
	engine, err := New(testConfig(t, root), constEmbedder{}, store, nil, nil)
	require.NoError(t, err)
	defer engine.shutdown()
	require.NoError(t, engine.scanCycle())
	require.True(t, engine.processOne(context.Background()))

	collection := project.CollectionID("demo", "_local")
	require.Len(t, store.points[collection], 1)
	var pointID string
	var originalVector []float32
	for id, p := range store.points[collection] {
		pointID = id
		originalVector = p.Vector
	}

	cfg := config.Default()
	limits := chunk.Limits{
		TokenLimit:    cfg.Chunk.TokenLimit,
		CharLimit:     cfg.Chunk.CharLimit,
		OverlapTokens: cfg.Chunk.OverlapTokens,
		OverlapChars:  cfg.Chunk.OverlapChars,
		TokenRatio:    cfg.TokenCharRatio,
	}
	bf := NewBackfill(store, limits, nil)
	statePath := filepath.Join(t.TempDir(), "backfill.json")
	state, err := LoadBackfillState(statePath)
	require.NoError(t, err)

	require.NoError(t, bf.Run(context.Background(), path, collection, "bf1", "demo", state))

	p := store.points[collection][pointID]
	assert.Equal(t, originalVector, p.Vector)
	assert.Contains(t, p.Payload["files_edited"], "docker-compose.yml")
	assert.Contains(t, p.Payload["concepts"], "docker")

	// The job persisted its position and a re-run is an idempotent no-op.
	_, err = os.Stat(statePath)
	require.NoError(t, err)
	reloaded, err := LoadBackfillState(statePath)
	require.NoError(t, err)
	assert.Equal(t, path, reloaded.LastPath)
	require.NoError(t, bf.Run(context.Background(), path, collection, "bf1", "demo", reloaded))
}
