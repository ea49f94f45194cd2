package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramccor/recall/internal/config"
	"github.com/ramccor/recall/internal/project"
	"github.com/ramccor/recall/internal/vectorstore"
)

type memStore struct {
	collections map[string]int
	points      map[string]map[string]vectorstore.Point
}

func newMemStore() *memStore {
	return &memStore{collections: map[string]int{}, points: map[string]map[string]vectorstore.Point{}}
}

func (m *memStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	m.collections[collection] = dimension
	if m.points[collection] == nil {
		m.points[collection] = map[string]vectorstore.Point{}
	}
	return nil
}

func (m *memStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	for _, p := range points {
		m.points[collection][p.ID] = p
	}
	return nil
}

func (m *memStore) Search(ctx context.Context, collections []string, queryVector []float32, limit int, filter map[string]string, minScore float32) ([]vectorstore.ScoredPoint, error) {
	return nil, nil
}

func (m *memStore) SetPayload(ctx context.Context, collection, pointID string, fields map[string]any) error {
	p, ok := m.points[collection][pointID]
	if !ok {
		return nil
	}
	for k, v := range fields {
		p.Payload[k] = v
	}
	m.points[collection][pointID] = p
	return nil
}

func (m *memStore) ListCollections(ctx context.Context, suffix string) ([]string, error) {
	var out []string
	for c := range m.collections {
		out = append(out, c)
	}
	return out, nil
}

type constEmbedder struct{}

func (constEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}
func (constEmbedder) Dimension() int               { return 4 }
func (constEmbedder) Name() string                 { return "local" }
func (constEmbedder) Ping(ctx context.Context) error { return nil }

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LogRoots = []string{root}
	cfg.StateFile = filepath.Join(t.TempDir(), "state.json")
	return cfg
}

func writeConversation(t *testing.T, dir, name, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// Cold start, one small file: after one scan+process cycle the store holds
// exactly one point under the project's collection, and the persisted byte
// offset equals the file size.
func TestEngine_ColdStartOneSmallFile(t *testing.T) {
	root := t.TempDir()
	body := `{"type":"user","id":"1","timestamp":"2026-01-01T00:00:00Z","message":{"content":"how do I configure the importer"}}
{"type":"assistant","id":"2","timestamp":"2026-01-01T00:00:05Z","message":{"content":"set the log roots in the config file"}}
`
	path := writeConversation(t, filepath.Join(root, "-home-u-demo"), "abcd.jsonl", body)

	store := newMemStore()
	engine, err := New(testConfig(t, root), constEmbedder{}, store, nil, nil)
	require.NoError(t, err)
	defer engine.shutdown()

	require.NoError(t, engine.scanCycle())
	require.True(t, engine.processOne(context.Background()))

	collection := project.CollectionID("demo", "_local")
	require.Len(t, store.points[collection], 1)
	for _, p := range store.points[collection] {
		assert.Equal(t, "demo", p.Payload["project"])
		assert.Equal(t, 0, p.Payload["chunk_index"])
		assert.Equal(t, "abcd", p.Payload["conversation_id"])
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	sp, ok := engine.state.Get(path)
	require.True(t, ok)
	assert.Equal(t, info.Size(), sp.ByteOffset)
	assert.False(t, sp.Skip)
}

// Resume: processing a file, appending to it, and processing again yields
// no duplicate chunk ids and a monotonically advancing committed offset.
func TestEngine_ResumeAfterAppend(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "-home-u-demo")
	line := `{"type":"user","id":"1","timestamp":"t","message":{"content":"alpha beta gamma delta epsilon zeta eta theta"}}` + "\n"
	body := ""
	for i := 0; i < 40; i++ {
		body += line
	}
	path := writeConversation(t, dir, "conv9.jsonl", body)

	store := newMemStore()
	engine, err := New(testConfig(t, root), constEmbedder{}, store, nil, nil)
	require.NoError(t, err)
	defer engine.shutdown()

	require.NoError(t, engine.scanCycle())
	require.True(t, engine.processOne(context.Background()))
	firstOffset := mustOffset(t, engine, path)

	// Append and process again from the committed offset.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		_, err = f.WriteString(line)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	require.NoError(t, engine.scanCycle())
	require.True(t, engine.processOne(context.Background()))
	secondOffset := mustOffset(t, engine, path)

	assert.Greater(t, secondOffset, firstOffset)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), secondOffset)

	collection := project.CollectionID("demo", "_local")
	indices := map[int]bool{}
	for _, p := range store.points[collection] {
		idx := p.Payload["chunk_index"].(int)
		assert.False(t, indices[idx], "duplicate chunk_index %d", idx)
		indices[idx] = true
	}
	// chunk_index stays dense from 0 across the two scans.
	for i := 0; i < len(indices); i++ {
		assert.True(t, indices[i], "missing chunk_index %d", i)
	}
}

// Empty file: parser yields nothing and state records a skip marker.
func TestEngine_EmptyFileSkipped(t *testing.T) {
	root := t.TempDir()
	path := writeConversation(t, filepath.Join(root, "-home-u-demo"), "empty.jsonl", "")

	store := newMemStore()
	engine, err := New(testConfig(t, root), constEmbedder{}, store, nil, nil)
	require.NoError(t, err)
	defer engine.shutdown()

	require.NoError(t, engine.scanCycle())
	require.True(t, engine.processOne(context.Background()))

	sp, ok := engine.state.Get(path)
	require.True(t, ok)
	assert.True(t, sp.Skip)
	assert.Equal(t, "empty", sp.SkipReason)
	assert.Equal(t, int64(0), sp.ByteOffset)
}

// Summary-only file: advances the offset but records summary_only.
func TestEngine_SummaryOnlyFileSkipped(t *testing.T) {
	root := t.TempDir()
	body := `{"type":"summary","timestamp":"t","message":{"content":"wrap-up"}}
`
	path := writeConversation(t, filepath.Join(root, "-home-u-demo"), "sum.jsonl", body)

	store := newMemStore()
	engine, err := New(testConfig(t, root), constEmbedder{}, store, nil, nil)
	require.NoError(t, err)
	defer engine.shutdown()

	require.NoError(t, engine.scanCycle())
	require.True(t, engine.processOne(context.Background()))

	sp, ok := engine.state.Get(path)
	require.True(t, ok)
	assert.True(t, sp.Skip)
	assert.Equal(t, "summary_only", sp.SkipReason)
	assert.Equal(t, int64(len(body)), sp.ByteOffset)
}

// Truncation detected during scan resets the committed offset to zero.
func TestEngine_TruncationResetsOffset(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "-home-u-demo")
	body := `{"type":"user","id":"1","timestamp":"t","message":{"content":"hello there friend"}}
`
	path := writeConversation(t, dir, "trunc.jsonl", body)

	store := newMemStore()
	engine, err := New(testConfig(t, root), constEmbedder{}, store, nil, nil)
	require.NoError(t, err)
	defer engine.shutdown()

	require.NoError(t, engine.scanCycle())
	require.True(t, engine.processOne(context.Background()))
	require.Greater(t, mustOffset(t, engine, path), int64(0))

	// Shrink the file below the committed offset.
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	// Force mtime change so the scan does not treat the file as unchanged.
	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, past, past))

	require.NoError(t, engine.scanCycle())
	sp, ok := engine.state.Get(path)
	require.True(t, ok)
	assert.Equal(t, int64(0), sp.ByteOffset)
}

func mustOffset(t *testing.T, e *Engine, path string) int64 {
	t.Helper()
	sp, ok := e.state.Get(path)
	require.True(t, ok)
	return sp.ByteOffset
}
