package retrieve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramccor/recall/internal/vectorstore"
)

type fakeStore struct {
	upserted    map[string][]vectorstore.Point
	searchReply []vectorstore.ScoredPoint
	searchErr   error
	collections []string
	setPayload  map[string]map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{upserted: map[string][]vectorstore.Point{}, setPayload: map[string]map[string]any{}}
}

func (f *fakeStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	return nil
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	f.upserted[collection] = append(f.upserted[collection], points...)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, collections []string, queryVector []float32, limit int, filter map[string]string, minScore float32) ([]vectorstore.ScoredPoint, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchReply, nil
}

func (f *fakeStore) SetPayload(ctx context.Context, collection, pointID string, fields map[string]any) error {
	f.setPayload[pointID] = fields
	return nil
}

func (f *fakeStore) ListCollections(ctx context.Context, suffix string) ([]string, error) {
	return f.collections, nil
}

type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int         { return f.dim }
func (f *fakeEmbedder) Name() string           { return "local" }
func (f *fakeEmbedder) Ping(ctx context.Context) error { return nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestReflectOnPast_RequiresQuery(t *testing.T) {
	svc := New(newFakeStore(), &fakeEmbedder{dim: 4}, DecayParams{}, "")
	_, err := svc.ReflectOnPast(context.Background(), ReflectRequest{WorkingDir: "/tmp/proj"})
	require.Error(t, err)
}

func TestReflectOnPast_MergesAndRanks(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	store.searchReply = []vectorstore.ScoredPoint{
		{Score: 0.5, Payload: map[string]any{"text": "old", "timestamp": now.Add(-200 * 24 * time.Hour).Format(time.RFC3339)}},
		{Score: 0.5, Payload: map[string]any{"text": "recent", "timestamp": now.Add(-1 * time.Hour).Format(time.RFC3339)}},
	}
	svc := New(store, &fakeEmbedder{dim: 4}, DecayParams{Enabled: true, Weight: 0.3, ScaleDays: 90}, "", WithClock(fixedClock{now}))

	resp, err := svc.ReflectOnPast(context.Background(), ReflectRequest{Query: "what did we do", WorkingDir: "/tmp/proj", Limit: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "recent", resp.Results[0].Excerpt)
	assert.True(t, resp.DecayUsed)
}

func TestReflectOnPast_MarkdownFormat(t *testing.T) {
	store := newFakeStore()
	store.searchReply = []vectorstore.ScoredPoint{
		{Score: 0.9, Payload: map[string]any{"text": "found it", "project": "demo", "timestamp": "2026-01-01T00:00:00Z"}},
	}
	svc := New(store, &fakeEmbedder{dim: 4}, DecayParams{}, "")
	resp, err := svc.ReflectOnPast(context.Background(), ReflectRequest{Query: "q", WorkingDir: "/tmp/proj", ResponseFormat: "markdown"})
	require.NoError(t, err)
	assert.Contains(t, resp.Formatted, "found it")
	assert.Contains(t, resp.Formatted, "## Past context for: q")
}

func TestReflectOnPast_StructuredFormat(t *testing.T) {
	store := newFakeStore()
	store.searchReply = []vectorstore.ScoredPoint{
		{Score: 0.9, Payload: map[string]any{"text": "found it", "project": "demo", "timestamp": "2026-01-01T00:00:00Z", "conversation_id": "abcd"}},
	}
	svc := New(store, &fakeEmbedder{dim: 4}, DecayParams{}, "")
	resp, err := svc.ReflectOnPast(context.Background(), ReflectRequest{Query: "q", WorkingDir: "/tmp/proj"})
	require.NoError(t, err)
	assert.Contains(t, resp.Formatted, `<recall q="q" n="1"`)
	assert.Contains(t, resp.Formatted, `c="abcd">found it</r>`)
}

func TestReflectOnPast_AllProjectsUsesListCollections(t *testing.T) {
	store := newFakeStore()
	store.collections = []string{"conv_aaaaaaaa_local", "conv_bbbbbbbb_local"}
	svc := New(store, &fakeEmbedder{dim: 4}, DecayParams{}, "")
	resp, err := svc.ReflectOnPast(context.Background(), ReflectRequest{Query: "q", Project: "all"})
	require.NoError(t, err)
	assert.Contains(t, resp.Collections, "conv_aaaaaaaa_local")
	assert.Contains(t, resp.Collections, "reflections")
}

func TestStoreReflection_UpsertsIntoReflectionsCollection(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakeEmbedder{dim: 4}, DecayParams{}, "")
	resp, err := svc.StoreReflection(context.Background(), StoreReflectionRequest{Content: "learned something", WorkingDir: "/tmp/proj"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.PointID)
	assert.Len(t, store.upserted["reflections"], 1)
}

func TestStoreReflection_RequiresContent(t *testing.T) {
	svc := New(newFakeStore(), &fakeEmbedder{dim: 4}, DecayParams{}, "")
	_, err := svc.StoreReflection(context.Background(), StoreReflectionRequest{})
	require.Error(t, err)
}
