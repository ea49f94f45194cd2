package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEmbedServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var in embedReq
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		out := embedResp{}
		for range in.Input {
			out.Data = append(out.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{0.1, 0.2}})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}))
}

func TestRemote_EmbedBatch_Basic(t *testing.T) {
	srv := fakeEmbedServer(t)
	defer srv.Close()
	r := NewRemote(srv.URL, "", "test-model", 3, 100_000, 0, nil)
	vecs, err := r.EmbedBatch(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}

func TestRemote_SplitsOverBudgetBatch(t *testing.T) {
	srv := fakeEmbedServer(t)
	defer srv.Close()
	r := NewRemote(srv.URL, "", "test-model", 3, 10, 0, nil) // tiny budget forces splitting
	texts := []string{strings.Repeat("a", 100), strings.Repeat("b", 100), strings.Repeat("c", 100)}
	vecs, err := r.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
}

func TestRemote_SingleOversizedChunkTruncates(t *testing.T) {
	srv := fakeEmbedServer(t)
	defer srv.Close()
	r := NewRemote(srv.URL, "", "test-model", 3, 5, 0, nil)
	vecs, err := r.EmbedBatch(context.Background(), []string{strings.Repeat("x", 1000)})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
}

func TestTruncateToBudget(t *testing.T) {
	s := truncateToBudget(strings.Repeat("z", 100), 5, 3)
	assert.LessOrEqual(t, len(s), 15)
}
