package vectorstore

import (
	"testing"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSN(t *testing.T) {
	host, port, key, tls, err := parseDSN("localhost:6334")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, 6334, port)
	assert.Empty(t, key)
	assert.False(t, tls)

	host, port, key, tls, err = parseDSN("https://qdrant.example.com:6333?api_key=secret")
	require.NoError(t, err)
	assert.Equal(t, "qdrant.example.com", host)
	assert.Equal(t, 6333, port)
	assert.Equal(t, "secret", key)
	assert.True(t, tls)

	_, port, _, _, err = parseDSN("http://justhost")
	require.NoError(t, err)
	assert.Equal(t, 6334, port)
}

func TestPointUUID_PassesThroughAndDerives(t *testing.T) {
	existing := uuid.NewString()
	assert.Equal(t, existing, pointUUID(existing))

	derived := pointUUID("reflection-12345")
	_, err := uuid.Parse(derived)
	require.NoError(t, err)
	assert.Equal(t, derived, pointUUID("reflection-12345"))
}

func TestValueMapRoundTrip(t *testing.T) {
	in := map[string]any{
		"text":        "hello",
		"chunk_index": int64(3),
		"score":       0.5,
		"truncated":   false,
		"tools_used":  []any{"read", "edit"},
	}
	back := valueMapToAny(qdrant.NewValueMap(in))
	assert.Equal(t, "hello", back["text"])
	assert.Equal(t, int64(3), back["chunk_index"])
	assert.Equal(t, 0.5, back["score"])
	assert.Equal(t, false, back["truncated"])
	assert.Equal(t, []any{"read", "edit"}, back["tools_used"])
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(nil))
	f := buildFilter(map[string]string{"project": "demo"})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 1)
}

func TestRecoverID(t *testing.T) {
	id := qdrant.NewIDUUID("8c5c9e52-0000-4000-8000-000000000000")
	assert.Equal(t, "orig", recoverID(map[string]any{payloadIDField: "orig"}, id))
	assert.Equal(t, "8c5c9e52-0000-4000-8000-000000000000", recoverID(map[string]any{}, id))
}
