package chunk

import (
	"strings"
	"testing"

	"github.com/ramccor/recall/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limits() Limits {
	return Limits{TokenLimit: 400, CharLimit: 1600, OverlapTokens: 75, OverlapChars: 300, TokenRatio: 3}
}

func TestChunker_EmitsWithinLimits(t *testing.T) {
	c := New("conv-1", "demo", limits(), nil, 0)
	var all []Chunk
	for i := 0; i < 50; i++ {
		all = append(all, c.Add(transcript.Message{Role: "user", Text: strings.Repeat("hello world ", 20), Timestamp: "t"})...)
	}
	all = append(all, c.Finish()...)
	require.NotEmpty(t, all)
	for _, ch := range all {
		assert.LessOrEqual(t, len(ch.Text), limits().CharLimit)
		assert.LessOrEqual(t, EstimateTokens(ch.Text, 3), limits().TokenLimit)
	}
}

func TestChunker_DenseIndexFromZero(t *testing.T) {
	c := New("conv-1", "demo", limits(), nil, 0)
	var all []Chunk
	for i := 0; i < 30; i++ {
		all = append(all, c.Add(transcript.Message{Role: "user", Text: strings.Repeat("x", 200), Timestamp: "t"})...)
	}
	all = append(all, c.Finish()...)
	for i, ch := range all {
		assert.Equal(t, i, ch.ChunkIndex)
	}
}

func TestChunker_PartialFlushAtEnd(t *testing.T) {
	c := New("conv-1", "demo", limits(), nil, 0)
	c.Add(transcript.Message{Role: "user", Text: "short message", Timestamp: "t"})
	out := c.Finish()
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "short message")
}

func TestChunker_OversizedMessageNotSplit(t *testing.T) {
	c := New("conv-1", "demo", limits(), nil, 0)
	huge := strings.Repeat("z", 5000)
	out := c.Add(transcript.Message{Role: "user", Text: huge, Timestamp: "t"})
	require.Len(t, out, 1)
	assert.True(t, out[0].Truncated)
	assert.Contains(t, out[0].Text, huge)
}

func TestChunker_NoDuplicateChunkIDs(t *testing.T) {
	c := New("conv-1", "demo", limits(), nil, 0)
	var all []Chunk
	for i := 0; i < 40; i++ {
		all = append(all, c.Add(transcript.Message{Role: "user", Text: strings.Repeat("abc ", 30), Timestamp: "t"})...)
	}
	all = append(all, c.Finish()...)
	seen := map[string]bool{}
	for _, ch := range all {
		assert.False(t, seen[ch.ChunkID])
		seen[ch.ChunkID] = true
	}
}

func TestChunker_FoldsToolMetadata(t *testing.T) {
	c := New("conv-1", "demo", limits(), nil, 0)
	c.Add(transcript.Message{Role: "user", Text: "please fix the auth handler", Timestamp: "t"})
	// A tool-only assistant turn: no text, just the invocation metadata.
	c.Add(transcript.Message{
		Role:           "assistant",
		Timestamp:      "t",
		ToolNames:      []string{"Edit"},
		FilesMentioned: []string{"internal/auth/handler.go"},
	})
	c.Add(transcript.Message{
		Role:           "assistant",
		Text:           "looked at the test file first",
		Timestamp:      "t",
		ToolNames:      []string{"Read", "Grep"},
		FilesMentioned: []string{"internal/auth/handler_test.go"},
		ToolOutputs:    []string{"func TestLogin(t *testing.T) {"},
	})
	out := c.Finish()
	require.Len(t, out, 1)
	ch := out[0]
	assert.Equal(t, []string{"internal/auth/handler.go"}, ch.FilesEdited)
	assert.Equal(t, []string{"internal/auth/handler_test.go"}, ch.FilesAnalyzed)
	assert.ElementsMatch(t, []string{"Edit", "Read", "Grep"}, ch.ToolsUsed)
	assert.Contains(t, ch.Concepts, "auth")
	assert.Equal(t, []string{"func TestLogin(t *testing.T) {"}, ch.ToolOutputs)
}

func TestEstimateTokens_CodeInflation(t *testing.T) {
	plainText := "some plain english text without any code markers at all here"
	codeText := "function foo() {\n  return {a:1, b:2};\n}\n`backtick`"
	plain := EstimateTokens(plainText, 3)
	code := EstimateTokens(codeText, 3)
	// Plain text gets the bare chars/ratio estimate; code-like text is
	// inflated above it.
	assert.Equal(t, len(plainText)/3, plain)
	assert.Greater(t, code, len(codeText)/3)
}
