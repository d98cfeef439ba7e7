package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextOverlap(t *testing.T) {
	text := strings.Repeat("a", 2000)
	chunks := ChunkText(text, 800, 120)

	require.NotEmpty(t, chunks)
	assert.Len(t, chunks[0], 800)
	// step = 800-120 = 680, so 2000 chars → starts at 0, 680, 1360
	assert.Len(t, chunks, 3)
}

func TestChunkTextNormalizesWhitespace(t *testing.T) {
	chunks := ChunkText("hello\n\n  world\t!", 100, 0)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world !", chunks[0])
}

func TestChunkTextEmpty(t *testing.T) {
	assert.Nil(t, ChunkText("   ", 800, 120))
}

func TestScore(t *testing.T) {
	assert.Equal(t, 2.0, Score("tool safety", "Tool calling is a tool concern"))
	// terms shorter than 3 chars are ignored
	assert.Equal(t, 0.0, Score("a an", "a an a an"))
	assert.Equal(t, 0.0, Score("", "anything"))
	// case-insensitive
	assert.Equal(t, 1.0, Score("APPROVAL", "approval workflow"))
}

func testChunks() []Chunk {
	return []Chunk{
		{DocID: "d1", Title: "Safety", TrustLevel: TrustTrusted, ChunkIndex: 0, Text: "tool calling safety and approval gates"},
		{DocID: "d2", Title: "Injection", TrustLevel: TrustUntrusted, ChunkIndex: 0, Text: "prompt injection attacks target tool calling pipelines with tool abuse"},
		{DocID: "d3", Title: "Cooking", TrustLevel: TrustTrusted, ChunkIndex: 0, Text: "how to bake bread"},
		{DocID: "d1", Title: "Safety", TrustLevel: TrustTrusted, ChunkIndex: 1, Text: "tool registries validate arguments"},
	}
}

func TestTopKExcludesZeroScores(t *testing.T) {
	results := TopK("tool calling", testChunks(), 10, false)
	for _, r := range results {
		assert.Greater(t, r.Score, 0.0)
		assert.NotEqual(t, "d3", r.DocID)
	}
}

func TestTopKOrdering(t *testing.T) {
	results := TopK("tool calling", testChunks(), 10, false)
	require.Len(t, results, 3)
	// d2 mentions "tool" twice + "calling" once
	assert.Equal(t, "d2", results[0].DocID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestTopKStableOnTies(t *testing.T) {
	chunks := []Chunk{
		{DocID: "first", TrustLevel: TrustTrusted, Text: "approval workflow"},
		{DocID: "second", TrustLevel: TrustTrusted, Text: "approval ledger"},
	}
	results := TopK("approval", chunks, 2, false)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].DocID)
	assert.Equal(t, "second", results[1].DocID)
}

func TestTopKTrustedOnly(t *testing.T) {
	results := TopK("tool calling injection", testChunks(), 10, true)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, TrustTrusted, r.TrustLevel)
	}
}

func TestTopKDeterministic(t *testing.T) {
	a := TopK("tool calling safety", testChunks(), 5, false)
	b := TopK("tool calling safety", testChunks(), 5, false)
	assert.Equal(t, a, b)
}

func TestTopKCapsK(t *testing.T) {
	results := TopK("tool", testChunks(), 1, false)
	assert.Len(t, results, 1)
}

func TestSnippetTruncation(t *testing.T) {
	long := strings.Repeat("tool ", 100)
	results := TopK("tool", []Chunk{{DocID: "d", TrustLevel: TrustTrusted, Text: long}}, 1, false)
	require.Len(t, results, 1)
	assert.True(t, strings.HasSuffix(results[0].Snippet, "…"))
	assert.LessOrEqual(t, len(results[0].Snippet), snippetChars+len("…"))
}
