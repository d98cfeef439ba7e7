// Package retrieval implements lexical retrieval over knowledge-base
// chunks: a whitespace-normalizing chunker for ingestion and a
// term-frequency ranker with trust filtering for query time.
//
// Ranking is a pure function of its inputs so a turn trace can be replayed:
// identical (query, chunks, k, trustedOnly) always produce the identical
// ordered result list.
package retrieval

import (
	"regexp"
	"sort"
	"strings"
)

// Trust levels a chunk may carry.
const (
	TrustTrusted   = "trusted"
	TrustUntrusted = "untrusted"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 120

	// minTermLen excludes short stop-ish terms from scoring.
	minTermLen = 3

	snippetChars = 260
)

// Chunk is one retrievable slice of an ingested document.
type Chunk struct {
	DocID      string
	Title      string
	Tags       string
	TrustLevel string
	ChunkIndex int
	Text       string
}

// Result is a ranked chunk with provenance for citation and tracing.
type Result struct {
	DocID      string  `json:"doc_id"`
	Title      string  `json:"title"`
	TrustLevel string  `json:"trust_level"`
	Tags       string  `json:"tags"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

var (
	whitespace = regexp.MustCompile(`\s+`)
	termRe     = regexp.MustCompile(`[a-zA-Z0-9_]+`)
)

// ChunkText splits text into overlapping fixed-size chunks after collapsing
// runs of whitespace. Empty input yields no chunks.
func ChunkText(text string, size, overlap int) []string {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}
	t = whitespace.ReplaceAllString(t, " ")

	var chunks []string
	step := size - overlap
	if step < 1 {
		step = 1
	}
	for i := 0; i < len(t); i += step {
		end := i + size
		if end > len(t) {
			end = len(t)
		}
		chunks = append(chunks, t[i:end])
	}
	return chunks
}

// Score sums the case-insensitive occurrence counts of every query term of
// length >= 3 in the chunk text. A query with no usable terms scores zero.
func Score(query, text string) float64 {
	low := strings.ToLower(text)
	var score float64
	for _, term := range termRe.FindAllString(strings.ToLower(query), -1) {
		if len(term) < minTermLen {
			continue
		}
		score += float64(strings.Count(low, term))
	}
	return score
}

// TopK ranks chunks against the query and returns at most k results, best
// first. Zero-scoring chunks never appear. Ties preserve the original chunk
// order. When trustedOnly is set, untrusted chunks are excluded before
// scoring.
func TopK(query string, chunks []Chunk, k int, trustedOnly bool) []Result {
	if k < 1 {
		k = 1
	}

	type scored struct {
		score float64
		chunk Chunk
	}
	var candidates []scored
	for _, c := range chunks {
		if trustedOnly && c.TrustLevel != TrustTrusted {
			continue
		}
		if s := Score(query, c.Text); s > 0 {
			candidates = append(candidates, scored{score: s, chunk: c})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]Result, 0, len(candidates))
	for _, s := range candidates {
		results = append(results, Result{
			DocID:      s.chunk.DocID,
			Title:      s.chunk.Title,
			TrustLevel: s.chunk.TrustLevel,
			Tags:       s.chunk.Tags,
			ChunkIndex: s.chunk.ChunkIndex,
			Score:      s.score,
			Snippet:    snippet(s.chunk.Text),
		})
	}
	return results
}

func snippet(text string) string {
	if len(text) <= snippetChars {
		return text
	}
	return text[:snippetChars] + "…"
}
