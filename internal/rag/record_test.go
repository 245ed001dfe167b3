package rag

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DocQA-Labs/docrag/internal/search"
	"github.com/DocQA-Labs/docrag/internal/store"
)

func TestDistinctPages(t *testing.T) {
	hits := []*search.Hit{
		{Chunk: store.Chunk{PageNumber: 9}},
		{Chunk: store.Chunk{PageNumber: 2}},
		{Chunk: store.Chunk{PageNumber: 0}}, // pageless source, never cited
		{Chunk: store.Chunk{PageNumber: 9}},
		{Chunk: store.Chunk{PageNumber: 5}},
	}
	require.Equal(t, []int{2, 5, 9}, distinctPages(hits))
	require.Empty(t, distinctPages(nil))
}

func TestSourceChunks_CarriesFullText(t *testing.T) {
	hits := []*search.Hit{
		{
			Chunk: store.Chunk{ID: "policy.pdf#chunk#0", FileID: "policy.pdf", PageNumber: 2, Text: "差旅报销需提供发票"},
			Score: 0.8,
		},
	}
	out := sourceChunks(hits)
	require.Len(t, out, 1)
	require.Equal(t, "policy.pdf#chunk#0", out[0].ChunkID)
	require.Equal(t, "policy.pdf", out[0].FileID)
	require.Equal(t, 2, out[0].PageNumber)
	require.InDelta(t, 0.8, out[0].Score, 0.001)
	require.Equal(t, "差旅报销需提供发票", out[0].Text)

	require.Nil(t, sourceChunks(nil))
}

func TestSkippedVerification(t *testing.T) {
	v := skippedVerification()
	require.True(t, v.IsValid)
	require.InDelta(t, pureLLMConfidence, v.Confidence, 0.001)
	require.Equal(t, search.CitationSkipped, v.CitationCheck)
	require.Equal(t, search.LLMVerifySkipped, v.LLMVerification)
}

// The record is the wire contract replayed by every serving surface;
// keep the field names pinned.
func TestAnswerRecord_JSONFieldNames(t *testing.T) {
	rec := AnswerRecord{
		Question:      "问",
		Answer:        "答",
		Mode:          ModeRAG,
		RelevantPages: []int{2},
		Confidence:    0.9,
		SourceChunks: []SourceChunk{
			{ChunkID: "f#chunk#0", FileID: "f", PageNumber: 2, Score: 0.5, Text: "正文"},
		},
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	for _, key := range []string{
		`"question"`, `"answer"`, `"relevant_pages"`, `"confidence"`,
		`"processing_time_ms"`, `"source_chunks"`, `"verification"`, `"mode"`,
		`"chunk_id"`, `"file_id"`, `"page_number"`,
	} {
		require.Contains(t, string(data), key)
	}
}
