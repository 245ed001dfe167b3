package rag

import (
	"sort"
	"time"

	"github.com/DocQA-Labs/docrag/internal/cache"
	"github.com/DocQA-Labs/docrag/internal/search"
)

// Answer modes. ModeRAG means the answer is grounded in retrieved
// chunks and went through verification. ModePureLLM means the model
// answered from its own knowledge, either because the namespace held
// nothing relevant or because the pipeline had to stop early.
const (
	ModeRAG     = "rag"
	ModePureLLM = "pure_llm"
)

// pureLLMConfidence is reported for answers with no document grounding.
const pureLLMConfidence = 0.5

// SourceChunk is one retrieved passage an answer was grounded on.
type SourceChunk struct {
	ChunkID    string  `json:"chunk_id"`
	FileID     string  `json:"file_id"`
	PageNumber int     `json:"page_number,omitempty"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// AnswerRecord is the complete result of one processed question.
// Records are cached and replayed as-is, so everything a caller could
// want to render has to live on the record itself.
type AnswerRecord struct {
	Question         string              `json:"question"`
	Answer           string              `json:"answer"`
	Reasoning        string              `json:"reasoning,omitempty"`
	RelevantPages    []int               `json:"relevant_pages"`
	Confidence       float64             `json:"confidence"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	SourceChunks     []SourceChunk       `json:"source_chunks"`
	Verification     search.Verification `json:"verification"`
	Mode             string              `json:"mode"`
}

// StatusReport describes one namespace: what is indexed on disk, what
// is resident in memory, and the live cache and retrieval counters.
// The loaded fields stay zero until a question touches the namespace.
type StatusReport struct {
	Namespace string `json:"namespace"`

	Prepared      bool      `json:"prepared"`
	IndexedFiles  int       `json:"indexed_files"`
	IndexedChunks int       `json:"indexed_chunks"`
	LastIndexed   time.Time `json:"last_indexed"`

	IndicesLoaded bool `json:"indices_loaded"`
	LoadedFiles   int  `json:"loaded_files"`
	LoadedChunks  int  `json:"loaded_chunks"`

	CacheStats     cache.Stats        `json:"cache_stats"`
	RetrievalStats search.EngineStats `json:"retrieval_stats"`
}

// skippedVerification marks an answer produced without document
// context: nothing to check against, neutral confidence.
func skippedVerification() search.Verification {
	return search.Verification{
		IsValid:         true,
		Confidence:      pureLLMConfidence,
		Reasoning:       "无文档上下文，跳过校验",
		CitationCheck:   search.CitationSkipped,
		LLMVerification: search.LLMVerifySkipped,
	}
}

// sourceChunks flattens hits into the form embedded on the record.
func sourceChunks(hits []*search.Hit) []SourceChunk {
	if len(hits) == 0 {
		return nil
	}
	out := make([]SourceChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, SourceChunk{
			ChunkID:    h.Chunk.ID,
			FileID:     h.Chunk.FileID,
			PageNumber: h.Chunk.PageNumber,
			Score:      h.Score,
			Text:       h.Chunk.Text,
		})
	}
	return out
}

// distinctPages collects the cited pages in ascending order. Page 0
// means the source format has no pages and is never cited.
func distinctPages(hits []*search.Hit) []int {
	seen := make(map[int]struct{}, len(hits))
	pages := make([]int, 0, len(hits))
	for _, h := range hits {
		p := h.Chunk.PageNumber
		if p <= 0 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}
