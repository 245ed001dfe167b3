package search

import (
	"context"
	"log/slog"
	"sort"

	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
	"github.com/DocQA-Labs/docrag/internal/llm"
)

// DefaultMinSimilarity filters dense hits below this cosine similarity.
const DefaultMinSimilarity = 0.5

// VectorRetriever embeds the query through the gateway and runs dense
// retrieval across every file index of a namespace.
type VectorRetriever struct {
	provider      IndexProvider
	gateway       llm.Gateway
	minSimilarity float64
}

// NewVectorRetriever creates a dense retriever over a namespace.
// minSimilarity <= 0 uses DefaultMinSimilarity.
func NewVectorRetriever(provider IndexProvider, gateway llm.Gateway, minSimilarity float64) *VectorRetriever {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	return &VectorRetriever{
		provider:      provider,
		gateway:       gateway,
		minSimilarity: minSimilarity,
	}
}

// Retrieve returns the top k chunks by cosine similarity across all
// files. Each file contributes up to k·2 candidates before the merge.
// Ties go to the larger file ID, then the smaller ordinal. A failed
// embedding aborts the whole call; a failed file is skipped.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, k int) ([]*Hit, error) {
	if k <= 0 {
		return []*Hit{}, nil
	}

	indexes, err := r.provider.VectorIndexes(ctx)
	if err != nil {
		return nil, err
	}
	if len(indexes) == 0 {
		return []*Hit{}, nil
	}

	vec, err := r.gateway.Embed(ctx, query)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodeEmbedding, "query embedding failed", err)
	}

	perFile := k * 2
	var merged []*Hit
	for fileID, idx := range indexes {
		hits, err := idx.Search(ctx, vec, perFile)
		if err != nil {
			slog.Warn("vector search failed for file",
				"file_id", fileID,
				"error", err)
			continue
		}
		for _, h := range hits {
			if h.Similarity < r.minSimilarity {
				continue
			}
			merged = append(merged, &Hit{
				Chunk:       h.Chunk,
				Score:       h.Similarity,
				Source:      SourceVector,
				VectorScore: h.Similarity,
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.FileID != b.Chunk.FileID {
			return a.Chunk.FileID > b.Chunk.FileID
		}
		return a.Chunk.Ordinal < b.Chunk.Ordinal
	})

	if len(merged) > k {
		merged = merged[:k]
	}
	for i, h := range merged {
		h.Rank = i + 1
		h.VectorRank = i + 1
	}
	return merged, nil
}
