package search

import (
	"context"
	"log/slog"
	"sort"

	"github.com/DocQA-Labs/docrag/internal/store"
)

// BM25Retriever runs lexical retrieval across every file index of a
// namespace and merges the per-file hits into one ranked list.
type BM25Retriever struct {
	provider IndexProvider
}

// NewBM25Retriever creates a lexical retriever over a namespace.
func NewBM25Retriever(provider IndexProvider) *BM25Retriever {
	return &BM25Retriever{provider: provider}
}

// Retrieve returns the top k chunks by BM25 score across all files.
// A namespace with no keyword indices yields an empty list, not an
// error; zero and negative scores are dropped. Ties go to the lower
// file ID, then the lower ordinal.
func (r *BM25Retriever) Retrieve(ctx context.Context, query string, k int) ([]*Hit, error) {
	if k <= 0 {
		return []*Hit{}, nil
	}

	indexes, err := r.provider.KeywordIndexes(ctx)
	if err != nil {
		return nil, err
	}
	if len(indexes) == 0 {
		return []*Hit{}, nil
	}

	var merged []*Hit
	for fileID, idx := range indexes {
		hits, err := idx.Search(ctx, query, k)
		if err != nil {
			slog.Warn("keyword search failed for file",
				"file_id", fileID,
				"error", err)
			continue
		}
		for _, h := range hits {
			if h.Score <= 0 {
				continue
			}
			merged = append(merged, &Hit{
				Chunk:     withPseudoPage(h.Chunk),
				Score:     h.Score,
				Source:    SourceBM25,
				BM25Score: h.Score,
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.FileID != b.Chunk.FileID {
			return a.Chunk.FileID < b.Chunk.FileID
		}
		return a.Chunk.Ordinal < b.Chunk.Ordinal
	})

	if len(merged) > k {
		merged = merged[:k]
	}
	for i, h := range merged {
		h.Rank = i + 1
		h.BM25Rank = i + 1
	}
	return merged, nil
}

// withPseudoPage substitutes ordinal+1 for an unknown page so lexical
// hits from page-less bundles still cite a stable location.
func withPseudoPage(c store.Chunk) store.Chunk {
	if c.PageNumber == 0 {
		c.PageNumber = c.Ordinal + 1
	}
	return c
}
