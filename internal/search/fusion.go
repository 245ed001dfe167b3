package search

import "sort"

// DefaultRRFConstant is the rank smoothing constant in the reciprocal
// rank formula weight/(K+rank).
const DefaultRRFConstant = 60

// Weights splits the fusion mass between the two retrievers.
type Weights struct {
	BM25   float64
	Vector float64
}

// DefaultWeights returns the balanced split.
func DefaultWeights() Weights {
	return Weights{BM25: 0.5, Vector: 0.5}
}

// RRFFusion merges two ranked lists by reciprocal rank fusion. A
// chunk's fused score is the raw sum of weight/(K+rank) over the lists
// that contain it; a list that misses the chunk contributes nothing,
// and scores are not normalized afterwards.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion with the default constant.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a fusion with a custom constant.
// k <= 0 uses DefaultRRFConstant.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines a lexical and a dense hit list into one hybrid
// ranking. Ranks are 1-based list positions; the input hits are not
// mutated.
func (f *RRFFusion) Fuse(bm25, vector []*Hit, w Weights) []*Hit {
	if len(bm25) == 0 && len(vector) == 0 {
		return []*Hit{}
	}

	fused := make(map[string]*Hit, len(bm25)+len(vector))

	for i, h := range bm25 {
		rank := i + 1
		entry := f.getOrCreate(fused, h)
		entry.BM25Score = h.BM25Score
		entry.BM25Rank = rank
		entry.RRFScore += w.BM25 / float64(f.K+rank)
	}

	for i, h := range vector {
		rank := i + 1
		entry := f.getOrCreate(fused, h)
		entry.VectorScore = h.VectorScore
		entry.VectorRank = rank
		entry.RRFScore += w.Vector / float64(f.K+rank)
	}

	return f.toSortedSlice(fused)
}

// getOrCreate returns the fused entry for a chunk, creating it from
// the first hit that mentions the chunk. The first sighting supplies
// the chunk copy, so a lexical pseudo-page survives fusion.
func (f *RRFFusion) getOrCreate(fused map[string]*Hit, h *Hit) *Hit {
	if entry, ok := fused[h.Chunk.ID]; ok {
		return entry
	}
	entry := &Hit{
		Chunk:  h.Chunk,
		Source: SourceHybrid,
	}
	fused[h.Chunk.ID] = entry
	return entry
}

// toSortedSlice orders the fused entries and assigns final ranks.
func (f *RRFFusion) toSortedSlice(fused map[string]*Hit) []*Hit {
	results := make([]*Hit, 0, len(fused))
	for _, entry := range fused {
		entry.Score = entry.RRFScore
		results = append(results, entry)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return f.less(results[i], results[j])
	})

	for i, entry := range results {
		entry.Rank = i + 1
	}
	return results
}

// less orders by fused score, then the higher original BM25 score,
// then the lower (file ID, ordinal) pair.
func (f *RRFFusion) less(a, b *Hit) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.BM25Score != b.BM25Score {
		return a.BM25Score > b.BM25Score
	}
	if a.Chunk.FileID != b.Chunk.FileID {
		return a.Chunk.FileID < b.Chunk.FileID
	}
	return a.Chunk.Ordinal < b.Chunk.Ordinal
}
