package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
)

// BM25Index is the native Okapi BM25 index over one file's chunks.
// It is the default keyword backend: the whole bundle (scorer state plus
// chunks) persists as a single gob file, so a namespace load is one read
// per document.
type BM25Index struct {
	mu        sync.RWMutex
	cfg       BM25Config
	fileID    string
	chunks    []Chunk
	termFreqs []map[string]int
	docLens   []int
	totalLen  int
	df        map[string]int
	closed    bool
}

// bm25Bundle is the persisted form of a BM25Index.
type bm25Bundle struct {
	K1        float64
	B         float64
	FileID    string
	Chunks    []Chunk
	TermFreqs []map[string]int
	DocLens   []int
	DF        map[string]int
}

// Verify interface implementation
var _ KeywordIndex = (*BM25Index)(nil)

// NewBM25Index creates an empty native BM25 index. Zero config fields
// fall back to DefaultBM25Config values.
func NewBM25Index(cfg BM25Config) *BM25Index {
	def := DefaultBM25Config()
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B <= 0 {
		cfg.B = def.B
	}
	return &BM25Index{
		cfg: cfg,
		df:  make(map[string]int),
	}
}

// Add indexes chunks. Texts are tokenized once here; queries must use
// the same Tokenize rules to score against the stored term frequencies.
func (b *BM25Index) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	for _, chunk := range chunks {
		if b.fileID == "" {
			b.fileID = chunk.FileID
		}

		tokens := Tokenize(chunk.Text)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for term := range tf {
			b.df[term]++
		}

		b.chunks = append(b.chunks, chunk)
		b.termFreqs = append(b.termFreqs, tf)
		b.docLens = append(b.docLens, len(tokens))
		b.totalLen += len(tokens)
	}

	return nil
}

// Search scores every chunk against the query and returns the top k
// with positive scores, best first. Equal scores go to the lower
// ordinal.
func (b *BM25Index) Search(ctx context.Context, query string, k int) ([]KeywordHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if k <= 0 || strings.TrimSpace(query) == "" {
		return []KeywordHit{}, nil
	}

	tokens := Tokenize(query)
	if len(tokens) == 0 || len(b.chunks) == 0 {
		return []KeywordHit{}, nil
	}

	n := len(b.chunks)
	avgLen := float64(b.totalLen) / float64(n)

	hits := make([]KeywordHit, 0, n)
	for i := range b.chunks {
		score := b.scoreDoc(i, tokens, avgLen)
		if score <= 0 {
			continue
		}
		hits = append(hits, KeywordHit{Chunk: b.chunks[i], Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Ordinal < hits[j].Chunk.Ordinal
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// scoreDoc computes the Okapi BM25 score of document i for the query
// tokens. A token repeated in the query contributes once per occurrence.
func (b *BM25Index) scoreDoc(i int, queryTokens []string, avgLen float64) float64 {
	if avgLen == 0 {
		return 0
	}

	n := float64(len(b.chunks))
	tf := b.termFreqs[i]
	lenNorm := 1 - b.cfg.B + b.cfg.B*float64(b.docLens[i])/avgLen

	var score float64
	for _, term := range queryTokens {
		freq, ok := tf[term]
		if !ok {
			continue
		}
		df := float64(b.df[term])
		// Classic Okapi IDF can go negative for terms in more than
		// half the documents; floor at zero instead.
		idf := math.Log((n - df + 0.5) / (df + 0.5))
		if idf <= 0 {
			continue
		}
		f := float64(freq)
		score += idf * (f * (b.cfg.K1 + 1)) / (f + b.cfg.K1*lenNorm)
	}
	return score
}

// Len returns the number of indexed chunks.
func (b *BM25Index) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}

// FileID returns the document ID this index covers.
func (b *BM25Index) FileID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fileID
}

// Stats returns index statistics.
func (b *BM25Index) Stats() *KeywordStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || len(b.chunks) == 0 {
		return &KeywordStats{}
	}

	return &KeywordStats{
		DocumentCount: len(b.chunks),
		TermCount:     len(b.df),
		AvgDocLength:  float64(b.totalLen) / float64(len(b.chunks)),
	}
}

// Save persists the bundle as a gob file with an atomic rename.
func (b *BM25Index) Save(path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	bundle := bm25Bundle{
		K1:        b.cfg.K1,
		B:         b.cfg.B,
		FileID:    b.fileID,
		Chunks:    b.chunks,
		TermFreqs: b.termFreqs,
		DocLens:   b.docLens,
		DF:        b.df,
	}

	return writeFileAtomic(path, func(f *os.File) error {
		if err := gob.NewEncoder(f).Encode(&bundle); err != nil {
			return fmt.Errorf("encode bm25 bundle: %w", err)
		}
		return nil
	})
}

// Load replaces the index contents with a persisted bundle.
func (b *BM25Index) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bm25 bundle: %w", err)
	}
	defer f.Close()

	var bundle bm25Bundle
	if err := gob.NewDecoder(f).Decode(&bundle); err != nil {
		return fmt.Errorf("decode bm25 bundle %s: %w", path, err)
	}

	if len(bundle.TermFreqs) != len(bundle.Chunks) || len(bundle.DocLens) != len(bundle.Chunks) {
		return fmt.Errorf("bm25 bundle %s is corrupt: %d chunks, %d term maps, %d lengths",
			path, len(bundle.Chunks), len(bundle.TermFreqs), len(bundle.DocLens))
	}

	b.cfg.K1 = bundle.K1
	b.cfg.B = bundle.B
	b.fileID = bundle.FileID
	b.chunks = bundle.Chunks
	b.termFreqs = bundle.TermFreqs
	b.docLens = bundle.DocLens
	b.df = bundle.DF
	if b.df == nil {
		b.df = make(map[string]int)
	}
	b.totalLen = 0
	for _, l := range bundle.DocLens {
		b.totalLen += l
	}

	return nil
}

// Close marks the index closed. Further calls fail.
func (b *BM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}
