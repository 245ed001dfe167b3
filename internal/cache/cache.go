// Package cache implements the two-tier answer cache serving one
// namespace: an exact layer keyed by question hash and a semantic
// layer matched by embedding similarity.
//
// The exact layer answers byte-identical repeat questions without any
// model traffic. The semantic layer catches rephrasings: on an exact
// miss the question is embedded once and compared against the stored
// embeddings of previously answered questions; a cosine similarity at
// or above the threshold counts as a hit.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultMaxSize caps the exact layer. The semantic layer holds
	// half as many entries because each one carries an embedding.
	DefaultMaxSize = 1000

	// DefaultSemanticThreshold is the minimum cosine similarity for a
	// semantic hit.
	DefaultSemanticThreshold = 0.95

	// DefaultExactTTL is the exact-layer entry lifetime.
	DefaultExactTTL = 7 * 24 * time.Hour

	// DefaultSemanticTTL is the semantic-layer entry lifetime.
	DefaultSemanticTTL = 3 * 24 * time.Hour
)

// Embedder is the slice of the LLM gateway the semantic layer uses.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config bounds one cache instance.
type Config struct {
	MaxSize           int
	SemanticThreshold float64
	ExactTTL          time.Duration
	SemanticTTL       time.Duration
}

// DefaultConfig returns the stock cache bounds.
func DefaultConfig() Config {
	return Config{
		MaxSize:           DefaultMaxSize,
		SemanticThreshold: DefaultSemanticThreshold,
		ExactTTL:          DefaultExactTTL,
		SemanticTTL:       DefaultSemanticTTL,
	}
}

// exactEntry carries its own timestamp so snapshot-restored entries
// keep their original age instead of a fresh lease.
type exactEntry[V any] struct {
	Record     V         `json:"record"`
	InsertedAt time.Time `json:"inserted_at"`
}

type semanticEntry[V any] struct {
	Question   string
	Embedding  []float32
	Record     V
	InsertedAt time.Time
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	ExactHits       int64 `json:"exact_hits"`
	SemanticHits    int64 `json:"semantic_hits"`
	Misses          int64 `json:"misses"`
	Stores          int64 `json:"stores"`
	ExactEntries    int   `json:"exact_entries"`
	SemanticEntries int   `json:"semantic_entries"`
}

// HitRate returns the fraction of lookups answered by either layer.
func (s Stats) HitRate() float64 {
	total := s.ExactHits + s.SemanticHits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.ExactHits+s.SemanticHits) / float64(total)
}

// Smart is the two-tier cache. One instance serves one namespace, so
// keys never need to carry tenant or scenario identifiers.
//
// Both layers are synchronized internally and no lock is held across
// embedding calls, so concurrent writers follow at-least-once
// semantics: a late writer may overwrite an equivalent entry for the
// same question. Entries are idempotent with respect to the question,
// which makes the overwrite harmless.
type Smart[V any] struct {
	namespace string
	cfg       Config
	embedder  Embedder

	exact    *expirable.LRU[string, exactEntry[V]]
	semantic *expirable.LRU[string, semanticEntry[V]]

	exactHits    atomic.Int64
	semanticHits atomic.Int64
	misses       atomic.Int64
	stores       atomic.Int64
}

// New builds a cache for one namespace. A nil embedder disables the
// semantic layer; exact lookups still work.
func New[V any](namespace string, embedder Embedder, cfg Config) *Smart[V] {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.SemanticThreshold <= 0 || cfg.SemanticThreshold > 1 {
		cfg.SemanticThreshold = def.SemanticThreshold
	}
	if cfg.ExactTTL <= 0 {
		cfg.ExactTTL = def.ExactTTL
	}
	if cfg.SemanticTTL <= 0 {
		cfg.SemanticTTL = def.SemanticTTL
	}

	semanticSize := cfg.MaxSize / 2
	if semanticSize < 1 {
		semanticSize = 1
	}

	return &Smart[V]{
		namespace: namespace,
		cfg:       cfg,
		embedder:  embedder,
		exact:     expirable.NewLRU[string, exactEntry[V]](cfg.MaxSize, nil, cfg.ExactTTL),
		semantic:  expirable.NewLRU[string, semanticEntry[V]](semanticSize, nil, cfg.SemanticTTL),
	}
}

// Namespace returns the namespace this cache serves.
func (c *Smart[V]) Namespace() string {
	return c.namespace
}

// hashQuestion keys the exact layer by the MD5 hex digest of the
// question bytes.
func hashQuestion(question string) string {
	sum := md5.Sum([]byte(question))
	return hex.EncodeToString(sum[:])
}

// Layer labels reported by LookupKind.
const (
	HitExact    = "exact"
	HitSemantic = "semantic"
)

// Lookup returns the cached record for question, trying the exact
// layer first and the semantic layer second. An exact hit costs no
// model traffic; a semantic probe costs one embedding call. Expired
// semantic entries found during the scan are dropped.
func (c *Smart[V]) Lookup(ctx context.Context, question string) (V, bool) {
	record, _, ok := c.LookupKind(ctx, question)
	return record, ok
}

// LookupKind is Lookup plus the layer that answered: HitExact,
// HitSemantic, or empty on a miss.
func (c *Smart[V]) LookupKind(ctx context.Context, question string) (V, string, bool) {
	var zero V

	key := hashQuestion(question)
	if ent, ok := c.exact.Get(key); ok {
		if time.Since(ent.InsertedAt) <= c.cfg.ExactTTL {
			c.exactHits.Add(1)
			return ent.Record, HitExact, true
		}
		c.exact.Remove(key)
	}

	if record, ok := c.lookupSemantic(ctx, question); ok {
		c.semanticHits.Add(1)
		return record, HitSemantic, true
	}

	c.misses.Add(1)
	return zero, "", false
}

// lookupSemantic scans the live semantic entries for the closest
// stored question. An empty layer skips the embedding call entirely.
func (c *Smart[V]) lookupSemantic(ctx context.Context, question string) (V, bool) {
	var zero V
	if c.embedder == nil || c.semantic.Len() == 0 {
		return zero, false
	}

	query, err := c.embedder.Embed(ctx, question)
	if err != nil {
		slog.Warn("semantic cache probe skipped",
			"namespace", c.namespace,
			"error", err)
		return zero, false
	}

	bestKey := ""
	bestScore := -1.0
	for _, key := range c.semantic.Keys() {
		ent, ok := c.semantic.Peek(key)
		if !ok {
			continue
		}
		if time.Since(ent.InsertedAt) > c.cfg.SemanticTTL {
			c.semantic.Remove(key)
			continue
		}
		if score := cosine(query, ent.Embedding); score > bestScore {
			bestKey, bestScore = key, score
		}
	}

	if bestKey == "" || bestScore < c.cfg.SemanticThreshold {
		return zero, false
	}

	// Get rather than Peek so the winner moves to MRU.
	ent, ok := c.semantic.Get(bestKey)
	if !ok {
		return zero, false
	}
	slog.Debug("semantic cache hit",
		"namespace", c.namespace,
		"similarity", bestScore)
	return ent.Record, true
}

// Store writes the record under the question's exact key and, when
// useSemantic is set, under its embedding as well. The semantic write
// is best effort: an embedding failure logs a warning and skips only
// that layer.
func (c *Smart[V]) Store(ctx context.Context, question string, record V, useSemantic bool) {
	now := time.Now()
	key := hashQuestion(question)
	c.exact.Add(key, exactEntry[V]{Record: record, InsertedAt: now})
	c.stores.Add(1)

	if !useSemantic || c.embedder == nil {
		return
	}

	vec, err := c.embedder.Embed(ctx, question)
	if err != nil {
		slog.Warn("semantic cache write skipped",
			"namespace", c.namespace,
			"error", err)
		return
	}

	c.semantic.Add(key, semanticEntry[V]{
		Question:   question,
		Embedding:  vec,
		Record:     record,
		InsertedAt: now,
	})
}

// Purge drops both layers. Called after the namespace's indices were
// rebuilt, when previous answers may cite chunks that no longer exist.
func (c *Smart[V]) Purge() {
	c.exact.Purge()
	c.semantic.Purge()
}

// Stats returns current counters and live entry counts.
func (c *Smart[V]) Stats() Stats {
	return Stats{
		ExactHits:       c.exactHits.Load(),
		SemanticHits:    c.semanticHits.Load(),
		Misses:          c.misses.Load(),
		Stores:          c.stores.Load(),
		ExactEntries:    c.exact.Len(),
		SemanticEntries: c.semantic.Len(),
	}
}

// cosine compares two embeddings without assuming either side is
// normalized. Mismatched dimensions score zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
