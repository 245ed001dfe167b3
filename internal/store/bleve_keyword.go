package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// CJKTokenizerName is the registered name of the mixed CJK/Latin
	// tokenizer backing the bleve keyword backend.
	CJKTokenizerName = "cjk_mixed_tokenizer"

	// CJKAnalyzerName is the registered name of the analyzer built on it.
	CJKAnalyzerName = "cjk_mixed_analyzer"
)

func init() {
	// Register custom tokenizer
	_ = registry.RegisterTokenizer(CJKTokenizerName, cjkTokenizerConstructor)
}

// BleveKeywordIndex is the bleve-backed keyword index over one file's
// chunks. It analyzes text with the same Tokenize rules as the native
// backend but scores with bleve's relevancy model, and persists through
// bleve's own on-disk index directory.
type BleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveChunk is the document shape handed to bleve for indexing.
type bleveChunk struct {
	Text       string `json:"text"`
	PageNumber int    `json:"page_number"`
}

// Verify interface implementation
var _ KeywordIndex = (*BleveKeywordIndex)(nil)

// validateBleveIntegrity checks a bleve index directory before opening.
// Returns nil if the index is absent or looks sound.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Index doesn't exist, will be created
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isBleveCorruption checks if an error indicates bleve index corruption.
func isBleveCorruption(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		strings.Contains(errStr, "no such file or directory") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveKeywordIndex creates or opens a bleve keyword index.
// If path is empty, creates an in-memory index. A corrupted on-disk
// index is cleared and recreated rather than failing the open.
func NewBleveKeywordIndex(path string) (*BleveKeywordIndex, error) {
	indexMapping, err := createKeywordMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		// In-memory index for testing
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateBleveIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("keyword_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reingest to rebuild"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isBleveCorruption(err) {
			slog.Warn("keyword_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			slog.Info("keyword_index_cleared",
				slog.String("path", path),
				slog.String("reason", "open failed with corruption, reingest to rebuild"))

			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveKeywordIndex{
		index: idx,
		path:  path,
	}, nil
}

// createKeywordMapping builds the bleve mapping: text analyzed by the
// CJK analyzer and stored, page number stored only.
func createKeywordMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	// The analyzer is the raw tokenizer: no case folding and no stop
	// words, matching the native backend's term stream.
	err := indexMapping.AddCustomAnalyzer(CJKAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CJKTokenizerName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = CJKAnalyzerName
	textField.Store = true

	pageField := bleve.NewNumericFieldMapping()
	pageField.Store = true
	pageField.Index = false
	pageField.IncludeInAll = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("text", textField)
	docMapping.AddFieldMappingsAt("page_number", pageField)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = CJKAnalyzerName

	return indexMapping, nil
}

// Add indexes chunks under their chunk IDs.
func (b *BleveKeywordIndex) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, chunk := range chunks {
		doc := bleveChunk{Text: chunk.Text, PageNumber: chunk.PageNumber}
		if err := batch.Index(chunk.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", chunk.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	return nil
}

// Search returns up to k chunks matching the query, best first.
// Chunk text and page number come back from bleve's stored fields.
func (b *BleveKeywordIndex) Search(ctx context.Context, query string, k int) ([]KeywordHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if k <= 0 || strings.TrimSpace(query) == "" {
		return []KeywordHit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("text")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = k
	searchRequest.Fields = []string{"text", "page_number"}

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]KeywordHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		fileID, ordinal, err := ParseChunkID(hit.ID)
		if err != nil {
			slog.Warn("keyword_hit_skipped", slog.String("doc_id", hit.ID))
			continue
		}

		text, _ := hit.Fields["text"].(string)
		page := 0
		if p, ok := hit.Fields["page_number"].(float64); ok {
			page = int(p)
		}

		hits = append(hits, KeywordHit{
			Chunk: Chunk{
				ID:         hit.ID,
				FileID:     fileID,
				Ordinal:    ordinal,
				Text:       text,
				PageNumber: page,
			},
			Score: hit.Score,
		})
	}

	// Bleve's ordering for equal scores is unspecified; pin it down.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Ordinal < hits[j].Chunk.Ordinal
	})

	return hits, nil
}

// Len returns the number of indexed chunks.
func (b *BleveKeywordIndex) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	docCount, _ := b.index.DocCount()
	return int(docCount)
}

// Stats returns index statistics.
func (b *BleveKeywordIndex) Stats() *KeywordStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return &KeywordStats{}
	}

	docCount, _ := b.index.DocCount()

	return &KeywordStats{
		DocumentCount: int(docCount),
		// Bleve doesn't expose term count or average document length.
	}
}

// Save persists the index to disk.
// For bleve this is a no-op: changes are persisted automatically.
func (b *BleveKeywordIndex) Save(path string) error {
	return nil
}

// Load opens an existing index from disk.
func (b *BleveKeywordIndex) Load(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.index != nil && !b.closed {
		_ = b.index.Close()
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	b.index = idx
	b.path = path
	b.closed = false

	return nil
}

// Close closes the index.
func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// cjkTokenizerConstructor creates the mixed CJK/Latin tokenizer for bleve.
func cjkTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveCJKTokenizer{}, nil
}

// bleveCJKTokenizer implements analysis.Tokenizer over Tokenize, so the
// bleve backend indexes the exact term stream the native backend scores.
type bleveCJKTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveCJKTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		// Find the token's byte position in the original text. The
		// thousands-separator rule means a token ("3000") may not
		// appear verbatim; fall back to the scan offset.
		start := strings.Index(text[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}

	return result
}
