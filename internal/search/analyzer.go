package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/DocQA-Labs/docrag/internal/llm"
)

// Question types produced by query analysis.
const (
	QuestionFact     = "fact"
	QuestionAnalysis = "analysis"
	QuestionGuidance = "guidance"
)

// Difficulty grades produced by query analysis.
const (
	DifficultySimple  = "simple"
	DifficultyMedium  = "medium"
	DifficultyComplex = "complex"
)

// DefaultAnalysisCacheSize bounds the per-question analysis cache.
const DefaultAnalysisCacheSize = 256

// maxKeywords caps the keyword list of one analysis.
const maxKeywords = 5

const analyzePromptTemplate = `分析以下用户问题，严格按照JSON格式输出，不要输出任何其他内容。

问题：%s

输出格式：
{"question_type": "fact|analysis|guidance", "keywords": ["关键词1", "关键词2"], "difficulty": "simple|medium|complex", "category": "问题领域"}

要求：
- question_type：事实查询选fact，分析比较选analysis，操作建议选guidance
- keywords：提取不超过5个检索关键词
- difficulty：按所需推理步骤评估难度
- category：一个简短的领域名词`

// QueryAnalysis describes one question for routing and caching.
type QueryAnalysis struct {
	QuestionType string   `json:"question_type"`
	Keywords     []string `json:"keywords"`
	Difficulty   string   `json:"difficulty"`
	Category     string   `json:"category"`
}

// AnalyzerConfig configures query analysis for one scenario.
type AnalyzerConfig struct {
	// Model is the fast chat model used for analysis.
	Model string

	// GuidanceMarkers and AnalysisMarkers drive the rule fallback.
	GuidanceMarkers []string
	AnalysisMarkers []string

	// KeywordLibrary maps a category to its domain words. Library
	// words found in the question augment the extracted keywords.
	KeywordLibrary map[string][]string

	// CacheSize bounds the analysis cache (default
	// DefaultAnalysisCacheSize).
	CacheSize int
}

// Analyzer classifies questions with the fast model and falls back to
// marker rules when the model is unavailable or answers off-format.
// Results are cached per normalized question.
type Analyzer struct {
	gateway llm.Gateway
	cfg     AnalyzerConfig
	cache   *lru.Cache[string, QueryAnalysis]
}

// NewAnalyzer creates an analyzer with its question cache.
func NewAnalyzer(gateway llm.Gateway, cfg AnalyzerConfig) (*Analyzer, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultAnalysisCacheSize
	}
	cache, err := lru.New[string, QueryAnalysis](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis cache: %w", err)
	}
	return &Analyzer{gateway: gateway, cfg: cfg, cache: cache}, nil
}

// Analyze classifies a question. It never fails: model trouble of any
// kind degrades to the marker rules. Keywords from the scenario
// library augment, never replace, the extracted ones.
func (a *Analyzer) Analyze(ctx context.Context, question string) QueryAnalysis {
	key := normalizeQuestion(question)
	if cached, ok := a.cache.Get(key); ok {
		return cached
	}

	analysis, ok := a.analyzeWithModel(ctx, question)
	if !ok {
		analysis = a.analyzeWithRules(question)
	}

	analysis.Keywords = a.augmentKeywords(question, analysis.Keywords)
	if len(analysis.Keywords) > maxKeywords {
		analysis.Keywords = analysis.Keywords[:maxKeywords]
	}

	a.cache.Add(key, analysis)
	return analysis
}

// analyzeWithModel asks the fast model for a strict-JSON analysis.
// Any deviation from the schema reports ok=false.
func (a *Analyzer) analyzeWithModel(ctx context.Context, question string) (QueryAnalysis, bool) {
	if a.gateway == nil {
		return QueryAnalysis{}, false
	}

	resp, err := a.gateway.Chat(ctx, llm.ChatRequest{
		Model:       a.cfg.Model,
		User:        fmt.Sprintf(analyzePromptTemplate, question),
		Temperature: 0,
		MaxTokens:   500,
	})
	if err != nil {
		slog.Debug("query analysis call failed", "error", err)
		return QueryAnalysis{}, false
	}

	var analysis QueryAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &analysis); err != nil {
		slog.Debug("query analysis response not json", "error", err)
		return QueryAnalysis{}, false
	}
	if !validQuestionType(analysis.QuestionType) || !validDifficulty(analysis.Difficulty) {
		return QueryAnalysis{}, false
	}
	return analysis, true
}

// analyzeWithRules is the no-model path: scenario markers pick the
// question type, length picks the difficulty.
func (a *Analyzer) analyzeWithRules(question string) QueryAnalysis {
	analysis := QueryAnalysis{
		QuestionType: QuestionFact,
		Difficulty:   difficultyByLength(question),
		Category:     "通用",
	}

	switch {
	case containsAny(question, a.cfg.GuidanceMarkers):
		analysis.QuestionType = QuestionGuidance
	case containsAny(question, a.cfg.AnalysisMarkers):
		analysis.QuestionType = QuestionAnalysis
	}
	return analysis
}

// augmentKeywords appends library words found in the question to the
// extracted keywords. Extracted keywords keep their position;
// duplicates and blanks are dropped. Categories are scanned in sorted
// order so augmentation is deterministic.
func (a *Analyzer) augmentKeywords(question string, keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	result := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		result = append(result, kw)
	}

	categories := make([]string, 0, len(a.cfg.KeywordLibrary))
	for c := range a.cfg.KeywordLibrary {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, c := range categories {
		for _, w := range a.cfg.KeywordLibrary[c] {
			if w == "" || !strings.Contains(question, w) {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			result = append(result, w)
		}
	}
	return result
}

func validQuestionType(t string) bool {
	return t == QuestionFact || t == QuestionAnalysis || t == QuestionGuidance
}

func validDifficulty(d string) bool {
	return d == DifficultySimple || d == DifficultyMedium || d == DifficultyComplex
}

// difficultyByLength grades by rune count: short questions are simple,
// long ones complex.
func difficultyByLength(question string) string {
	n := len([]rune(strings.TrimSpace(question)))
	switch {
	case n <= 12:
		return DifficultySimple
	case n > 40:
		return DifficultyComplex
	default:
		return DifficultyMedium
	}
}

// normalizeQuestion is the cache key: lowercased and trimmed.
func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// containsAny reports whether s contains any of the markers.
func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}
