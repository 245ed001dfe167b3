package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/DocQA-Labs/docrag/internal/llm"
)

// Citation check outcomes.
const (
	CitationPassed  = "passed"
	CitationFailed  = "failed"
	CitationNone    = "no_citations"
	CitationSkipped = "skipped"
	CitationError   = "error"
)

// LLM verification outcomes.
const (
	LLMVerifyCompleted = "completed"
	LLMVerifyFailed    = "failed"
	LLMVerifySkipped   = "skipped"
	LLMVerifyError     = "error"
)

// Verification bounds.
const (
	// verifyChunkLimit is how many chunks are shown to the model.
	verifyChunkLimit = 3

	// verifySnippetRunes caps each shown chunk.
	verifySnippetRunes = 300

	// maxPositionalCitation is the largest number accepted as a
	// positional paragraph reference.
	maxPositionalCitation = 10
)

const verifyPromptTemplate = `你是答案审查员。判断以下回答是否忠实于给出的文档片段，严格按照JSON格式输出，不要输出任何其他内容。

问题：%s

回答：%s

文档片段：
%s
输出格式：
{"is_valid": true, "confidence": 0.9, "reasoning": "审查说明"}

要求：
- is_valid：回答内容能否在片段中找到依据
- confidence：0到1之间的小数
- reasoning：一句话说明判断依据`

// Verification is the verdict on one generated answer.
type Verification struct {
	IsValid          bool     `json:"is_valid"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	CitationCheck    string   `json:"citation_check"`
	InvalidCitations []string `json:"invalid_citations,omitempty"`
	LLMVerification  string   `json:"llm_verification"`
}

// Verdict is the parsed faithfulness response from the model.
type Verdict struct {
	IsValid    bool    `json:"is_valid"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// VerifierConfig configures answer verification for one scenario.
type VerifierConfig struct {
	// Model is the quality chat model used for the faithfulness call.
	Model string

	// CitationPatterns are ordered regular expressions. The first
	// capture group, or the whole match, is the citation value.
	CitationPatterns []string
}

// Verifier checks generated answers in two gates: every cited location
// must exist in the supporting chunks, then the model itself judges
// the answer faithful.
type Verifier struct {
	gateway  llm.Gateway
	cfg      VerifierConfig
	patterns []*regexp.Regexp
}

// NewVerifier compiles the citation patterns.
func NewVerifier(gateway llm.Gateway, cfg VerifierConfig) (*Verifier, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.CitationPatterns))
	for _, p := range cfg.CitationPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid citation pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &Verifier{gateway: gateway, cfg: cfg, patterns: patterns}, nil
}

// Verify runs the citation gate and then the model check. A failed
// citation gate is final: the model is never consulted for an answer
// that cites nonexistent locations. Nothing to verify passes at
// neutral confidence.
func (v *Verifier) Verify(ctx context.Context, answer string, chunks []*Hit, question string) (result Verification) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("verification recovered from panic", "panic", rec)
			result = Verification{
				IsValid:         true,
				Confidence:      0.5,
				Reasoning:       "verification_error",
				CitationCheck:   CitationError,
				LLMVerification: LLMVerifyError,
			}
		}
	}()

	if strings.TrimSpace(answer) == "" || len(chunks) == 0 {
		return Verification{
			IsValid:         true,
			Confidence:      0.5,
			Reasoning:       "无可验证内容",
			CitationCheck:   CitationSkipped,
			LLMVerification: LLMVerifySkipped,
		}
	}

	citations := v.ExtractCitations(answer)
	citationCheck := CitationNone
	if len(citations) > 0 {
		var invalid []string
		for _, c := range citations {
			if !v.CitationExists(c, chunks) {
				invalid = append(invalid, c)
			}
		}
		if len(invalid) > 0 {
			return Verification{
				IsValid:          false,
				Confidence:       0.2,
				Reasoning:        fmt.Sprintf("引用无法在文档中找到：%s", strings.Join(invalid, "、")),
				CitationCheck:    CitationFailed,
				InvalidCitations: invalid,
				LLMVerification:  LLMVerifySkipped,
			}
		}
		citationCheck = CitationPassed
	}

	verdict, err := v.VerifyWithLLM(ctx, answer, chunks, question)
	if err != nil {
		// Model unavailable: degrade to a flat neutral verdict, with
		// no citation bonus or penalty applied.
		slog.Warn("llm verification failed", "error", err)
		return Verification{
			IsValid:         true,
			Confidence:      0.5,
			Reasoning:       "llm_unavailable",
			CitationCheck:   citationCheck,
			LLMVerification: LLMVerifyFailed,
		}
	}

	return Verification{
		IsValid:         verdict.IsValid,
		Confidence:      combineConfidence(verdict.Confidence, citationCheck),
		Reasoning:       verdict.Reasoning,
		CitationCheck:   citationCheck,
		LLMVerification: LLMVerifyCompleted,
	}
}

// ExtractCitations pulls citation values from an answer in pattern
// order, keeping the first occurrence of each distinct value.
func (v *Verifier) ExtractCitations(answer string) []string {
	seen := make(map[string]struct{})
	var citations []string

	for _, re := range v.patterns {
		for _, m := range re.FindAllStringSubmatch(answer, -1) {
			value := m[0]
			if len(m) > 1 && m[1] != "" {
				value = m[1]
			}
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			citations = append(citations, value)
		}
	}
	return citations
}

// CitationExists reports whether a cited value is supported by the
// chunk set. A numeric citation matches a page number, a number inside
// a chunk ID, or a small positional reference; a non-numeric citation
// matches as a case-insensitive substring of the chunk texts.
func (v *Verifier) CitationExists(citation string, chunks []*Hit) bool {
	digits := keepDigits(citation)
	if digits != "" {
		value, err := strconv.Atoi(digits)
		if err == nil {
			for _, h := range chunks {
				if h.Chunk.PageNumber == value {
					return true
				}
			}
			for _, h := range chunks {
				if chunkIDContainsNumber(h.Chunk.ID, value) {
					return true
				}
			}
			if value >= 1 && value <= maxPositionalCitation && len(chunks) >= value {
				return true
			}
			return false
		}
	}

	needle := strings.ToUpper(citation)
	for _, h := range chunks {
		if strings.Contains(strings.ToUpper(h.Chunk.Text), needle) {
			return true
		}
	}
	return false
}

// VerifyWithLLM asks the quality model whether the answer is grounded
// in the chunks. At most verifyChunkLimit chunks are shown, each
// truncated. A response that cannot be parsed counts as a lenient pass
// at reduced confidence.
func (v *Verifier) VerifyWithLLM(ctx context.Context, answer string, chunks []*Hit, question string) (Verdict, error) {
	if v.gateway == nil {
		return Verdict{}, fmt.Errorf("%w: llm gateway", ErrNilDependency)
	}

	shown := chunks
	if len(shown) > verifyChunkLimit {
		shown = shown[:verifyChunkLimit]
	}

	var b strings.Builder
	for i, h := range shown {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, snippet(h.Chunk.Text, verifySnippetRunes))
	}

	resp, err := v.gateway.Chat(ctx, llm.ChatRequest{
		Model:       v.cfg.Model,
		User:        fmt.Sprintf(verifyPromptTemplate, question, answer, b.String()),
		Temperature: 0,
		MaxTokens:   400,
	})
	if err != nil {
		return Verdict{}, err
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &verdict); err != nil {
		slog.Debug("verification response not json", "error", err)
		return Verdict{IsValid: true, Confidence: 0.6, Reasoning: "parse_failed"}, nil
	}
	return verdict, nil
}

// combineConfidence adjusts the model confidence by the citation
// outcome: verified citations add a bonus, broken ones cap the result,
// a citation-free answer pays a small penalty. Two-decimal rounding.
func combineConfidence(llmConfidence float64, citationCheck string) float64 {
	c := llmConfidence
	switch citationCheck {
	case CitationPassed:
		c = math.Min(1.0, c+0.10)
	case CitationFailed:
		c = math.Min(c, 0.30)
	case CitationNone:
		c = math.Max(0.0, c-0.05)
	}
	return math.Round(c*100) / 100
}

var digitRun = regexp.MustCompile(`\d+`)

// chunkIDContainsNumber reports whether any digit run in the chunk ID
// equals the cited number.
func chunkIDContainsNumber(id string, value int) bool {
	for _, run := range digitRun.FindAllString(id, -1) {
		if n, err := strconv.Atoi(run); err == nil && n == value {
			return true
		}
	}
	return false
}

// keepDigits strips everything but ASCII digits.
func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
