package search

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DocQA-Labs/docrag/internal/llm"
)

// =============================================================================
// Query Analyzer Tests
// =============================================================================
// The fast model answers strict JSON; anything else falls back to the
// scenario marker rules. Library keywords augment the extracted ones,
// the list never exceeds five, and results are cached per normalized
// question.
// =============================================================================

// --- Helpers ---

func analyzerMarkers() AnalyzerConfig {
	return AnalyzerConfig{
		Model:           "qwen-turbo",
		GuidanceMarkers: []string{"如何", "怎么", "怎样", "建议"},
		AnalysisMarkers: []string{"分析", "比较", "评估", "判断"},
	}
}

func newScriptedAnalyzer(t *testing.T, cfg AnalyzerConfig, response string) (*Analyzer, *llm.StaticGateway) {
	t.Helper()
	gw := llm.NewStaticGateway(8)
	if response != "" {
		gw.SetChatFunc(func(ctx context.Context, req llm.ChatRequest) (string, error) {
			return response, nil
		})
	}
	analyzer, err := NewAnalyzer(gw, cfg)
	require.NoError(t, err)
	return analyzer, gw
}

// --- Tests ---

func TestAnalyzer_ParsesModelResponse(t *testing.T) {
	// Given: a model that answers well-formed JSON
	var mu sync.Mutex
	var captured llm.ChatRequest
	gw := llm.NewStaticGateway(8)
	gw.SetChatFunc(func(ctx context.Context, req llm.ChatRequest) (string, error) {
		mu.Lock()
		captured = req
		mu.Unlock()
		return `{"question_type":"analysis","keywords":["预算","执行率"],"difficulty":"complex","category":"财务"}`, nil
	})
	analyzer, err := NewAnalyzer(gw, analyzerMarkers())
	require.NoError(t, err)

	// When: analyzing
	analysis := analyzer.Analyze(context.Background(), "对比分析各部门的预算执行率")

	// Then: the model's verdict is returned as-is
	assert.Equal(t, QuestionAnalysis, analysis.QuestionType)
	assert.Equal(t, []string{"预算", "执行率"}, analysis.Keywords)
	assert.Equal(t, DifficultyComplex, analysis.Difficulty)
	assert.Equal(t, "财务", analysis.Category)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "qwen-turbo", captured.Model)
	assert.Equal(t, 500, captured.MaxTokens)
	assert.Zero(t, captured.Temperature)
	assert.Contains(t, captured.User, "对比分析各部门的预算执行率")
}

func TestAnalyzer_FallsBackOnNonJSON(t *testing.T) {
	// Given: the default offline notice, which is not JSON
	analyzer, _ := newScriptedAnalyzer(t, analyzerMarkers(), "")

	// When: analyzing a guidance-flavored question
	analysis := analyzer.Analyze(context.Background(), "如何申请差旅报销？")

	// Then: the marker rules classify it
	assert.Equal(t, QuestionGuidance, analysis.QuestionType)
	assert.Equal(t, DifficultySimple, analysis.Difficulty)
	assert.Equal(t, "通用", analysis.Category)
	assert.Empty(t, analysis.Keywords)
}

func TestAnalyzer_FallsBackOnSchemaViolation(t *testing.T) {
	// Given: valid JSON with an unknown question type
	analyzer, _ := newScriptedAnalyzer(t, analyzerMarkers(),
		`{"question_type":"chitchat","keywords":["文件"],"difficulty":"simple","category":"闲聊"}`)

	// When: analyzing
	analysis := analyzer.Analyze(context.Background(), "这份文件的发布时间")

	// Then: the rules take over entirely
	assert.Equal(t, QuestionFact, analysis.QuestionType)
	assert.Equal(t, "通用", analysis.Category)
}

func TestAnalyzer_MarkerClassification(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"怎么处理发票丢失", QuestionGuidance},
		{"请比较两种报销方式的适用范围与审批要求有何不同", QuestionAnalysis},
		{"差旅费的报销上限", QuestionFact},
	}

	analyzer, _ := newScriptedAnalyzer(t, analyzerMarkers(), "")
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			analysis := analyzer.Analyze(context.Background(), tt.question)
			assert.Equal(t, tt.want, analysis.QuestionType, "question=%q", tt.question)
		})
	}
}

func TestAnalyzer_DifficultyByLength(t *testing.T) {
	// Given: rule-based analysis of a short, a medium and a long question
	analyzer, _ := newScriptedAnalyzer(t, analyzerMarkers(), "")

	short := analyzer.Analyze(context.Background(), "报销上限")
	medium := analyzer.Analyze(context.Background(), "出差住宿的报销上限在不同城市有区别吗")
	long := analyzer.Analyze(context.Background(),
		"公司最新发布的差旅管理制度中对一线城市与二线城市的住宿费用上限分别规定了怎样的执行标准和例外情形")

	// Then: rune count grades the difficulty
	assert.Equal(t, DifficultySimple, short.Difficulty)
	assert.Equal(t, DifficultyMedium, medium.Difficulty)
	assert.Equal(t, DifficultyComplex, long.Difficulty)
}

func TestAnalyzer_KeywordLibraryAugments(t *testing.T) {
	// Given: extracted keywords plus a library with two matching words
	cfg := analyzerMarkers()
	cfg.KeywordLibrary = map[string][]string{
		"审批": {"审批流程"},
		"票据": {"发票", "收据"},
	}
	analyzer, _ := newScriptedAnalyzer(t, cfg,
		`{"question_type":"fact","keywords":["报销"],"difficulty":"simple","category":"财务"}`)

	// When: analyzing a question that mentions two library words
	analysis := analyzer.Analyze(context.Background(), "发票丢了走审批流程还能报销吗")

	// Then: matches are appended after the extracted keyword, in
	// sorted category order
	assert.Equal(t, []string{"报销", "审批流程", "发票"}, analysis.Keywords)
}

func TestAnalyzer_KeywordCapAtFive(t *testing.T) {
	// Given: a model that extracts seven keywords
	analyzer, _ := newScriptedAnalyzer(t, analyzerMarkers(),
		`{"question_type":"fact","keywords":["一","二","三","四","五","六","七"],"difficulty":"simple","category":"测试"}`)

	// When: analyzing
	analysis := analyzer.Analyze(context.Background(), "列出全部分类")

	// Then: the list is capped
	assert.Equal(t, []string{"一", "二", "三", "四", "五"}, analysis.Keywords)
}

func TestAnalyzer_LibraryWordNotDuplicated(t *testing.T) {
	// Given: the extracted keyword is also a library word
	cfg := analyzerMarkers()
	cfg.KeywordLibrary = map[string][]string{"票据": {"发票"}}
	analyzer, _ := newScriptedAnalyzer(t, cfg,
		`{"question_type":"fact","keywords":["发票"],"difficulty":"simple","category":"财务"}`)

	// When: analyzing
	analysis := analyzer.Analyze(context.Background(), "发票抬头写错了")

	// Then: it appears once
	assert.Equal(t, []string{"发票"}, analysis.Keywords)
}

func TestAnalyzer_CachesNormalizedQuestion(t *testing.T) {
	// Given: a counting model
	analyzer, gw := newScriptedAnalyzer(t, analyzerMarkers(),
		`{"question_type":"fact","keywords":["预算"],"difficulty":"simple","category":"财务"}`)

	// When: asking the same question with different surrounding space
	first := analyzer.Analyze(context.Background(), "预算执行情况")
	second := analyzer.Analyze(context.Background(), "  预算执行情况  ")

	// Then: one model call served both
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), gw.ChatCalls())
}

func TestAnalyzer_NilGatewayUsesRules(t *testing.T) {
	analyzer, err := NewAnalyzer(nil, analyzerMarkers())
	require.NoError(t, err)

	analysis := analyzer.Analyze(context.Background(), "差旅补贴标准")

	assert.Equal(t, QuestionFact, analysis.QuestionType)
}
