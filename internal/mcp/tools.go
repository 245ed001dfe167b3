package mcp

import "github.com/DocQA-Labs/docrag/internal/rag"

// AskInput defines the input schema for the ask tool.
type AskInput struct {
	Tenant       string `json:"tenant" jsonschema:"tenant identifier selecting the namespace"`
	Scenario     string `json:"scenario" jsonschema:"scenario identifier selecting the namespace"`
	Question     string `json:"question" jsonschema:"the natural-language question to answer"`
	QuestionType string `json:"question_type,omitempty" jsonschema:"pin the question type: fact, analysis or guidance"`
}

// AskOutput defines the output schema for the ask tool.
type AskOutput struct {
	Answer        string   `json:"answer" jsonschema:"the generated answer text"`
	Mode          string   `json:"mode" jsonschema:"rag when grounded in documents, pure_llm otherwise"`
	Confidence    float64  `json:"confidence" jsonschema:"answer confidence between 0 and 1"`
	RelevantPages []int    `json:"relevant_pages,omitempty" jsonschema:"document pages the answer draws on"`
	Reasoning     string   `json:"reasoning,omitempty" jsonschema:"routing and verification reasoning"`
	Sources       []Source `json:"sources,omitempty" jsonschema:"source chunks the answer is grounded on"`
	Verified      bool     `json:"verified" jsonschema:"true when the answer passed citation and LLM verification"`
	ElapsedMs     int64    `json:"elapsed_ms" jsonschema:"processing time in milliseconds"`
}

// Source is one grounding chunk on an ask response. The text is
// truncated server-side; use the chunk id against namespace resources
// for the full passage.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	FileID     string  `json:"file_id"`
	PageNumber int     `json:"page_number,omitempty"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt"`
}

// PrepareInput defines the input schema for the prepare_namespace tool.
type PrepareInput struct {
	Tenant   string `json:"tenant" jsonschema:"tenant identifier selecting the namespace"`
	Scenario string `json:"scenario" jsonschema:"scenario identifier selecting the namespace"`
	Force    bool   `json:"force,omitempty" jsonschema:"rebuild indices even when they already exist"`
}

// PrepareOutput defines the output schema for the prepare_namespace tool.
type PrepareOutput struct {
	Namespace   string `json:"namespace"`
	Parsed      int    `json:"parsed"`
	Indexed     int    `json:"indexed"`
	Chunks      int    `json:"chunks"`
	Warnings    int    `json:"warnings,omitempty"`
	TotalTimeMs int64  `json:"total_time_ms"`
}

// StatusInput defines the input schema for the namespace_status tool.
type StatusInput struct {
	Tenant   string `json:"tenant" jsonschema:"tenant identifier selecting the namespace"`
	Scenario string `json:"scenario" jsonschema:"scenario identifier selecting the namespace"`
}

// StatusOutput defines the output schema for the namespace_status tool.
type StatusOutput struct {
	Report    *rag.StatusReport `json:"report"`
	Embedding EmbeddingInfo     `json:"embedding"`
}

// EmbeddingInfo describes the live embedding configuration. Clients can
// use it to tell whether semantic retrieval is backed by a real provider
// or the offline static stand-in.
type EmbeddingInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"`
}
