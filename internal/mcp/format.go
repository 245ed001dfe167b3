package mcp

import (
	"fmt"
	"strings"

	"github.com/DocQA-Labs/docrag/internal/rag"
)

// sourceExcerptLen bounds the chunk text echoed on tool responses.
const sourceExcerptLen = 200

// FormatAnswer renders an answer record as markdown for clients that
// prefer text content over the structured output.
func FormatAnswer(record *rag.AnswerRecord) string {
	if record == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(record.Answer)
	sb.WriteString("\n\n---\n")

	if record.Mode == rag.ModePureLLM {
		sb.WriteString("**Mode:** pure LLM (no document grounding)\n")
	} else {
		sb.WriteString("**Mode:** RAG\n")
	}
	fmt.Fprintf(&sb, "**Confidence:** %.2f\n", record.Confidence)

	if len(record.RelevantPages) > 0 {
		pages := make([]string, 0, len(record.RelevantPages))
		for _, p := range record.RelevantPages {
			pages = append(pages, fmt.Sprintf("%d", p))
		}
		fmt.Fprintf(&sb, "**Pages:** %s\n", strings.Join(pages, ", "))
	}

	if len(record.SourceChunks) > 0 {
		sb.WriteString("\n**Sources:**\n")
		for i, c := range record.SourceChunks {
			if c.PageNumber > 0 {
				fmt.Fprintf(&sb, "%d. `%s` (page %d): %s\n", i+1, c.ChunkID, c.PageNumber, excerpt(c.Text))
			} else {
				fmt.Fprintf(&sb, "%d. `%s`: %s\n", i+1, c.ChunkID, excerpt(c.Text))
			}
		}
	}

	return sb.String()
}

// ToAskOutput flattens an answer record into the ask tool's output shape.
func ToAskOutput(record *rag.AnswerRecord) AskOutput {
	out := AskOutput{
		Answer:        record.Answer,
		Mode:          record.Mode,
		Confidence:    record.Confidence,
		RelevantPages: record.RelevantPages,
		Reasoning:     record.Reasoning,
		Verified:      record.Verification.IsValid,
		ElapsedMs:     record.ProcessingTimeMs,
	}
	for _, c := range record.SourceChunks {
		out.Sources = append(out.Sources, Source{
			ChunkID:    c.ChunkID,
			FileID:     c.FileID,
			PageNumber: c.PageNumber,
			Score:      c.Score,
			Excerpt:    excerpt(c.Text),
		})
	}
	return out
}

// excerpt truncates chunk text by rune so CJK content is not cut
// mid-character.
func excerpt(text string) string {
	runes := []rune(text)
	if len(runes) <= sourceExcerptLen {
		return text
	}
	return string(runes[:sourceExcerptLen]) + "…"
}
