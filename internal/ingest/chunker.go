package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunking defaults, in runes. CJK text carries far more content per
// rune than per token, so budgets here are character counts.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

var headingPattern = regexp.MustCompile(`^#{1,6}\s+`)

// ChunkText packs paragraphs into chunks of at most size runes,
// carrying the last overlap runes of each chunk into the next. A
// paragraph that alone exceeds the budget is hard-split with the same
// overlap.
func ChunkText(text string, size, overlap int) []string {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	var current strings.Builder
	currentRunes := 0
	carried := 0

	// emit closes the current chunk and seeds the next with its tail.
	// A chunk holding nothing beyond the carried tail is not emitted.
	emit := func() {
		if currentRunes <= carried {
			return
		}
		chunk := current.String()
		chunks = append(chunks, chunk)
		current.Reset()
		currentRunes, carried = 0, 0
		if overlap > 0 {
			tail := tailRunes(chunk, overlap)
			current.WriteString(tail)
			currentRunes = utf8.RuneCountInString(tail)
			carried = currentRunes
		}
	}

	for _, p := range paragraphs {
		n := utf8.RuneCountInString(p)

		if n >= size {
			emit()
			// An oversized paragraph stands alone; any seeded tail
			// would push its pieces past the budget.
			current.Reset()
			currentRunes, carried = 0, 0
			chunks = append(chunks, hardSplit(p, size, overlap)...)
			continue
		}

		if currentRunes > 0 && currentRunes+2+n > size {
			emit()
			if currentRunes > 0 && currentRunes+2+n > size {
				current.Reset()
				currentRunes, carried = 0, 0
			}
		}
		if currentRunes > 0 {
			current.WriteString("\n\n")
			currentRunes += 2
		}
		current.WriteString(p)
		currentRunes += n
	}
	emit()

	return chunks
}

// ChunkMarkdown splits on headings into sections, each chunked like
// plain text. Heading lines inside fenced code blocks do not start a
// section.
func ChunkMarkdown(text string, size, overlap int) []string {
	var sections []string
	var lines []string
	flush := func() {
		if len(lines) > 0 {
			sections = append(sections, strings.Join(lines, "\n"))
			lines = nil
		}
	}

	inFence := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence && headingPattern.MatchString(line) {
			flush()
		}
		lines = append(lines, line)
	}
	flush()

	var chunks []string
	for _, section := range sections {
		chunks = append(chunks, ChunkText(section, size, overlap)...)
	}
	return chunks
}

// splitParagraphs splits text into blank-line separated blocks,
// dropping empty ones.
func splitParagraphs(text string) []string {
	var paragraphs []string
	var block []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(block) > 0 {
				paragraphs = append(paragraphs, strings.Join(block, "\n"))
				block = nil
			}
			continue
		}
		block = append(block, strings.TrimRight(line, " \t"))
	}
	if len(block) > 0 {
		paragraphs = append(paragraphs, strings.Join(block, "\n"))
	}
	return paragraphs
}

// hardSplit cuts text into size-rune windows advancing by size-overlap.
func hardSplit(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var parts []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return parts
}

// tailRunes returns the last n runes of s.
func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
