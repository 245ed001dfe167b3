package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("🔍", "Checking gateway...")

	// Then: output contains icon and message
	output := buf.String()
	assert.Contains(t, output, "🔍")
	assert.Contains(t, output, "Checking gateway...")
}

func TestWriter_Status_NoIcon_Indents(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing without an icon
	w.Status("", "Namespaces: 2 loaded")

	// Then: the line is indented to align with iconed lines
	assert.Equal(t, "   Namespaces: 2 loaded\n", buf.String())
}

func TestWriter_Success_PrintsCheckmark(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a success message
	w.Success("Namespace prepared!")

	// Then: output contains checkmark and message
	output := buf.String()
	assert.Contains(t, output, "✅")
	assert.Contains(t, output, "Namespace prepared!")
}

func TestWriter_Warning_PrintsWarningIcon(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a warning message
	w.Warning("Gateway not available")

	// Then: output contains warning icon and message
	output := buf.String()
	assert.Contains(t, output, "⚠️")
	assert.Contains(t, output, "Gateway not available")
}

func TestWriter_Error_PrintsErrorIcon(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing an error message
	w.Error("Failed to connect")

	// Then: output contains error icon and message
	output := buf.String()
	assert.Contains(t, output, "❌")
	assert.Contains(t, output, "Failed to connect")
}

func TestWriter_Code_PrintsCodeBlock(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a code block
	code := `{"tenant": "acme"}`
	w.Code(code)

	// Then: output contains the indented code
	output := buf.String()
	assert.Contains(t, output, `  {"tenant": "acme"}`)
}

func TestWriter_Progress_PrintsProgressBar(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing progress at 50%
	w.Progress(50, 100, "Embedding chunks")

	// Then: output contains progress indicator and message
	output := buf.String()
	assert.Contains(t, output, "50%")
	assert.Contains(t, output, "Embedding chunks")
}

func TestWriter_Progress_ZeroTotal_NoOutput(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing progress with zero total
	w.Progress(0, 0, "Processing")

	// Then: nothing is written
	assert.Empty(t, buf.String())
}

func TestWriter_Statusf_FormatsMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a formatted status message
	w.Statusf("📂", "Found %d documents in %s", 42, "acme/support")

	// Then: output contains formatted message
	output := buf.String()
	assert.Contains(t, output, "📂")
	assert.Contains(t, output, "Found 42 documents in acme/support")
}

func TestRenderBar(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		wantFull int // number of filled characters
	}{
		{name: "0 percent", current: 0, total: 100, wantFull: 0},
		{name: "50 percent", current: 50, total: 100, wantFull: 15},
		{name: "100 percent", current: 100, total: 100, wantFull: 30},
		{name: "over 100 percent clamps", current: 150, total: 100, wantFull: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderBar(tt.current, tt.total)

			filled := strings.Count(bar, "█")
			assert.Equal(t, tt.wantFull, filled)

			// Bar is always full width
			assert.Equal(t, progressBarWidth, len([]rune(bar)))
		})
	}
}

func TestWriter_Newline_PrintsEmptyLine(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a newline
	w.Newline()

	// Then: output is just a newline
	assert.Equal(t, "\n", buf.String())
}
