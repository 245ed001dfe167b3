package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStyles_RenderKeepsText(t *testing.T) {
	// Given: the colored style set
	styles := DefaultStyles()

	// Then: every style renders its input text, whatever ANSI the
	// terminal profile adds around it
	for name, s := range map[string]interface{ Render(...string) string }{
		"header":   styles.Header,
		"success":  styles.Success,
		"warning":  styles.Warning,
		"error":    styles.Error,
		"dim":      styles.Dim,
		"stage":    styles.Stage,
		"active":   styles.Active,
		"progress": styles.Progress,
		"speed":    styles.Speed,
		"label":    styles.Label,
	} {
		assert.Contains(t, s.Render("prepare"), "prepare", name)
	}
}

func TestStyles_StageMarkers(t *testing.T) {
	// The stage row uses filled and hollow dots for done/pending.
	styles := DefaultStyles()

	assert.Contains(t, styles.Active.Render("●"), "●")
	assert.Contains(t, styles.Dim.Render("○"), "○")
}

func TestGetStyles_NoColorIsPassthrough(t *testing.T) {
	// When: color is disabled
	styles := GetStyles(true)

	// Then: rendering adds no escape sequences at all
	assert.Equal(t, "3 chunks/sec", styles.Speed.Render("3 chunks/sec"))
	assert.Equal(t, "✓ done", styles.Success.Render("✓ done"))
	assert.Equal(t, "throughput ─", styles.Dim.Render("throughput ─"))
}

func TestGetStyles_ColorfulKeepsText(t *testing.T) {
	// When: color is enabled
	styles := GetStyles(false)

	// Then: text survives styling
	assert.Contains(t, styles.Success.Render("indexed"), "indexed")
}
