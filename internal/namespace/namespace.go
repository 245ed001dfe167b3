// Package namespace manages per-tenant, per-scenario index bundles.
// A namespace is the isolation unit of the whole system: every index
// file, cache entry, and descriptor lives under its (tenant, scenario)
// pair, and nothing here ever reads across that boundary.
package namespace

import (
	"fmt"
	"strings"
	"time"

	"github.com/DocQA-Labs/docrag/internal/validation"
	"github.com/DocQA-Labs/docrag/pkg/version"
)

// ID names one namespace.
type ID struct {
	Tenant   string `json:"tenant"`
	Scenario string `json:"scenario"`
}

// NewID validates the pair and returns the namespace identity.
func NewID(tenant, scenario string) (ID, error) {
	if err := validation.Namespace(tenant, scenario); err != nil {
		return ID{}, err
	}
	return ID{Tenant: tenant, Scenario: scenario}, nil
}

// ParseID parses the "tenant/scenario" form used by the CLI.
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return ID{}, fmt.Errorf("namespace must be tenant/scenario, got %q", s)
	}
	return NewID(parts[0], parts[1])
}

// String returns the "tenant/scenario" form.
func (id ID) String() string {
	return id.Tenant + "/" + id.Scenario
}

// Descriptor is the persisted record of one namespace.
type Descriptor struct {
	// Tenant and Scenario identify the namespace.
	Tenant   string `json:"tenant"`
	Scenario string `json:"scenario"`

	// CreatedAt is when the namespace was first prepared.
	CreatedAt time.Time `json:"created_at"`

	// LastUsed is when the namespace last served a question or rebuild.
	LastUsed time.Time `json:"last_used"`

	// Version is the release that last wrote this descriptor.
	Version string `json:"version"`

	// IndexStats summarizes the indexed content.
	IndexStats IndexStats `json:"index_stats"`
}

// IndexStats summarizes the indexed content of a namespace.
type IndexStats struct {
	// FileCount is the number of indexed documents.
	FileCount int `json:"file_count"`

	// ChunkCount is the number of chunks across all documents.
	ChunkCount int `json:"chunk_count"`

	// LastIndexed is when the indices were last rebuilt.
	LastIndexed time.Time `json:"last_indexed"`
}

// NewDescriptor creates a descriptor for a freshly prepared namespace.
func NewDescriptor(id ID) *Descriptor {
	now := time.Now()
	return &Descriptor{
		Tenant:    id.Tenant,
		Scenario:  id.Scenario,
		CreatedAt: now,
		LastUsed:  now,
		Version:   version.Version,
	}
}

// ID returns the namespace identity of the descriptor.
func (d *Descriptor) ID() ID {
	return ID{Tenant: d.Tenant, Scenario: d.Scenario}
}

// Touch updates the LastUsed timestamp to now.
func (d *Descriptor) Touch() {
	d.LastUsed = time.Now()
}

// UpdateIndexStats records the outcome of an index rebuild.
func (d *Descriptor) UpdateIndexStats(fileCount, chunkCount int) {
	d.IndexStats.FileCount = fileCount
	d.IndexStats.ChunkCount = chunkCount
	d.IndexStats.LastIndexed = time.Now()
	d.Version = version.Version
}

// IsStale reports whether the namespace has been unused for longer
// than maxAge.
func (d *Descriptor) IsStale(maxAge time.Duration) bool {
	return time.Since(d.LastUsed) > maxAge
}

// Info is the listing summary of one namespace.
type Info struct {
	// ID identifies the namespace.
	ID ID `json:"id"`

	// LastUsed is taken from the descriptor; zero when none exists.
	LastUsed time.Time `json:"last_used"`

	// Files and Chunks come from the descriptor when present,
	// otherwise Files is counted from disk.
	Files  int `json:"files"`
	Chunks int `json:"chunks"`

	// SizeBytes is the on-disk footprint of the index trees.
	SizeBytes int64 `json:"size_bytes"`

	// Indexed reports whether any index files exist on disk.
	Indexed bool `json:"indexed"`
}
