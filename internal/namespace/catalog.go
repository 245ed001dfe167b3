package namespace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	ragerr "github.com/DocQA-Labs/docrag/internal/errors"
)

// Catalog lists and administers the namespaces present on disk.
type Catalog struct {
	layout Layout
}

// NewCatalog builds a catalog over the given layout.
func NewCatalog(layout Layout) *Catalog {
	return &Catalog{layout: layout}
}

// List returns every namespace with any on-disk presence, sorted by
// tenant then scenario. A namespace without a descriptor (mid-build,
// or written by an older release) appears with disk-derived counts.
func (c *Catalog) List() ([]Info, error) {
	ids := map[ID]struct{}{}
	for _, root := range []string{c.layout.MetaRoot, c.layout.VectorRoot, c.layout.KeywordRoot} {
		if err := collectNamespaces(root, ids); err != nil {
			return nil, err
		}
	}

	infos := make([]Info, 0, len(ids))
	for id := range ids {
		infos = append(infos, c.describe(id))
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ID.Tenant != infos[j].ID.Tenant {
			return infos[i].ID.Tenant < infos[j].ID.Tenant
		}
		return infos[i].ID.Scenario < infos[j].ID.Scenario
	})
	return infos, nil
}

// Get loads the descriptor of a namespace.
func (c *Catalog) Get(id ID) (*Descriptor, error) {
	d, err := LoadDescriptor(c.layout.DescriptorPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ragerr.New(ragerr.ErrCodeNamespaceUnknown,
				fmt.Sprintf("namespace %s has no descriptor", id), nil)
		}
		return nil, err
	}
	return d, nil
}

// Exists reports whether the namespace has any on-disk presence.
func (c *Catalog) Exists(id ID) bool {
	for _, p := range []string{
		c.layout.DescriptorPath(id),
		c.layout.VectorDir(id),
		c.layout.KeywordDir(id),
	} {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// Delete removes every trace of a namespace except its source
// documents. Returns ErrNamespaceUnknown when nothing existed.
func (c *Catalog) Delete(id ID) error {
	paths := []string{
		c.layout.VectorDir(id),
		c.layout.KeywordDir(id),
		c.layout.MetaDir(id),
		c.layout.CacheSnapshotPath(id),
	}

	found := false
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			found = true
			break
		}
	}
	if !found {
		return ragerr.New(ragerr.ErrCodeNamespaceUnknown,
			fmt.Sprintf("namespace %s not found", id), nil)
	}

	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}

// Prune deletes namespaces unused for longer than olderThan. Only
// namespaces with a descriptor are considered; age cannot be judged
// without one. Returns the number deleted.
func (c *Catalog) Prune(olderThan time.Duration) (int, error) {
	infos, err := c.List()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, info := range infos {
		if info.LastUsed.IsZero() || time.Since(info.LastUsed) <= olderThan {
			continue
		}
		if err := c.Delete(info.ID); err != nil {
			slog.Warn("namespace prune skipped",
				"namespace", info.ID.String(), "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// describe assembles one listing entry from the descriptor and the
// index trees.
func (c *Catalog) describe(id ID) Info {
	info := Info{ID: id}

	if d, err := LoadDescriptor(c.layout.DescriptorPath(id)); err == nil {
		info.LastUsed = d.LastUsed
		info.Files = d.IndexStats.FileCount
		info.Chunks = d.IndexStats.ChunkCount
	}

	vectorDir := c.layout.VectorDir(id)
	keywordDir := c.layout.KeywordDir(id)

	vSize, _ := CalculateDirSize(vectorDir)
	kSize, _ := CalculateDirSize(keywordDir)
	info.SizeBytes = vSize + kSize

	onDisk := len(discoverVectorFiles(vectorDir))
	if n := len(discoverKeywordFiles(keywordDir)); n > onDisk {
		onDisk = n
	}
	info.Indexed = onDisk > 0
	if info.Files == 0 {
		info.Files = onDisk
	}
	return info
}

// collectNamespaces adds every tenant/scenario directory pair under
// root to ids. A missing root contributes nothing.
func collectNamespaces(root string, ids map[ID]struct{}) error {
	tenants, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", root, err)
	}
	for _, t := range tenants {
		if !t.IsDir() {
			continue
		}
		scenarios, err := os.ReadDir(filepath.Join(root, t.Name()))
		if err != nil {
			continue
		}
		for _, s := range scenarios {
			if !s.IsDir() {
				continue
			}
			ids[ID{Tenant: t.Name(), Scenario: s.Name()}] = struct{}{}
		}
	}
	return nil
}
