package namespace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveDescriptor persists a descriptor to path, creating the metadata
// directory if needed. Uses atomic write (temp file + rename).
func SaveDescriptor(path string, d *Descriptor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save descriptor: %w", err)
	}
	return nil
}

// LoadDescriptor reads a descriptor from path. Returns os.ErrNotExist
// (wrapped) when no descriptor has been written yet.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor: %w", err)
	}
	return &d, nil
}

// CalculateDirSize returns the total size of all files under dir.
// A nonexistent directory counts as zero, not an error.
func CalculateDirSize(dir string) (int64, error) {
	var size int64

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Skip inaccessible entries.
			return nil
		}
		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			size += info.Size()
		}
		return nil
	})

	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return size, nil
}
