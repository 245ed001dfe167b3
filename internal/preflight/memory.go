package preflight

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MinMemoryBytes is the minimum recommended available memory (1GB).
const MinMemoryBytes = 1 * 1024 * 1024 * 1024

// CheckMemory checks if there's sufficient memory available. BM25 and
// vector indices for a loaded namespace live entirely in memory, so a
// constrained host fails before the first prepare does.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{
		Name:     "memory",
		Required: true,
	}

	available, err := availableMemory()
	if err != nil {
		// Cannot read meminfo (non-Linux or restricted /proc). Warn
		// instead of failing on an unreadable signal.
		result.Status = StatusWarn
		result.Required = false
		result.Message = fmt.Sprintf("unable to determine available memory: %v", err)
		return result
	}

	if available < MinMemoryBytes {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(available))
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(available))
	return result
}

// availableMemory reads MemAvailable from /proc/meminfo.
func availableMemory() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse MemAvailable: %w", err)
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("MemAvailable not found in /proc/meminfo")
}
