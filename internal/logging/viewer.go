package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxLineBytes bounds a single scanned log line. Retrieval debug
// lines can carry whole chunk bodies, so the default scanner buffer
// is not enough.
const maxLineBytes = 1024 * 1024

// followInterval is how often a follower polls for appended lines.
const followInterval = 100 * time.Millisecond

// LogEntry is one parsed JSON log line.
type LogEntry struct {
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Msg     string                 `json:"msg"`
	Source  string                 `json:"source"`
	Attrs   map[string]interface{} `json:"-"`
	Raw     string                 `json:"-"`
	IsValid bool                   `json:"-"`
}

// ViewerConfig configures filtering and rendering.
type ViewerConfig struct {
	// Level drops entries below this level when set.
	Level string
	// Pattern drops raw lines that do not match when set.
	Pattern *regexp.Regexp
	// NoColor disables ANSI escapes.
	NoColor bool
	// ShowSource prefixes each line with its [source] label, used
	// when server and daemon logs are viewed together.
	ShowSource bool
}

// Viewer tails, follows, filters and renders JSON log files.
type Viewer struct {
	config ViewerConfig
	out    io.Writer
}

// NewViewer builds a viewer writing rendered entries to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{config: cfg, out: out}
}

// Tail returns the filtered entries among the last n lines of one
// log file.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	lines, err := tailLines(path, n)
	if err != nil {
		return nil, err
	}

	var entries []LogEntry
	for _, line := range lines {
		if entry := v.parseLine(line); v.matchesFilter(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// TailMultiple merges the last n lines of several log files into one
// timeline ordered by timestamp, then keeps the newest n entries.
// Files that cannot be read are skipped so one missing log never
// hides the others.
func (v *Viewer) TailMultiple(paths []string, n int) ([]LogEntry, error) {
	var merged []LogEntry
	for _, path := range paths {
		lines, err := tailLines(path, n)
		if err != nil {
			continue
		}
		source := sourceFromPath(path)
		for _, line := range lines {
			entry := v.parseLineWithSource(line, source)
			if v.matchesFilter(entry) {
				merged = append(merged, entry)
			}
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})
	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}
	return merged, nil
}

// Follow streams entries appended to one log file until the context
// ends.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- LogEntry) error {
	return v.followInto(ctx, path, "", entries)
}

// FollowMultiple streams entries appended to several log files, each
// labeled with the source derived from its filename. It returns once
// the context ends.
func (v *Viewer) FollowMultiple(ctx context.Context, paths []string, entries chan<- LogEntry) error {
	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_ = v.followInto(ctx, p, sourceFromPath(p), entries)
		}(path)
	}

	wg.Wait()
	return nil
}

// followInto seeks to the end of path and polls for new lines,
// sending filtered entries on the channel.
func (v *Viewer) followInto(ctx context.Context, path, source string, entries chan<- LogEntry) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if done := v.drainNewLines(ctx, reader, source, entries); done {
				return nil
			}
		}
	}
}

// drainNewLines forwards every complete line the reader has buffered.
// It reports true once the context is cancelled mid-send.
func (v *Viewer) drainNewLines(ctx context.Context, reader *bufio.Reader, source string, entries chan<- LogEntry) bool {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// No complete line yet; the next tick retries.
			return false
		}

		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			continue
		}

		entry := v.parseLineWithSource(line, source)
		if !v.matchesFilter(entry) {
			continue
		}
		select {
		case entries <- entry:
		case <-ctx.Done():
			return true
		}
	}
}

// Print renders entries to the viewer's output.
func (v *Viewer) Print(entries []LogEntry) {
	for _, entry := range entries {
		_, _ = fmt.Fprintln(v.out, v.FormatEntry(entry))
	}
}

// FormatEntry renders one entry as "time LEVEL [source] msg k=v ...".
// Attributes print in key order so repeated runs compare cleanly;
// unparseable lines pass through raw.
func (v *Viewer) FormatEntry(entry LogEntry) string {
	if !entry.IsValid {
		return entry.Raw
	}

	var b strings.Builder
	b.WriteString(entry.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(v.formatLevel(entry.Level))
	b.WriteByte(' ')
	if v.config.ShowSource && entry.Source != "" {
		b.WriteString(v.formatSource(entry.Source))
		b.WriteByte(' ')
	}
	b.WriteString(entry.Msg)

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Attrs[k])
	}
	return b.String()
}

// ANSI escapes for rendered levels and source labels.
const (
	ansiReset   = "\033[0m"
	ansiRed     = "\033[31m"
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiMagenta = "\033[35m"
	ansiCyan    = "\033[36m"
	ansiGray    = "\033[90m"
)

func (v *Viewer) formatLevel(level string) string {
	label := strings.ToUpper(level)
	if len(label) > 5 {
		label = label[:5]
	}
	label = fmt.Sprintf("%-5s", label)
	if v.config.NoColor {
		return label
	}

	switch strings.ToLower(level) {
	case "debug":
		return ansiGray + label + ansiReset
	case "info":
		return ansiGreen + label + ansiReset
	case "warn", "warning":
		return ansiYellow + label + ansiReset
	case "error":
		return ansiRed + label + ansiReset
	default:
		return label
	}
}

func (v *Viewer) formatSource(source string) string {
	label := "[" + source + "]"
	if v.config.NoColor {
		return label
	}

	switch source {
	case "server":
		return ansiCyan + label + ansiReset
	case "daemon":
		return ansiMagenta + label + ansiReset
	default:
		return ansiGray + label + ansiReset
	}
}

// parseLine decodes one JSON log line. Anything that is not valid
// JSON comes back with IsValid=false and the original text in Raw.
func (v *Viewer) parseLine(line string) LogEntry {
	entry := LogEntry{Raw: line}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return entry
	}
	entry.IsValid = true

	if t, ok := data["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			entry.Time = parsed
		}
	}
	entry.Level, _ = data["level"].(string)
	entry.Msg, _ = data["msg"].(string)
	entry.Source, _ = data["source"].(string)

	entry.Attrs = make(map[string]interface{})
	for k, val := range data {
		switch k {
		case "time", "level", "msg", "source":
		default:
			entry.Attrs[k] = val
		}
	}
	return entry
}

// parseLineWithSource parses a line, labeling it with defaultSource
// when the line itself carries none.
func (v *Viewer) parseLineWithSource(line, defaultSource string) LogEntry {
	entry := v.parseLine(line)
	if entry.Source == "" {
		entry.Source = defaultSource
	}
	return entry
}

// matchesFilter applies the level floor and the raw-line pattern.
func (v *Viewer) matchesFilter(entry LogEntry) bool {
	if v.config.Level != "" {
		if LevelFromString(entry.Level) < LevelFromString(v.config.Level) {
			return false
		}
	}
	if v.config.Pattern != nil && !v.config.Pattern.MatchString(entry.Raw) {
		return false
	}
	return true
}

// tailLines returns the last n lines of a file.
func tailLines(path string, n int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, maxLineBytes), maxLineBytes)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// sourceFromPath maps a log filename to its source label.
func sourceFromPath(path string) string {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "daemon"):
		return "daemon"
	case strings.HasPrefix(base, "server"):
		return "server"
	default:
		return "unknown"
	}
}
