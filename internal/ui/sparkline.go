package ui

import "strings"

// sparkBlocks are the eight block characters used to draw one sample,
// from near-empty to full height.
var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps a ring buffer of throughput samples and renders them
// as a row of block characters. The prepare TUI feeds it chunks/sec
// readings to show embedding throughput over the last minute.
type Sparkline struct {
	samples []float64
	width   int
	head    int // next write position in the ring
	count   int // total samples ever added
	max     float64
}

// NewSparkline creates a sparkline holding width samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60 // one minute at one sample per second
	}
	return &Sparkline{
		samples: make([]float64, width),
		width:   width,
	}
}

// Add records a sample.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % s.width
	s.count++

	if value > s.max {
		s.max = value
	}
	// Once per full ring, rescan so the scale can come back down after
	// a throughput spike has rotated out of the buffer.
	if s.count%s.width == 0 {
		s.rescanMax()
	}
}

func (s *Sparkline) rescanMax() {
	s.max = 0
	for _, v := range s.samples {
		if v > s.max {
			s.max = v
		}
	}
	if s.max < 1 {
		s.max = 1 // keep the scale sane when all samples are tiny
	}
}

// level maps a sample onto an index into sparkBlocks.
func (s *Sparkline) level(value float64) int {
	if s.max <= 0 {
		return 0
	}
	idx := int(value / s.max * float64(len(sparkBlocks)-1))
	if idx < 0 {
		return 0
	}
	if idx >= len(sparkBlocks) {
		return len(sparkBlocks) - 1
	}
	return idx
}

// Render returns the sparkline at its full width, oldest sample first.
// Positions not yet filled render as spaces.
func (s *Sparkline) Render() string {
	return s.RenderWithWidth(s.width)
}

// RenderWithWidth renders the most recent samples at the given width.
// Used when the terminal is narrower than the buffer.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 || width > s.width {
		width = s.width
	}
	if s.count == 0 {
		return strings.Repeat(string(sparkBlocks[0]), width)
	}
	if s.max <= 0 {
		s.rescanMax()
	}

	filled := s.count
	if filled > s.width {
		filled = s.width
	}
	// Oldest retained sample. Before the ring wraps the buffer starts
	// at zero; after that the head points at the oldest entry.
	start := 0
	if s.count >= s.width {
		start = s.head
	}
	// Skip older samples that don't fit into the requested width.
	skip := 0
	if filled > width {
		skip = filled - width
	}

	var sb strings.Builder
	sb.Grow(width * 3) // block characters are 3 bytes in UTF-8

	drawn := 0
	for i := skip; i < filled && drawn < width; i++ {
		v := s.samples[(start+i)%s.width]
		sb.WriteRune(sparkBlocks[s.level(v)])
		drawn++
	}
	for drawn < width {
		sb.WriteRune(' ')
		drawn++
	}
	return sb.String()
}

// Clear resets the buffer and the scale.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
	s.max = 0
}

// Count returns the number of samples added since creation or Clear.
func (s *Sparkline) Count() int { return s.count }

// Max returns the current scale maximum.
func (s *Sparkline) Max() float64 { return s.max }
