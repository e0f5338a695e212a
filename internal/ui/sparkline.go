package ui

import "strings"

// sparkChars are the eight block heights, lowest first.
var sparkChars = []rune("▁▂▃▄▅▆▇█")

// Sparkline keeps the most recent samples in a ring buffer and renders them
// as block characters scaled to the largest retained sample.
type Sparkline struct {
	samples []float64
	next    int
	count   int
}

// NewSparkline creates a sparkline retaining width samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 1
	}
	return &Sparkline{samples: make([]float64, width)}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(v float64) {
	if v < 0 {
		v = 0
	}
	s.samples[s.next] = v
	s.next = (s.next + 1) % len(s.samples)
	s.count++
}

// Len returns the number of retained samples.
func (s *Sparkline) Len() int {
	return min(s.count, len(s.samples))
}

// Clear drops all samples.
func (s *Sparkline) Clear() {
	clear(s.samples)
	s.next = 0
	s.count = 0
}

// recent returns up to n retained samples, oldest first.
func (s *Sparkline) recent(n int) []float64 {
	have := s.Len()
	if n <= 0 || n > have {
		n = have
	}
	out := make([]float64, n)
	start := s.next - n
	for i := range out {
		idx := (start + i + len(s.samples)) % len(s.samples)
		out[i] = s.samples[idx]
	}
	return out
}

// Render draws the newest samples left-padded with spaces to width. A
// non-positive width uses the buffer size.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		width = len(s.samples)
	}
	vals := s.recent(width)

	peak := 0.0
	for _, v := range vals {
		peak = max(peak, v)
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", width-len(vals)))
	for _, v := range vals {
		idx := 0
		if peak > 0 {
			idx = int(v / peak * float64(len(sparkChars)-1))
		}
		sb.WriteRune(sparkChars[idx])
	}
	return sb.String()
}
