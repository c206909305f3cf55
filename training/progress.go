package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ProgressBar renders single-line progress with optional metric
// readouts, in the style of tqdm.
type ProgressBar struct {
	total     int
	current   int
	width     int
	startTime time.Time
	writer    io.Writer
	prefix    string
}

// NewProgressBar creates a bar that counts up to total.
func NewProgressBar(prefix string, total int) *ProgressBar {
	return &ProgressBar{
		total:     total,
		width:     30,
		startTime: time.Now(),
		writer:    os.Stdout,
		prefix:    prefix,
	}
}

// SetWriter redirects output, mainly for tests.
func (pb *ProgressBar) SetWriter(w io.Writer) { pb.writer = w }

// Update redraws the bar at the given position. Metrics render in key
// order so repeated updates line up.
func (pb *ProgressBar) Update(current int, metricValues map[string]float64) {
	pb.current = current
	filled := 0
	if pb.total > 0 {
		filled = pb.width * current / pb.total
	}
	if filled > pb.width {
		filled = pb.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.width-filled)

	var sb strings.Builder
	fmt.Fprintf(&sb, "\r%s [%s] %d/%d", pb.prefix, bar, current, pb.total)

	keys := make([]string, 0, len(metricValues))
	for k := range metricValues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%.4f", k, metricValues[k])
	}

	if current > 0 && pb.total > 0 {
		elapsed := time.Since(pb.startTime)
		remaining := time.Duration(float64(elapsed) / float64(current) * float64(pb.total-current))
		fmt.Fprintf(&sb, " [%s<%s]", formatDuration(elapsed), formatDuration(remaining))
	}
	fmt.Fprint(pb.writer, sb.String())
}

// Finish completes the bar and moves to the next line.
func (pb *ProgressBar) Finish(metricValues map[string]float64) {
	pb.Update(pb.total, metricValues)
	fmt.Fprintln(pb.writer)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}
