package training

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// ProgressBar renders a single-line training progress display that is
// redrawn in place with a carriage return.
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	showRate    bool
	showETA     bool
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar. A nil writer disables output.
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	if out == nil {
		out = io.Discard
	}
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       30,
		showRate:    true,
		showETA:     true,
		metrics:     make(map[string]float64),
	}
}

// EpochDescription formats the bar prefix, e.g. "Epoch [1/5][0.01][Train]".
func EpochDescription(epoch, epochs int, lr float64, phase string) string {
	return epochPrefix(epoch, epochs, lr) + "[" + phase + "]"
}

// ValidDescription aligns "[Valid]" under the phase of the matching
// training bar.
func ValidDescription(epoch, epochs int, lr float64) string {
	return strings.Repeat(" ", len(epochPrefix(epoch, epochs, lr))) + "[Valid]"
}

func epochPrefix(epoch, epochs int, lr float64) string {
	return fmt.Sprintf("Epoch [%d/%d][%g]", epoch, epochs, lr)
}

// SetDescription replaces the prefix shown before the bar.
func (pb *ProgressBar) SetDescription(description string) {
	pb.description = description
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	if metrics != nil {
		pb.metrics = metrics
	}
	pb.render()
}

// UpdateMetrics updates metrics without advancing progress
func (pb *ProgressBar) UpdateMetrics(metrics map[string]float64) {
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\r%s: %3.0f%%|%s| %d/%d", pb.description, percentage*100, bar, pb.current, pb.total)

	if pb.showETA && eta > 0 {
		fmt.Fprintf(&b, " [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		fmt.Fprintf(&b, " [%s<00:00", formatDuration(elapsed))
	}
	if pb.showRate && rate > 0 {
		fmt.Fprintf(&b, ", %.2fit/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := pb.metrics[key]
		if strings.Contains(key, "acc") {
			fmt.Fprintf(&b, ", %s=%.2f%%", key, value*100)
		} else {
			fmt.Fprintf(&b, ", %s=%.4f", key, value)
		}
	}
	b.WriteString("]")

	fmt.Fprint(pb.out, b.String())
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
