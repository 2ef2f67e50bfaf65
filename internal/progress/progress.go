// Package progress derives percent-complete, ETA and a textual progress
// bar for running invocations. Estimates are tri-state: parsed from a
// structured marker in tool output, derived from historical durations,
// or unknown (heartbeat only). A numeric percent is never fabricated for
// a silent tool.
package progress

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

// maxSamples bounds the per-tool duration window for the moving median.
const maxSamples = 50

// heartbeatStale is how long without output before a silent tool is
// reported as stalled rather than active.
const heartbeatStale = 15 * time.Second

// Estimate is one progress computation result.
type Estimate struct {
	Mode     registry.ProgressMode
	Percent  float64
	ETA      time.Duration
	ETAKnown bool
	Bar      string
}

// DurationStats is the moving per-tool duration statistic updated on
// every completed run. Kept per tool, not per fingerprint: the same tool
// against different parameters still informs the estimate.
type DurationStats struct {
	mu      sync.RWMutex
	samples map[string][]time.Duration
}

// NewDurationStats creates an empty statistic.
func NewDurationStats() *DurationStats {
	return &DurationStats{samples: make(map[string][]time.Duration)}
}

// Observe records a completed run's duration for tool.
func (s *DurationStats) Observe(tool string, d time.Duration) {
	if d <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	window := append(s.samples[tool], d)
	if len(window) > maxSamples {
		window = window[len(window)-maxSamples:]
	}
	s.samples[tool] = window
}

// Median returns the median observed duration for tool.
func (s *DurationStats) Median(tool string) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.samples[tool]
	if len(window) == 0 {
		return 0, false
	}

	sorted := make([]time.Duration, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2], true
}

// Mean returns the mean observed duration for tool.
func (s *DurationStats) Mean(tool string) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.samples[tool]
	if len(window) == 0 {
		return 0, false
	}

	var total time.Duration
	for _, d := range window {
		total += d
	}
	return total / time.Duration(len(window)), true
}

// Load seeds the window for tool, oldest first. Used to restore
// persisted history at startup.
func (s *DurationStats) Load(tool string, durations []time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := durations
	if len(window) > maxSamples {
		window = window[len(window)-maxSamples:]
	}
	s.samples[tool] = append([]time.Duration(nil), window...)
}

// Tracker computes progress estimates for running invocations.
type Tracker struct {
	stats *DurationStats
}

// NewTracker creates a tracker backed by the given duration statistics.
func NewTracker(stats *DurationStats) *Tracker {
	if stats == nil {
		stats = NewDurationStats()
	}
	return &Tracker{stats: stats}
}

// Stats exposes the underlying duration statistic (shared with the tool
// selector and the history store).
func (t *Tracker) Stats() *DurationStats {
	return t.stats
}

// Estimate computes the current progress for an invocation of tool whose
// recent output is output, with the given elapsed wall-clock time and
// time since the last output chunk.
func (t *Tracker) Estimate(tool *tools.Tool, output string, elapsed, sinceOutput time.Duration) Estimate {
	if tool != nil && tool.ProgressPattern != nil {
		if percent, ok := parseMarker(tool.ProgressPattern, output); ok {
			return Estimate{
				Mode:     registry.ProgressSignal,
				Percent:  percent,
				ETA:      computeETA(elapsed, percent),
				ETAKnown: percent > 0,
				Bar:      renderBar(percent),
			}
		}
	}

	if tool != nil {
		if median, ok := t.stats.Median(tool.Name); ok && median > 0 {
			percent := float64(elapsed) / float64(median) * 100
			if percent > 99 {
				percent = 99 // heuristic never claims done
			}
			return Estimate{
				Mode:     registry.ProgressHeuristic,
				Percent:  percent,
				ETA:      computeETA(elapsed, percent),
				ETAKnown: percent > 0,
				Bar:      renderBar(percent),
			}
		}
	}

	return Estimate{
		Mode: registry.ProgressUnknown,
		Bar:  renderHeartbeat(sinceOutput),
	}
}

// parseMarker extracts a percentage from output using the tool's
// progress pattern. Two capture groups are read as N/M, one group as a
// percentage. The last match in the output wins.
func parseMarker(pattern *regexp.Regexp, output string) (float64, bool) {
	matches := pattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[len(matches)-1]

	switch len(m) {
	case 2:
		percent, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return clampPercent(percent), true
	case 3:
		n, err1 := strconv.ParseFloat(m[1], 64)
		total, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil || total <= 0 {
			return 0, false
		}
		return clampPercent(n / total * 100), true
	}
	return 0, false
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// computeETA estimates remaining time from elapsed and percent done.
func computeETA(elapsed time.Duration, percent float64) time.Duration {
	if percent <= 0 {
		return 0
	}
	remaining := float64(elapsed) / percent * (100 - percent)
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining)
}

const barWidth = 20

// renderBar draws a textual progress bar like "[##########----------] 50.0%".
func renderBar(percent float64) string {
	filled := int(percent / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(strings.Repeat("#", filled))
	sb.WriteString(strings.Repeat("-", barWidth-filled))
	sb.WriteByte(']')
	fmt.Fprintf(&sb, " %.1f%%", percent)
	return sb.String()
}

// renderHeartbeat draws the activity indicator for tools with no
// progress signal at all.
func renderHeartbeat(sinceOutput time.Duration) string {
	if sinceOutput > heartbeatStale {
		return "[ no recent output ]"
	}
	return "[ active ]"
}
