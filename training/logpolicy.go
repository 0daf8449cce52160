package training

import (
	"strings"

	"github.com/pkg/errors"
)

// LogPolicy decides on which steps the progress display gets fresh metrics.
type LogPolicy int

const (
	// EveryN refreshes on steps that are multiples of the interval.
	EveryN LogPolicy = iota
	// SkipEveryN refreshes on every step except multiples of the interval.
	SkipEveryN
	// Always refreshes on every step.
	Always
)

func (p LogPolicy) String() string {
	switch p {
	case EveryN:
		return "every-n"
	case SkipEveryN:
		return "skip-every-n"
	case Always:
		return "always"
	default:
		return "unknown"
	}
}

// ParseLogPolicy maps a name back to a LogPolicy. The empty string is
// EveryN.
func ParseLogPolicy(name string) (LogPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "every-n":
		return EveryN, nil
	case "skip-every-n":
		return SkipEveryN, nil
	case "always":
		return Always, nil
	default:
		return EveryN, errors.Errorf("unknown log policy %q", name)
	}
}

// ShouldLog reports whether step (0-based) is a refresh step. A
// non-positive interval refreshes every step.
func (p LogPolicy) ShouldLog(step, interval int) bool {
	if p == Always || interval <= 0 {
		return true
	}
	hit := step%interval == 0
	if p == SkipEveryN {
		return !hit
	}
	return hit
}
