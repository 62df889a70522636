// Package training implements the online readout trainer: it accumulates
// (reservoir state, activity class) pairs, periodically fits a ridge
// regression readout on an ordered train/test split, evaluates it with
// macro-averaged classification metrics, and swaps the active model
// atomically so inference never observes a torn update.
package training

// Activity classes derived from mean movement magnitude. These are the
// training targets: the installation learns to recognize how busy the
// observed scene is.
const (
	ActivityLow = iota
	ActivityMedium
	ActivityHigh

	// NumClasses is the number of activity classes.
	NumClasses = 3
)

// ActivityName returns the class label used in logs and telemetry.
func ActivityName(class int) string {
	switch class {
	case ActivityLow:
		return "low"
	case ActivityMedium:
		return "medium"
	case ActivityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Thresholds divide mean movement magnitude into activity classes.
// Movement values live in [20, 127] after scaling, so the defaults split
// that range roughly in thirds.
type Thresholds struct {
	Medium float64
	High   float64
}

// DefaultThresholds returns the installation's class boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 55, High: 90}
}

// ClassifyActivity maps a mean movement magnitude to its class.
// Boundaries are inclusive on the lower edge of the upper class.
func (t Thresholds) ClassifyActivity(meanMagnitude float64) int {
	switch {
	case meanMagnitude >= t.High:
		return ActivityHigh
	case meanMagnitude >= t.Medium:
		return ActivityMedium
	default:
		return ActivityLow
	}
}

// Example is one (state, target) observation pair.
type Example struct {
	State  []float64
	Target int
}
