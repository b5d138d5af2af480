package run

import (
	"fmt"
	"time"
)

const (
	// MaxRunningProgress is the ceiling while the child is still alive.
	MaxRunningProgress = 95
	// DefaultProgressCeiling is the elapsed time at which the estimate parks.
	DefaultProgressCeiling = 240 * time.Second
)

// Progress estimates completion from elapsed wall-clock time alone. It
// grows linearly to MaxRunningProgress at ceiling and stays there until the
// run finalizes. It says nothing about how far the scan actually got.
func Progress(elapsed, ceiling time.Duration) int {
	if ceiling <= 0 {
		ceiling = DefaultProgressCeiling
	}
	if elapsed <= 0 {
		return 0
	}
	if elapsed > ceiling {
		elapsed = ceiling
	}
	pct := int(float64(elapsed) / float64(ceiling) * MaxRunningProgress)
	if pct > MaxRunningProgress {
		pct = MaxRunningProgress
	}
	return pct
}

// ElapsedText renders d as mm:ss.
func ElapsedText(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
