// Package timecode renders video positions for humans.
package timecode

import (
	"fmt"
	"math"
)

// Format renders seconds as H:MM:SS when at least one hour has elapsed,
// otherwise as M:SS. Fractional seconds are truncated.
func Format(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}

	hours := int(seconds / 3600)
	minutes := int(math.Mod(seconds, 3600) / 60)
	secs := int(math.Mod(seconds, 60))

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
