package monitor

import (
	"fmt"
	"time"
)

// FormatRate formats an operations rate, e.g. "12.3 ops/s".
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.1f ops/s", rate)
}

// FormatShare formats a ratio in [0, 1] as a whole percentage.
func FormatShare(ratio float64) string {
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	return fmt.Sprintf("%3.0f%%", ratio*100)
}

var memoryUnits = []string{"KB", "MB", "GB", "TB"}

// FormatMemory formats a byte count with binary units, e.g. "5.0 MB".
func FormatMemory(bytes uint64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%d B", bytes)
	}
	v := float64(bytes) / 1024
	unit := 0
	for v >= 1024 && unit < len(memoryUnits)-1 {
		v /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", v, memoryUnits[unit])
}

// FormatUptime formats d as "Xd Yh", "Xh Ym" or "Xm". Negative durations
// read as zero.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
