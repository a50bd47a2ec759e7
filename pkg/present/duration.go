package present

import (
	"fmt"
	"time"
)

// ElapsedSeconds returns whole seconds between start and end, clamped at zero.
// A nil end means "now".
func ElapsedSeconds(start time.Time, end *time.Time, now time.Time) int64 {
	stop := now
	if end != nil {
		stop = *end
	}
	d := stop.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// FormatDuration formats the elapsed time between start and end.
// An absent end is treated as the current wall-clock instant.
func FormatDuration(start time.Time, end *time.Time) string {
	return FormatDurationAt(start, end, time.Now())
}

// FormatDurationAt is FormatDuration with an explicit current instant.
//
//	>= 1h  "{h}h {m}m"
//	>= 1m  "{m}m {s}s"
//	else   "{s}s"
func FormatDurationAt(start time.Time, end *time.Time, now time.Time) string {
	seconds := ElapsedSeconds(start, end, now)
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds/60)%60)
	case seconds >= 60:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
