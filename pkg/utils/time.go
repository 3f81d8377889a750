package utils

import (
	"fmt"
	"time"
)

// FormatDuration formats a duration for user-facing call summaries.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

// RemainingSeconds returns the whole seconds until deadline, floored at
// zero.
func RemainingSeconds(now, deadline time.Time) int {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	// Round up so a deadline 0.5s away still reads as 1.
	return int((remaining + time.Second - 1) / time.Second)
}
