package utils

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration formats a duration in a human-readable format
// Examples: "45ms", "1.5s", "2m 30s", "1h 15m"
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if minutes < 60 {
		if seconds > 0 {
			return fmt.Sprintf("%dm %ds", minutes, seconds)
		}
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	minutes = minutes % 60
	if minutes > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dh", hours)
}

// TruncateForSlack keeps the head of a message under maxLen bytes, cutting at the last
// newline when one is close to the limit
func TruncateForSlack(text string, maxLen int) string {
	const marker = "\n...(truncated)"
	if len(text) <= maxLen {
		return text
	}
	if maxLen <= len(marker) {
		return marker[1:]
	}

	truncated := text[:maxLen-len(marker)]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 && len(truncated)-idx < 100 {
		truncated = truncated[:idx]
	}
	return truncated + marker
}
