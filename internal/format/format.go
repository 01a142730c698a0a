// Package format renders sizes, ages and log names for people.
package format

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const logNameLayout = "20060102-150405"

// Size renders a byte count, e.g. "1.2 MB".
func Size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// Count renders an integer with thousands separators.
func Count(n int) string {
	return humanize.Comma(int64(n))
}

// Relative renders how long ago t was: "Just now", "5 minutes ago",
// "1 hour ago", "3 days ago". Times in the future are "Unknown".
func Relative(t, now time.Time) string {
	d := now.Sub(t)
	if d < 0 {
		return "Unknown"
	}

	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	switch {
	case days > 0:
		return plural(days, "day") + " ago"
	case hours > 0:
		return plural(hours, "hour") + " ago"
	case minutes > 0:
		return plural(minutes, "minute") + " ago"
	}
	return "Just now"
}

// LogTimestamp turns an arcdps file name like "20251010-222255.zevtc" into
// "Oct 10, 2025 - 22:22". ok is false for names that do not follow the pattern.
func LogTimestamp(name string) (string, bool) {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if len(base) != len(logNameLayout) {
		return "", false
	}
	t, err := time.Parse(logNameLayout, base)
	if err != nil {
		return "", false
	}
	return t.Format("Jan 2, 2006 - 15:04"), true
}

// LogName returns the display name of a log file, formatted when asked and possible.
func LogName(path string, formatted bool) string {
	name := filepath.Base(path)
	if !formatted {
		return name
	}
	if ts, ok := LogTimestamp(name); ok {
		return ts
	}
	return name
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
