package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Window selects how far back a filter reaches.
type Window int

const (
	WindowAll Window = iota
	WindowSinceStart
	Window24h
	Window48h
	Window72h
)

var windowNames = map[Window]string{
	WindowAll:        "all",
	WindowSinceStart: "session",
	Window24h:        "24h",
	Window48h:        "48h",
	Window72h:        "72h",
}

func (w Window) String() string {
	if name, ok := windowNames[w]; ok {
		return name
	}
	return fmt.Sprintf("Window(%d)", int(w))
}

// ParseWindow parses a window name as accepted on the command line.
func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return WindowAll, nil
	case "session", "since-start", "this-session":
		return WindowSinceStart, nil
	case "24h", "24":
		return Window24h, nil
	case "48h", "48":
		return Window48h, nil
	case "72h", "72":
		return Window72h, nil
	}
	return WindowAll, fmt.Errorf("unknown window %q (want all, session, 24h, 48h or 72h)", s)
}

// Cutoff returns the earliest modification time the window admits.
// ok is false for WindowAll.
func (c *Catalog) Cutoff(w Window) (cutoff time.Time, ok bool) {
	now := c.now()
	switch w {
	case WindowSinceStart:
		return c.startedAt, true
	case Window24h:
		return now.Add(-24 * time.Hour), true
	case Window48h:
		return now.Add(-48 * time.Hour), true
	case Window72h:
		return now.Add(-72 * time.Hour), true
	}
	return time.Time{}, false
}

// Filter returns the entries modified at or after the window's cutoff.
// The input is not modified and ordering is preserved.
func (c *Catalog) Filter(entries []LogEntry, w Window) []LogEntry {
	cutoff, ok := c.Cutoff(w)
	filtered := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		if ok && e.ModifiedAt.Before(cutoff) {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}
