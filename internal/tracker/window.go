package tracker

import (
	"time"
)

// Window is the monitoring window used by daily runs to stop paging once
// records fall before it. Sources list newest first.
type Window struct {
	Enabled bool
	Days    int
	Loc     *time.Location
	Now     func() time.Time
}

// NewWindow returns a window covering the last days calendar days in loc
func NewWindow(enabled bool, days int, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	if days < 1 {
		days = 1
	}
	return Window{Enabled: enabled, Days: days, Loc: loc, Now: time.Now}
}

// Start returns the first calendar day inside the window, as UTC midnight
func (w Window) Start() time.Time {
	now := w.Now().In(w.Loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -(w.Days - 1))
}

// Outside reports whether a deal date falls before the window. It always
// returns false when the window is disabled.
func (w Window) Outside(date *time.Time) bool {
	if !w.Enabled || date == nil {
		return false
	}
	return date.Before(w.Start())
}
